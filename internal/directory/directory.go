package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrUnavailable reports a network or parse failure talking to the
// directory. Recoverable: callers fall back to Cached() or retry.
var ErrUnavailable = errors.New("directory unavailable")

// ErrRoomExists reports that a room name is already taken. Non-fatal:
// callers should join the existing room instead.
var ErrRoomExists = errors.New("room already exists")

// Room is one record from the room directory.
type Room struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Public      bool   `json:"is_public"`
	MaxUsers    int    `json:"max_users"`
	UserCount   int    `json:"user_count"`
}

// CreateOptions are the optional fields of a new room. Zero values get
// sensible defaults: DisplayName from the name, MaxUsers 100, public.
type CreateOptions struct {
	DisplayName string
	Description string
	Private     bool
	MaxUsers    int
}

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() (string, bool)
}

// defaultRooms seeds the cache so room selection works before the
// first successful directory fetch.
var defaultRooms = []Room{
	{Name: "general", DisplayName: "General", Description: "General discussion", Public: true, MaxUsers: 100},
	{Name: "random", DisplayName: "Random", Description: "Random conversations", Public: true, MaxUsers: 100},
	{Name: "tech", DisplayName: "Tech Talk", Description: "Technology discussions", Public: true, MaxUsers: 100},
	{Name: "gaming", DisplayName: "Gaming", Description: "Gaming discussions", Public: true, MaxUsers: 100},
}

// Client fetches and creates room records against the remote directory
// and keeps a local cache of the last known set. The cache is replaced
// wholesale on every successful List; it is never patched in place.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	log    zerolog.Logger

	mu    sync.RWMutex
	cache []Room
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for all calls.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Client) {
		d.http = c
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Client) {
		d.log = l
	}
}

// NewClient creates a directory client for the API at baseURL. The
// cache starts as the default room set.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	d := &Client{
		base:   baseURL,
		http:   http.DefaultClient,
		tokens: tokens,
		log:    zerolog.Nop(),
		cache:  slices.Clone(defaultRooms),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// List fetches the full room set from the directory. On success the
// local cache is replaced with the fetched set; on failure the cache
// is left untouched and ErrUnavailable is returned so the caller can
// fall back to Cached.
func (d *Client) List(ctx context.Context) ([]Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/api/rooms", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	d.authorize(req)

	resp, err := d.http.Do(req)
	if err != nil {
		d.log.Warn().Err(err).Msg("directory: list failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.log.Warn().Int("status", resp.StatusCode).Msg("directory: list rejected")
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var rooms []Room
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if rooms == nil {
		rooms = []Room{}
	}

	d.mu.Lock()
	d.cache = rooms
	d.mu.Unlock()

	return slices.Clone(rooms), nil
}

// Create registers a new room with the directory. A name collision is
// reported as ErrRoomExists. The cache is not touched; the next List
// picks the room up.
func (d *Client) Create(ctx context.Context, name string, opts CreateOptions) (Room, error) {
	if opts.DisplayName == "" {
		opts.DisplayName = name
	}
	if opts.MaxUsers == 0 {
		opts.MaxUsers = 100
	}

	body, err := json.Marshal(map[string]any{
		"name":         name,
		"display_name": opts.DisplayName,
		"description":  opts.Description,
		"is_public":    !opts.Private,
		"max_users":    opts.MaxUsers,
	})
	if err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	d.authorize(req)

	resp, err := d.http.Do(req)
	if err != nil {
		d.log.Warn().Err(err).Str("room", name).Msg("directory: create failed")
		return Room{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusBadRequest, http.StatusConflict:
		return Room{}, fmt.Errorf("%w: %s", ErrRoomExists, name)
	default:
		return Room{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var room Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return Room{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	d.log.Info().Str("room", room.Name).Msg("directory: room created")
	return room, nil
}

// Cached returns a copy of the last known room set.
func (d *Client) Cached() []Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.cache)
}

// Lookup returns the cached record for a room name, if known.
func (d *Client) Lookup(name string) (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Find(d.cache, func(r Room) bool { return r.Name == name })
}

func (d *Client) authorize(req *http.Request) {
	if d.tokens == nil {
		return
	}
	if token, ok := d.tokens.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
