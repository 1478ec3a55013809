package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticToken string

func (s staticToken) Token() (string, bool) {
	return string(s), s != ""
}

func TestCacheStartsWithDefaults(t *testing.T) {
	d := NewClient("http://127.0.0.1:0", nil)

	rooms := d.Cached()
	if len(rooms) != 4 {
		t.Fatalf("expected 4 default rooms, got %d", len(rooms))
	}
	want := []string{"general", "random", "tech", "gaming"}
	for i, name := range want {
		if rooms[i].Name != name {
			t.Errorf("default room %d: expected %q, got %q", i, name, rooms[i].Name)
		}
	}
}

func TestListReplacesCache(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"name": "general", "display_name": "General", "user_count": 3, "is_public": true, "max_users": 100},
		})
	}))
	defer ts.Close()

	d := NewClient(ts.URL, staticToken("tok"))
	rooms, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected exactly the fetched record, got %d rooms", len(rooms))
	}
	if rooms[0].Name != "general" || rooms[0].DisplayName != "General" || rooms[0].UserCount != 3 {
		t.Errorf("unexpected record: %+v", rooms[0])
	}

	// The default four-room set is fully replaced, not merged.
	cached := d.Cached()
	if len(cached) != 1 {
		t.Fatalf("expected cache replaced with 1 room, got %d", len(cached))
	}
}

func TestListFailureLeavesCache(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	d := NewClient(ts.URL, nil)
	_, err := d.List(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(d.Cached()) != 4 {
		t.Error("expected cache to keep the default set after a failed fetch")
	}
}

func TestListNetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // immediately, so dials fail

	d := NewClient(ts.URL, nil)
	if _, err := d.List(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestListMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer ts.Close()

	d := NewClient(ts.URL, nil)
	if _, err := d.List(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCreateRoom(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":         body["name"],
			"display_name": body["display_name"],
			"is_public":    body["is_public"],
			"max_users":    body["max_users"],
			"user_count":   0,
		})
	}))
	defer ts.Close()

	d := NewClient(ts.URL, staticToken("tok"))
	room, err := d.Create(context.Background(), "music", CreateOptions{Description: "All things music"})
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if room.Name != "music" {
		t.Errorf("expected room 'music', got %q", room.Name)
	}
	if room.DisplayName != "music" {
		t.Errorf("expected display name defaulted from name, got %q", room.DisplayName)
	}
	if room.MaxUsers != 100 {
		t.Errorf("expected max users defaulted to 100, got %d", room.MaxUsers)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}

	// Create must not touch the cache.
	if len(d.Cached()) != 4 {
		t.Error("expected cache untouched by Create")
	}
}

func TestCreateExistingRoom(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Room name already exists"})
	}))
	defer ts.Close()

	d := NewClient(ts.URL, staticToken("tok"))
	_, err := d.Create(context.Background(), "tech", CreateOptions{})
	if !errors.Is(err, ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}

	// The recovery path: refresh the listing and join the existing room.
	if _, ok := d.Lookup("tech"); !ok {
		t.Error("expected 'tech' to still be resolvable from the cached set")
	}
}

func TestCachedReturnsCopy(t *testing.T) {
	d := NewClient("http://127.0.0.1:0", nil)

	rooms := d.Cached()
	rooms[0].Name = "mutated"

	again := d.Cached()
	if again[0].Name != "general" {
		t.Error("Cached must return a copy, not the internal slice")
	}
	// The seed is a copy too; the package default set must survive.
	if defaultRooms[0].Name != "general" {
		t.Errorf("default room set was rewritten: %+v", defaultRooms[0])
	}
}

func TestListReturnsCopy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"name": "general", "display_name": "General", "is_public": true, "max_users": 100},
		})
	}))
	defer ts.Close()

	d := NewClient(ts.URL, nil)
	rooms, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	rooms[0].Name = "mutated"

	if cached := d.Cached(); cached[0].Name != "general" {
		t.Error("mutating List's return must not rewrite the cache")
	}
}

func TestLookup(t *testing.T) {
	d := NewClient("http://127.0.0.1:0", nil)
	if _, ok := d.Lookup("nope"); ok {
		t.Error("expected miss for unknown room")
	}
	room, ok := d.Lookup("gaming")
	if !ok || room.DisplayName != "Gaming" {
		t.Errorf("expected default 'gaming' room, got %+v ok=%v", room, ok)
	}
}
