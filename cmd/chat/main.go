package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/christopherjohns/roomchat/internal/auth"
	"github.com/christopherjohns/roomchat/internal/config"
	"github.com/christopherjohns/roomchat/internal/directory"
	"github.com/christopherjohns/roomchat/internal/membership"
	"github.com/christopherjohns/roomchat/internal/protocol"
	"github.com/christopherjohns/roomchat/internal/ws"
)

func main() {
	configPath := pflag.String("config", "", "path to a config file")
	apiURL := pflag.String("api", "", "API base URL (overrides the config file)")
	wsURL := pflag.String("ws", "", "websocket base URL (overrides the config file)")
	register := pflag.Bool("register", false, "create a new account before logging in")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *wsURL != "" {
		cfg.WSURL = *wsURL
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx := context.Background()
	stdin := bufio.NewReader(os.Stdin)

	session := auth.NewSession(cfg.APIURL, auth.WithLogger(log.Logger))
	if *register {
		runRegister(ctx, stdin, session)
	}
	cred := runLogin(ctx, stdin, session)

	dir := directory.NewClient(cfg.APIURL, session, directory.WithLogger(log.Logger))
	tracker := membership.NewTracker()
	mgr := ws.NewManager(cfg.WSURL, cred.Username, session, tracker,
		ws.WithEventBuffer(cfg.EventBuffer),
		ws.WithWriteTimeout(cfg.WriteTimeout),
		ws.WithLogger(log.Logger),
	)
	defer mgr.Close()

	go printEvents(mgr)

	printRooms(ctx, dir)
	fmt.Println("commands: /rooms /join <room> /create <room> [display name] /users /reconnect /quit")

	for {
		line, err := stdin.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			switch err := mgr.Send(line); {
			case errors.Is(err, protocol.ErrEmptyMessage):
				// Nothing to send.
			case errors.Is(err, ws.ErrNotConnected):
				fmt.Println("not connected; /join a room first")
			case err != nil:
				fmt.Println("send failed:", err)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return
		case "/rooms":
			printRooms(ctx, dir)
		case "/join":
			if len(fields) != 2 {
				fmt.Println("usage: /join <room>")
				continue
			}
			if err := mgr.Connect(ctx, fields[1]); err != nil {
				fmt.Println("join failed:", err)
			}
		case "/create":
			if len(fields) < 2 {
				fmt.Println("usage: /create <room> [display name]")
				continue
			}
			createAndJoin(ctx, dir, mgr, fields[1], strings.Join(fields[2:], " "))
		case "/users":
			printUsers(tracker)
		case "/reconnect":
			if err := mgr.Reconnect(ctx); err != nil {
				fmt.Println("reconnect failed:", err)
			}
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

// runLogin prompts until a login succeeds.
func runLogin(ctx context.Context, stdin *bufio.Reader, session *auth.Session) *auth.Credential {
	for {
		username := prompt(stdin, "username: ")
		password := prompt(stdin, "password: ")
		cred, err := session.Login(ctx, username, password)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Printf("logged in as %s\n", cred.Username)
		return cred
	}
}

// runRegister prompts for a new account until registration succeeds.
func runRegister(ctx context.Context, stdin *bufio.Reader, session *auth.Session) {
	for {
		profile := auth.Profile{
			Username:        prompt(stdin, "new username: "),
			Email:           prompt(stdin, "email: "),
			Password:        prompt(stdin, "password: "),
			ConfirmPassword: prompt(stdin, "confirm password: "),
		}
		user, err := session.Register(ctx, profile)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Printf("registered %s\n", user.Username)
		return
	}
}

// createAndJoin creates a room, treating a name collision as a join of
// the existing room.
func createAndJoin(ctx context.Context, dir *directory.Client, mgr *ws.Manager, name, displayName string) {
	_, err := dir.Create(ctx, name, directory.CreateOptions{DisplayName: displayName})
	switch {
	case errors.Is(err, directory.ErrRoomExists):
		fmt.Printf("room %s already exists, joining it\n", name)
	case err != nil:
		fmt.Println("create failed:", err)
		return
	}
	if err := mgr.Connect(ctx, name); err != nil {
		fmt.Println("join failed:", err)
	}
}

// printRooms shows the directory listing, falling back to the local
// cache when the directory is unreachable.
func printRooms(ctx context.Context, dir *directory.Client) {
	rooms, err := dir.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("directory unreachable, showing cached rooms")
		rooms = dir.Cached()
	}
	for _, r := range rooms {
		fmt.Printf("  %-12s %-20s %d users\n", r.Name, r.DisplayName, r.UserCount)
	}
}

func printUsers(tracker *membership.Tracker) {
	users, ok := tracker.Current()
	if !ok {
		fmt.Println("user list unavailable")
		return
	}
	fmt.Printf("%d user(s): %s\n", len(users), strings.Join(users, ", "))
}

// printEvents renders the manager's event stream.
func printEvents(mgr *ws.Manager) {
	for ev := range mgr.Events() {
		switch ev.Type {
		case ws.EventChat:
			fmt.Printf("[%s] %s: %s\n", ev.Room, ev.Sender, ev.Message)
		case ws.EventSystem:
			fmt.Printf("[%s] * %s\n", ev.Room, ev.Message)
		case ws.EventError:
			log.Warn().Str("room", ev.Room).Msg(ev.Message)
		}
	}
}

func prompt(stdin *bufio.Reader, label string) string {
	fmt.Print(label)
	line, err := stdin.ReadString('\n')
	if err != nil {
		os.Exit(0)
	}
	return strings.TrimSpace(line)
}
