// Command roomclient is a terminal client for the music chat room.
//
// Lines starting with "/" are commands (try /help); anything else is sent
// as a chat message.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/music-chat-room/pkg/client"
	"github.com/music-chat-room/pkg/protocol"
)

const help = `commands:
  /register <user> <password> <confirm>
  /login <user> <password>
  /logout
  /who                     online users
  /queue                   show the queue
  /add <url> [title]       append a track
  /rm <id>                 remove a track
  /share <url> [title]     post a track in the chat
  /upload <file>           upload a file and queue it
  /play <n> | /next | /prev | /ended
  /quit`

type app struct {
	api         *client.API
	sessionPath string
	room        *client.Room
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	a := &app{
		api:         client.NewAPI(getEnv("ROOM_SERVER", "http://localhost:8000")),
		sessionPath: getEnv("ROOM_SESSION", defaultSessionPath()),
	}

	if session, err := client.LoadSession(a.sessionPath); err == nil {
		if err := a.enter(session); err != nil {
			fmt.Printf("saved session rejected: %v\n", err)
		}
	} else {
		fmt.Println("not logged in; use /login or /register")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if err := a.handle(line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}

	if a.room != nil {
		_ = a.room.Channel().Close()
	}
}

func (a *app) enter(session *client.Session) error {
	var room *client.Room
	room = client.NewRoom(a.api, session, client.WithOnChange(func(kind protocol.Kind) {
		render(room, kind)
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := room.Join(ctx); err != nil {
		var rejected *client.AuthRejectedError
		if errors.As(err, &rejected) {
			_ = client.ClearSession(a.sessionPath)
		}
		return err
	}
	a.room = room
	fmt.Printf("joined as %s\n", session.Username)
	for _, msg := range room.Messages() {
		printMessage(msg)
	}
	return nil
}

func (a *app) handle(line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if !strings.HasPrefix(line, "/") {
		if a.room == nil {
			return client.ErrUnauthenticated
		}
		return a.room.Say(line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Println(help)
		return nil
	case "/register":
		if len(args) != 3 {
			return errors.New("usage: /register <user> <password> <confirm>")
		}
		if _, err := a.api.Register(ctx, args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("registered; now /login")
		return nil
	case "/login":
		if len(args) != 2 {
			return errors.New("usage: /login <user> <password>")
		}
		if a.room != nil {
			return errors.New("already logged in")
		}
		session, err := a.api.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if err := client.SaveSession(a.sessionPath, session); err != nil {
			return err
		}
		return a.enter(session)
	}

	if a.room == nil {
		return client.ErrUnauthenticated
	}

	switch cmd {
	case "/logout":
		err := a.room.Logout(ctx)
		a.room = nil
		if cerr := client.ClearSession(a.sessionPath); cerr != nil {
			return cerr
		}
		return err
	case "/who":
		for _, u := range a.room.OnlineUsers() {
			fmt.Printf("  %s\n", u.Username)
		}
	case "/queue":
		a.printQueue()
	case "/add", "/share":
		if len(args) == 0 {
			return fmt.Errorf("usage: %s <url> [title]", cmd)
		}
		title := strings.Join(args[1:], " ")
		if cmd == "/add" {
			return a.room.Enqueue(args[0], title)
		}
		return a.room.Share(args[0], title)
	case "/rm":
		if len(args) != 1 {
			return errors.New("usage: /rm <id>")
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		return a.room.Dequeue(id)
	case "/upload":
		if len(args) != 1 {
			return errors.New("usage: /upload <file>")
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		upload, err := a.room.UploadAndEnqueue(ctx, args[0], f)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s\n", upload.Filename)
	case "/play":
		if len(args) != 1 {
			return errors.New("usage: /play <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[0])
		}
		if err := a.room.Play(n); err != nil {
			return err
		}
		a.printNowPlaying()
	case "/next":
		a.room.Next()
		a.printNowPlaying()
	case "/prev":
		a.room.Previous()
		a.printNowPlaying()
	case "/ended":
		a.room.TrackEnded()
		a.printNowPlaying()
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
	return nil
}

func render(room *client.Room, kind protocol.Kind) {
	switch kind {
	case protocol.KindNewMessage:
		messages := room.Messages()
		if len(messages) > 0 {
			printMessage(messages[len(messages)-1])
		}
	case protocol.KindUserJoined, protocol.KindUserLeft:
		fmt.Printf("* %d online\n", len(room.OnlineUsers()))
	case protocol.KindQueueUpdate:
		fmt.Printf("* queue has %d tracks\n", len(room.Queue()))
	}
}

func (a *app) printQueue() {
	now, playing := a.room.NowPlaying()
	for _, entry := range a.room.Queue() {
		marker := " "
		if playing && entry.ID == now.ID {
			marker = ">"
		}
		fmt.Printf("%s %d. [%d] %s (%s)\n", marker, entry.Position, entry.ID, entry.Title, entry.Username)
	}
}

func (a *app) printNowPlaying() {
	now, ok := a.room.NowPlaying()
	if !ok {
		fmt.Println("nothing playing")
		return
	}
	fmt.Printf("now playing: %s by %s\n  %s\n", now.Title, now.Username, a.api.ResolveURL(now.MusicURL))
}

func printMessage(msg protocol.ChatEvent) {
	stamp := msg.CreatedAt.Local().Format("15:04")
	line := fmt.Sprintf("[%s] %s: %s", stamp, msg.Username, msg.Content)
	switch msg.MessageType {
	case protocol.MessageMusic:
		line += " <" + msg.MusicURL + ">"
	case protocol.MessageSystem:
		line = fmt.Sprintf("[%s] * %s", stamp, msg.Content)
	}
	fmt.Println(line)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(dir, "music-chat-room", "session.json")
}
