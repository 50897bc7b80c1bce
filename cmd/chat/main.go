package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"marketchat/pkg/api"
	"marketchat/pkg/conversation"
	"marketchat/pkg/logging"
	"marketchat/pkg/protocol"
	"marketchat/pkg/realtime"
)

// stdoutNotifier prints session side effects straight to the terminal.
type stdoutNotifier struct{}

func (stdoutNotifier) Toast(message string) {
	fmt.Printf("! %s\n", message)
}

func (stdoutNotifier) IncomingMessage(sender protocol.User, preview string) {
	fmt.Printf("* %s: %s\n", sender.Name, preview)
}

func confirmPrompt(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func main() {
	godotenv.Load()

	var (
		server = flag.String("server", "http://localhost:8080", "collaborator base URL")
		wsURL  = flag.String("ws", "ws://localhost:8080/ws/chat", "websocket endpoint")
		userID = flag.String("user", os.Getenv("CHAT_USER_ID"), "your user UUID")
	)
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "user id is required (-user or CHAT_USER_ID)")
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: "warn", Service: "chat"})

	rt := realtime.NewClient(*wsURL, *userID)
	collab := api.NewClient(*server, *userID)
	session := conversation.NewSession(*userID, rt, collab,
		conversation.WithNotifier(stdoutNotifier{}),
		conversation.WithConfirm(confirmPrompt),
	)

	ctx := context.Background()
	if err := rt.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	fmt.Println("commands: /rooms /open <n> /ad <ad-id> /reply <msg-id> /edit <msg-id> <text> /del <msg-id> /history /who /close /quit")

	var rooms []protocol.RoomSummary
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if err := session.Send(ctx, conversation.SendInput{Text: line}); err != nil {
				fmt.Printf("! send: %v\n", err)
			}
			continue
		}

		cmd, rest, _ := strings.Cut(line[1:], " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "quit":
			return

		case "rooms":
			var err error
			rooms, err = collab.ListRooms(ctx)
			if err != nil {
				fmt.Printf("! list rooms: %v\n", err)
				continue
			}
			for i, r := range rooms {
				other, _ := r.Counterpart(*userID)
				unread := ""
				if r.Unread > 0 {
					unread = fmt.Sprintf(" (%d unread)", r.Unread)
				}
				fmt.Printf("%2d. %s%s — %s\n", i+1, other.Name, unread, r.LastMessage)
			}

		case "open":
			var idx int
			if _, err := fmt.Sscanf(rest, "%d", &idx); err != nil || idx < 1 || idx > len(rooms) {
				fmt.Println("! usage: /open <n>  (run /rooms first)")
				continue
			}
			if err := session.Open(ctx, rooms[idx-1].ChatRoom); err != nil {
				fmt.Printf("! open: %v\n", err)
				continue
			}
			printHistory(session, *userID)

		case "ad":
			if rest == "" {
				fmt.Println("! usage: /ad <ad-id>")
				continue
			}
			if err := session.OpenFromAd(ctx, rest); err != nil {
				fmt.Printf("! open from ad: %v\n", err)
				continue
			}
			if sel := session.Selected(); sel != nil && sel.ShowBanner && sel.Ad != nil {
				fmt.Printf("-- about: %s (%d) --\n", sel.Ad.Title, sel.Ad.Price)
			}
			printHistory(session, *userID)

		case "reply":
			if err := session.Reply(rest); err != nil {
				fmt.Printf("! reply: %v\n", err)
			}

		case "edit":
			msgID, text, _ := strings.Cut(rest, " ")
			if msgID == "" || text == "" {
				fmt.Println("! usage: /edit <msg-id> <text>")
				continue
			}
			if err := session.Edit(ctx, msgID, text); err != nil {
				fmt.Printf("! edit: %v\n", err)
			}

		case "del":
			if err := session.Delete(ctx, rest); err != nil {
				fmt.Printf("! delete: %v\n", err)
			}

		case "history":
			printHistory(session, *userID)

		case "who":
			sel := session.Selected()
			if sel == nil {
				fmt.Println("! no chat open")
				continue
			}
			state := "offline"
			if session.Presence.IsOnline(sel.Counterpart.ID) {
				state = "online"
			}
			if session.Presence.IsTyping(sel.Counterpart.ID) {
				state += ", typing"
			}
			fmt.Printf("%s — %s\n", sel.Counterpart.Name, state)

		case "close":
			session.CloseChat()

		default:
			fmt.Printf("! unknown command: /%s\n", cmd)
		}
	}
}

func printHistory(session *conversation.Session, userID string) {
	for _, m := range session.Messages.Snapshot() {
		who := m.User.Name
		if m.User.ID == userID {
			who = "me"
		}
		flags := ""
		if m.IsEdited {
			flags += " (edited)"
		}
		if m.DeliveredAt != nil {
			flags += " ✓"
		}
		fmt.Printf("[%s] %s: %s%s  <%s>\n",
			m.CreatedAt.Format(time.Kitchen), who, m.Message, flags, m.ID)
	}
}
