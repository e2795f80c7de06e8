// Command chatclient is a terminal front end for the portal chat.
//
// Lines typed are sent to the active room. Commands:
//
//	/rooms          list rooms with unread counts
//	/unread         refresh the unread summary
//	/students       list students (staff only)
//	/open <id>      switch to another room
//	/older          load older history
//	/delete <id>    delete one of your messages
//	/resend <cid>   resend an unsent message
//	/read           mark the room read
//	/quit           leave
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"portal-chat/internal/api"
	"portal-chat/internal/chat"
	"portal-chat/internal/config"
	"portal-chat/internal/models"
	"portal-chat/internal/session"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	role, err := models.ParseRole(cfg.UserRole)
	if err != nil {
		log.Fatalf("invalid role: %v", err)
	}

	sess, err := session.New(cfg.UserID, role, cfg.UserName, cfg.BaseURL, cfg.SocketURL, cfg.Cookie())
	if err != nil {
		log.Fatalf("invalid session: %v", err)
	}
	svc, err := api.NewClient(sess, cfg.RequestTimeout)
	if err != nil {
		log.Fatalf("failed to build api client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newPrinter()
	client := chat.New(sess, svc, chat.Options{
		PageSize: cfg.PageSize,
		Connection: chat.ConnectionConfig{
			HeartbeatInterval: cfg.HeartbeatInterval,
			MaxAttempts:       cfg.MaxReconnectAttempts,
		},
		OnMessages: out.messages,
		OnState:    out.state,
		OnTyping:   out.typing,
		OnError: func(err error) {
			out.line("! %v", err)
		},
	})
	defer client.Close()

	roomID, err := pickRoom(ctx, client, cfg, role)
	if err != nil {
		log.Fatalf("no room: %v", err)
	}
	if err := client.OpenRoom(ctx, roomID); err != nil {
		log.Fatalf("open room %d: %v", roomID, err)
	}
	client.MarkRead()
	if total, err := client.RefreshUnread(ctx); err != nil {
		out.line("! %v", err)
	} else if total > 0 {
		out.line("* %d unread in other rooms", total)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, client, out, role, line); quit {
				return
			}
		}
	}
}

func pickRoom(ctx context.Context, client *chat.Client, cfg config.Client, role models.Role) (int64, error) {
	if cfg.RoomID > 0 {
		return cfg.RoomID, nil
	}
	studentID := cfg.StudentID
	if role == models.RoleStudent {
		studentID = cfg.UserID
	}
	staffRole, err := models.ParseRole(cfg.StaffRole)
	if err != nil {
		return 0, err
	}
	room, err := client.CreateOrGetRoom(ctx, studentID, staffRole)
	if err != nil {
		return 0, err
	}
	return room.ID, nil
}

func run(ctx context.Context, client *chat.Client, out *printer, viewer models.Role, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return false
	case "/quit":
		return true
	case "/rooms":
		rooms, err := client.ListRooms(ctx)
		if err != nil {
			out.line("! %v", err)
			return false
		}
		for _, r := range rooms {
			out.line("  #%d %s (%d unread)", r.ID, r.DisplayName(viewer), r.UnreadCount)
		}
	case "/unread":
		total, err := client.RefreshUnread(ctx)
		if err != nil {
			out.line("! %v", err)
			return false
		}
		out.line("* %d unread", total)
	case "/students":
		students, err := client.ListStudents(ctx)
		if err != nil {
			out.line("! %v", err)
			return false
		}
		for _, st := range students {
			if st.RoomID == nil {
				out.line("  %d %s (no room)", st.ID, st.Name)
				continue
			}
			out.line("  %d %s room #%d (%d unread)", st.ID, st.Name, *st.RoomID, st.UnreadCount)
		}
	case "/open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			out.line("! usage: /open <room id>")
			return false
		}
		out.reset()
		if err := client.OpenRoom(ctx, id); err != nil {
			out.line("! %v", err)
			return false
		}
		client.MarkRead()
	case "/older":
		more, err := client.LoadOlder(ctx)
		if err != nil {
			out.line("! %v", err)
			return false
		}
		if !more {
			out.line("-- start of conversation --")
		}
	case "/delete":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			out.line("! usage: /delete <message id>")
			return false
		}
		if err := client.Delete(ctx, id); err != nil {
			out.line("! %v", err)
		}
	case "/resend":
		if _, err := client.Resend(ctx, arg); err != nil {
			out.line("! %v", err)
		}
	case "/read":
		client.MarkRead()
	default:
		if strings.HasPrefix(cmd, "/") {
			out.line("! unknown command %s", cmd)
			return false
		}
		client.Typing()
		if _, err := client.Send(ctx, line); err != nil {
			var delivery *chat.DeliveryError
			if errors.As(err, &delivery) {
				out.line("! not sent, retry with /resend %s", delivery.ClientID)
				return false
			}
			out.line("! %v", err)
		}
	}
	return false
}

// printer serializes terminal output from listener callbacks.
type printer struct {
	mu   sync.Mutex
	seen map[string]string
}

func newPrinter() *printer {
	return &printer{seen: make(map[string]string)}
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf(format+"\n", args...)
}

func (p *printer) reset() {
	p.mu.Lock()
	p.seen = make(map[string]string)
	p.mu.Unlock()
}

// messages prints timeline entries that are new or whose rendering changed.
func (p *printer) messages(msgs []models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		key := m.ClientID
		if key == "" {
			key = "id:" + strconv.FormatInt(m.ID, 10)
		}
		text := render(m)
		if p.seen[key] == text {
			continue
		}
		p.seen[key] = text
		fmt.Println(text)
	}
}

func (p *printer) state(s models.ConnectionState) {
	if s.ReconnectAttempt > 0 {
		p.line("* %s (attempt %d)", s.Status, s.ReconnectAttempt)
		return
	}
	p.line("* %s", s.Status)
}

func (p *printer) typing(states []models.TypingState) {
	for _, s := range states {
		name := s.UserName
		if name == "" {
			name = "someone"
		}
		p.line("~ %s is typing", name)
	}
}

func render(m models.Message) string {
	var mark string
	switch {
	case m.Status == models.StatusPending:
		mark = " …"
	case m.Status == models.StatusUnsent:
		mark = " [unsent " + m.ClientID + "]"
	case m.ReadAt != nil:
		mark = " ✓✓"
	}
	id := "-"
	if m.ID != 0 {
		id = strconv.FormatInt(m.ID, 10)
	}
	return fmt.Sprintf("[%s %s] %s: %s%s", id, m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Content, mark)
}
