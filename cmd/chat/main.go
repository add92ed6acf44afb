// chat is the command line client for coursechat.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/clients/go/chat"
	"github.com/eldtechnologies/coursechat/internal/config"
	"github.com/eldtechnologies/coursechat/internal/models"
	"github.com/eldtechnologies/coursechat/internal/tui"
)

// tuiScrollThreshold is the auto-scroll threshold in terminal lines.
const tuiScrollThreshold = 3

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfgPath := config.DefaultClientPath()
	cfg, err := config.LoadClient(cfgPath)
	exitOnError(err)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := chat.NewClient(cfg.APIURL, nil, cfg.RequestTimeout.Duration)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat login <name> <password>")
			os.Exit(1)
		}
		resp, err := client.Login(ctx, os.Args[2], os.Args[3])
		exitOnError(err)
		saveSession(cfgPath, cfg, resp)
		fmt.Printf("Logged in as %s (%s)\n", resp.User.Name, resp.User.Type)

	case "register":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat register <name> <password> [student|instructor]")
			os.Exit(1)
		}
		userType := models.UserStudent
		if len(os.Args) > 4 {
			userType = models.UserType(os.Args[4])
		}
		resp, err := client.Register(ctx, os.Args[2], os.Args[3], userType)
		exitOnError(err)
		saveSession(cfgPath, cfg, resp)
		fmt.Printf("Registered as %s: %s\n", resp.User.Name, resp.User.ID)

	case "logout":
		cfg.Token, cfg.UserID, cfg.UserType = "", "", ""
		exitOnError(config.SaveClient(cfgPath, cfg))
		fmt.Println("Logged out")

	case "whoami":
		session := requireSession(cfg)
		printJSON(session.User())

	case "conversations":
		session := requireSession(cfg)
		client = client.WithCredentials(session)
		convs, err := client.ListConversations(ctx)
		exitOnError(err)
		names := resolveNames(ctx, client, session.UserID(), convs)
		for _, c := range convs {
			last := ""
			if c.LastMessage != nil {
				last = truncate(c.LastMessage.Body, 40)
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d unread]", c.UnreadCount)
			}
			fmt.Printf("  %s  %-16s%s  %s\n", c.ID, names[c.Peer(session.UserID())], unread, last)
		}

	case "start":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat start <user_id>")
			os.Exit(1)
		}
		client = client.WithCredentials(requireSession(cfg))
		conv, err := client.CreateConversation(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("Conversation: %s\n", conv.ID)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat read <conversation_id> [limit]")
			os.Exit(1)
		}
		limit := cfg.PageSize
		if len(os.Args) > 3 {
			limit, err = strconv.Atoi(os.Args[3])
			exitOnError(err)
		}
		session := requireSession(cfg)
		client = client.WithCredentials(session)
		page, err := client.FetchMessages(ctx, os.Args[2], limit)
		exitOnError(err)
		for _, msg := range page.Data {
			printMessage(session.UserID(), msg)
		}
		fmt.Printf("-- %d of %d messages\n", page.Count, page.Total)
		if ids := chat.Unseen(session.UserID(), page.Data); len(ids) > 0 {
			exitOnError(client.MarkSeen(ctx, os.Args[2], ids))
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat send <conversation_id> <message>")
			os.Exit(1)
		}
		session := requireSession(cfg)
		client = client.WithCredentials(session)
		pane := chat.NewPane(session, client, chat.PaneOptions{PageSize: 1})
		defer pane.Close()
		exitOnError(pane.Start(ctx))
		exitOnError(pane.Select(ctx, os.Args[2]))
		msg, err := pane.Send(ctx, os.Args[3])
		exitOnError(err)
		fmt.Printf("Sent: %s (%s)\n", msg.ID, msg.Status)

	case "watch":
		session := requireSession(cfg)
		client = client.WithCredentials(session)
		logger := cliLogger()
		notifier := notifierFor(cfg, logger)
		conn := chat.NewConnection(session, logger)
		defer conn.Close()
		err := conn.Open(ctx, chat.SocketConfig{
			URL:     socketURL(cfg, client),
			Event:   models.EventName(session.UserType()),
			Retries: cfg.ReconnectRetries,
			MaxWait: cfg.ReconnectMaxWait.Duration,
		}, func(msg models.Message) {
			printMessage(session.UserID(), msg)
			if msg.SenderID != session.UserID() {
				notifier.Notify(msg)
			}
		})
		exitOnError(err)
		fmt.Println("Watching for messages, ctrl+c to stop")
		<-ctx.Done()

	case "tui":
		session := requireSession(cfg)
		client = client.WithCredentials(session)
		runTUI(ctx, cfg, client, session)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func runTUI(ctx context.Context, cfg *config.ClientConfig, client *chat.Client, session *chat.Session) {
	logger := fileLogger()
	feed := tui.NewFeed(256)

	threshold := cfg.ScrollThreshold
	if threshold <= 0 {
		threshold = tuiScrollThreshold
	}

	pane := chat.NewPane(session, client, chat.PaneOptions{
		PageSize:         cfg.PageSize,
		LoadStep:         cfg.LoadStep,
		ScrollThreshold:  threshold,
		TopEpsilon:       cfg.TopEpsilon,
		SocketURL:        socketURL(cfg, client),
		ReconnectRetries: cfg.ReconnectRetries,
		ReconnectMaxWait: cfg.ReconnectMaxWait.Duration,
		Notifier:         notifierFor(cfg, logger),
		Logger:           &logger,
		OnUpdate:         feed.Push,
	})
	defer pane.Close()

	convs, err := client.ListConversations(ctx)
	exitOnError(err)

	initial := ""
	if len(os.Args) > 2 {
		initial = os.Args[2]
	}

	exitOnError(tui.Run(ctx, tui.Options{
		Pane:    pane,
		Feed:    feed,
		Me:      session.User(),
		Names:   resolveNames(ctx, client, session.UserID(), convs),
		Initial: initial,
	}))
}

func requireSession(cfg *config.ClientConfig) *chat.Session {
	if cfg.Token == "" || cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run: chat login <name> <password>")
		os.Exit(1)
	}
	return chat.NewSession(models.User{ID: cfg.UserID, Type: models.UserType(cfg.UserType)}, cfg.Token)
}

func saveSession(path string, cfg *config.ClientConfig, resp *chat.LoginResponse) {
	cfg.Token = resp.Token
	cfg.UserID = resp.User.ID
	cfg.UserType = string(resp.User.Type)
	exitOnError(config.SaveClient(path, cfg))
}

// resolveNames maps conversation peers to display names, falling back to
// the id when a lookup fails.
func resolveNames(ctx context.Context, client *chat.Client, me string, convs []models.Conversation) map[string]string {
	names := make(map[string]string, len(convs))
	for _, c := range convs {
		peer := c.Peer(me)
		if _, ok := names[peer]; ok {
			continue
		}
		names[peer] = peer
		if u, err := client.GetUser(ctx, peer); err == nil {
			names[peer] = u.Name
		}
	}
	return names
}

func socketURL(cfg *config.ClientConfig, client *chat.Client) string {
	if cfg.SocketURL != "" {
		return cfg.SocketURL
	}
	return client.SocketURL()
}

func notifierFor(cfg *config.ClientConfig, logger zerolog.Logger) chat.Notifier {
	if !cfg.Sound {
		return chat.NopNotifier{}
	}
	n := chat.NewBeepNotifier(logger, 0)
	n.Desktop = true
	n.Title = "coursechat"
	return n
}

func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()
}

// fileLogger writes next to the config file so logs do not corrupt the
// terminal UI.
func fileLogger() zerolog.Logger {
	path := filepath.Join(filepath.Dir(config.DefaultClientPath()), "chat.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return zerolog.Nop()
	}
	return zerolog.New(f).With().Timestamp().Logger()
}

func printMessage(me string, msg models.Message) {
	from := msg.SenderID
	if from == me {
		from = "you"
	} else if len(from) > 8 {
		from = from[:8]
	}
	fmt.Printf("[%s] %s: %s (%s)\n", msg.CreatedAt.Local().Format("2006-01-02 15:04:05"), from, msg.Body, msg.Status)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func usage() {
	fmt.Println(`chat - coursechat command line client

Usage: chat <command> [options]

Commands:
  login <name> <password>              Log in and store the token
  register <name> <password> [type]    Create an account
  logout                               Forget the stored token
  whoami                               Show the stored identity
  conversations                        List conversations with unread counts
  start <user_id>                      Start a conversation
  read <conversation_id> [limit]       Print recent messages and mark them seen
  send <conversation_id> <message>     Send a message
  watch                                Print messages as they arrive
  tui [conversation_id]                Open the terminal chat pane
  health                               Check server health

Environment:
  CHAT_CONFIG    Config file (default: ~/.coursechat/client.toml)
  CHAT_API_URL   Server URL (default: http://localhost:8080)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
