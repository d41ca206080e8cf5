package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"agent-inbox/internal/client"
	"agent-inbox/internal/domain"
	"agent-inbox/internal/inbox"
)

func main() {
	app := &cli.App{
		Name:  "inbox",
		Usage: "exchange threaded messages with inbox agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Value:   "http://localhost:8080",
				Usage:   "backend base URL",
				EnvVars: []string{"INBOX_API_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token from login or signup",
				EnvVars: []string{"INBOX_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "user",
				Usage:   "user id, optional when a token is set",
				EnvVars: []string{"INBOX_USER_ID"},
			},
			&cli.StringFlag{
				Name:    "webhook-base",
				Usage:   "agent webhook base URL sent with each message",
				EnvVars: []string{"WEBHOOK_BASE_URL"},
			},
			&cli.IntFlag{
				Name:    "limit",
				Value:   inbox.DefaultMessageLimit,
				Usage:   "per agent message limit",
				EnvVars: []string{"MESSAGE_LIMIT"},
			},
			&cli.StringFlag{
				Name:    "drafts",
				Usage:   "drafts file (defaults to the user config dir)",
				EnvVars: []string{"INBOX_DRAFTS_PATH"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 60 * time.Second,
				Usage: "request timeout",
			},
		},
		Commands: []*cli.Command{
			agentsCommand(),
			listCommand(),
			showCommand(),
			sendCommand(),
			clearCommand(),
			signupCommand(),
			loginCommand(),
			draftsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger()
}

func newClient(c *cli.Context) *client.Client {
	api := client.New(c.String("api"))
	api.Token = c.String("token")
	api.HTTPClient.Timeout = c.Duration("timeout")
	return api
}

// session wires a store and composer for one command invocation.
type session struct {
	store    *inbox.Store
	composer *inbox.Composer
}

func newSession(c *cli.Context) (*session, error) {
	if c.String("user") == "" && c.String("token") == "" {
		return nil, errors.New("set --user or --token (INBOX_USER_ID / INBOX_TOKEN)")
	}
	logger := newLogger()
	store := inbox.NewStore(domain.DefaultDirectory(c.String("webhook-base")), c.Int("limit"))
	notify := inbox.NotifierFunc(func(e inbox.Event) {
		switch e.Kind {
		case inbox.EventSending:
			logger.Info().Str("agent", e.Ref.Agent).Str("thread", e.Ref.ThreadID).Msg("sending")
		case inbox.EventReceived:
			logger.Info().Str("agent", e.Ref.Agent).Str("thread", e.Ref.ThreadID).Msg("reply received")
		case inbox.EventError:
			logger.Error().Err(e.Err).Str("agent", e.Ref.Agent).Str("thread", e.Ref.ThreadID).Msg("send failed")
		}
	})
	return &session{
		store:    store,
		composer: inbox.NewComposer(store, newClient(c), notify, c.String("user")),
	}, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func agentFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Usage: "agent key", Required: true}
}

func agentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "agents",
		Usage: "list agents",
		Action: func(c *cli.Context) error {
			for _, a := range domain.DefaultDirectory(c.String("webhook-base")).Agents() {
				fmt.Printf("%-11s %-18s %s\n", a.Key, a.Name, a.Email)
			}
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "show an agent's inbox",
		Flags: []cli.Flag{
			agentFlag(),
			&cli.StringFlag{Name: "filter", Value: "all", Usage: "all, unopened or opened"},
		},
		Action: func(c *cli.Context) error {
			filter, err := inbox.ParseFilter(c.String("filter"))
			if err != nil {
				return err
			}
			s, err := newSession(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			agent := c.String("agent")
			if err := s.composer.Sync(ctx, agent); err != nil {
				return err
			}
			listing, err := s.store.Inbox(agent, filter)
			if err != nil {
				return err
			}
			count, reached := s.store.Usage(agent)
			fmt.Printf("%s: %d/%d messages", agent, count, c.Int("limit"))
			if reached {
				fmt.Print(" (limit reached)")
			}
			fmt.Println()
			if listing.Empty {
				fmt.Println("No threads.")
				return nil
			}
			for _, t := range listing.Threads {
				fmt.Printf("%s  %s  %s\n", t.ID, t.Subject, preview(t))
			}
			return nil
		},
	}
}

func preview(t inbox.Thread) string {
	last, ok := t.Last()
	if !ok {
		return ""
	}
	who := "Agent: "
	if last.IsUser() {
		who = "You: "
	}
	body := strings.ReplaceAll(last.Body, "\n", " ")
	if len(body) > 60 {
		body = body[:57] + "..."
	}
	return who + body
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "print a thread",
		Flags: []cli.Flag{
			agentFlag(),
			&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			s, err := newSession(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			agent := c.String("agent")
			if err := s.composer.Sync(ctx, agent); err != nil {
				return err
			}
			t, err := s.store.Open(agent, c.String("thread"))
			if err != nil {
				return err
			}
			fmt.Printf("Subject: %s\n\n", t.Subject)
			for _, m := range t.Messages {
				fmt.Printf("%s  %s -> %s\n%s\n\n", m.Timestamp.Local().Format(time.DateTime), m.From, m.To, m.Body)
			}
			return nil
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "compose a new thread, or reply with --thread",
		Flags: []cli.Flag{
			agentFlag(),
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}},
			&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Usage: "reply to this thread"},
			&cli.BoolFlag{Name: "use-draft", Usage: "fill missing subject/body from the agent's draft"},
		},
		Action: func(c *cli.Context) error {
			s, err := newSession(c)
			if err != nil {
				return err
			}
			drafts, err := openDrafts(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			agent, subject, body := c.String("agent"), c.String("subject"), c.String("body")
			if c.Bool("use-draft") {
				if d, ok := drafts.Get(agent); ok {
					if subject == "" {
						subject = d.Subject
					}
					if body == "" {
						body = d.Body
					}
				}
			}
			if err := s.composer.Sync(ctx, agent); err != nil {
				return err
			}

			var p *inbox.Pending
			if thread := c.String("thread"); thread != "" {
				p, err = s.composer.Reply(ctx, agent, thread, body)
			} else {
				p, err = s.composer.Compose(ctx, agent, subject, body)
			}
			if err != nil {
				return err
			}
			res, err := p.Wait(ctx)
			if err != nil {
				return err
			}
			if res.Err != nil {
				if perr := drafts.Put(agent, subject, body); perr != nil {
					return errors.Join(res.Err, perr)
				}
				if client.IsLimitReached(res.Err) {
					return fmt.Errorf("message limit reached for %s; clear the conversation to continue", agent)
				}
				return res.Err
			}
			if err := drafts.Discard(agent); err != nil {
				return err
			}
			fmt.Printf("[%s] %s\n%s\n", res.Ref.ThreadID, res.Ref.Subject, res.Reply)
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "delete one thread, or every thread with an agent",
		Flags: []cli.Flag{
			agentFlag(),
			&cli.StringFlag{Name: "thread", Aliases: []string{"t"}},
		},
		Action: func(c *cli.Context) error {
			s, err := newSession(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			n, err := s.composer.Clear(ctx, c.String("agent"), c.String("thread"))
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d thread(s).\n", n)
			return nil
		},
	}
}

func signupCommand() *cli.Command {
	return &cli.Command{
		Name:  "signup",
		Usage: "create an account and print a token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Required: true},
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"INBOX_PASSWORD"}},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c)
			defer cancel()
			sess, err := newClient(c).Signup(ctx, c.String("username"), c.String("email"), c.String("password"))
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in and print a token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email"},
			&cli.StringFlag{Name: "password", EnvVars: []string{"INBOX_PASSWORD"}},
			&cli.StringFlag{Name: "google-credential", Usage: "Google ID token instead of email/password"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c)
			defer cancel()

			api := newClient(c)
			var (
				sess client.Session
				err  error
			)
			if cred := c.String("google-credential"); cred != "" {
				sess, err = api.GoogleLogin(ctx, cred)
			} else {
				if c.String("email") == "" || c.String("password") == "" {
					return errors.New("--email and --password are required")
				}
				sess, err = api.Login(ctx, c.String("email"), c.String("password"))
			}
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		},
	}
}

func printSession(sess client.Session) {
	fmt.Printf("Signed in as %s <%s> (id %s)\n", sess.User.Username, sess.User.Email, sess.User.ID)
	fmt.Printf("export INBOX_TOKEN=%s\n", sess.Token)
}

func openDrafts(c *cli.Context) (*inbox.Drafts, error) {
	path := c.String("drafts")
	if path == "" {
		var err error
		if path, err = inbox.DefaultDraftsPath(); err != nil {
			return nil, err
		}
	}
	return inbox.OpenDrafts(path)
}

func draftsCommand() *cli.Command {
	return &cli.Command{
		Name:  "drafts",
		Usage: "manage drafts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "show the autosaved draft and saved drafts",
				Flags: []cli.Flag{&cli.StringFlag{Name: "agent", Aliases: []string{"a"}}},
				Action: func(c *cli.Context) error {
					drafts, err := openDrafts(c)
					if err != nil {
						return err
					}
					agent := c.String("agent")
					if d, ok := drafts.Get(agent); ok && agent != "" {
						fmt.Printf("current: %q (%s)\n", d.Subject, d.UpdatedAt.Local().Format(time.DateTime))
					}
					saved := drafts.Saved(agent)
					if len(saved) == 0 {
						fmt.Println("No saved drafts")
						return nil
					}
					for _, sd := range saved {
						fmt.Printf("%s  %-10s %s\n", sd.ID, sd.AgentKey, sd.Subject)
					}
					return nil
				},
			},
			{
				Name:  "save",
				Usage: "add a draft to the saved list",
				Flags: []cli.Flag{
					agentFlag(),
					&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
					&cli.StringFlag{Name: "body", Aliases: []string{"b"}},
				},
				Action: func(c *cli.Context) error {
					drafts, err := openDrafts(c)
					if err != nil {
						return err
					}
					sd, err := drafts.Save(c.String("agent"), c.String("subject"), c.String("body"))
					if err != nil {
						return err
					}
					fmt.Println("Saved", sd.ID)
					return nil
				},
			},
			{
				Name:  "put",
				Usage: "set the agent's current draft",
				Flags: []cli.Flag{
					agentFlag(),
					&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
					&cli.StringFlag{Name: "body", Aliases: []string{"b"}},
				},
				Action: func(c *cli.Context) error {
					drafts, err := openDrafts(c)
					if err != nil {
						return err
					}
					return drafts.Put(c.String("agent"), c.String("subject"), c.String("body"))
				},
			},
		},
	}
}
