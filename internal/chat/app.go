package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"DatopiaChat/internal/api"
	"DatopiaChat/internal/auth"
	"DatopiaChat/internal/config"
	"DatopiaChat/internal/credit"
	"DatopiaChat/internal/store"
	"DatopiaChat/internal/telemetry"
	"DatopiaChat/internal/transcript"
)

// App is the interactive client: one API client, one store, one credit
// gate, and a registry of per-session controllers driven from stdin.
type App struct {
	config   config.Config
	client   *api.Client
	store    *store.Store
	gate     *credit.Gate
	feed     *credit.Feed
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	cleanup  func()

	// out receives the reveal animation and the status indicator; nil
	// means stdout.
	out io.Writer
	// statusEvery overrides StatusInterval; zero means the default.
	statusEvery time.Duration

	active *Controller
	// printed tracks how much of the trailing assistant turn has been
	// echoed, so each snapshot prints only the newly revealed suffix.
	printed int
}

func (a *App) stdout() io.Writer {
	if a.out != nil {
		return a.out
	}
	return os.Stdout
}

// NewApp wires the application from config.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client, err := api.NewClient(cfg.APIBaseURL, auth.FileSource{Path: cfg.CredentialsPath}, logger, tracer, meter)
	if err != nil {
		cleanup()
		return nil, err
	}

	app := &App{
		config:   cfg,
		client:   client,
		store:    st,
		registry: NewRegistry(),
		logger:   logger,
		tracer:   tracer,
		meter:    meter,
		cleanup:  cleanup,
	}

	if cfg.CreditFeedURL != "" {
		feed, err := credit.DialFeed(cfg.CreditFeedURL, logger)
		if err != nil {
			logger.Warn("credit feed unavailable, using default allowance", "error", err)
			app.gate = credit.NewGate(nil, nil, logger)
		} else {
			app.feed = feed
			app.gate = credit.NewGate(feed, feed.Changes(), logger)
			go app.gate.Watch(ctx)
		}
	} else {
		app.gate = credit.NewGate(nil, nil, logger)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	return app, nil
}

// open attaches to a session, hydrating its transcript, and makes it
// the active one. Hydration can kick off a cycle for a trailing
// unanswered user turn, so the status indicator runs while it attaches
// and the prompt comes back only once that cycle settles.
func (a *App) open(ctx context.Context, sessionID string) error {
	a.printed = 0
	var c *Controller
	err := a.withStatus(func() error {
		var err error
		c, err = NewController(ctx, Options{
			SessionID:  sessionID,
			Backend:    a.client,
			Store:      a.store,
			Gate:       a.gate,
			Logger:     a.logger,
			Tracer:     a.tracer,
			Meter:      a.meter,
			OnSnapshot: a.render,
		})
		return err
	})
	if err != nil {
		return err
	}
	a.registry.Put(c)
	a.active = c
	c.WaitQuiescent()
	return nil
}

// render echoes the newly revealed suffix of the trailing assistant
// turn. Snapshot deliveries are strictly ordered, so a shrinking
// prefix means a new turn started.
func (a *App) render(tr transcript.Transcript) {
	last, ok := tr.Last()
	if !ok || last.Role != transcript.RoleAssistant {
		a.printed = 0
		return
	}
	text := last.Envelope().ModelResponse
	if a.printed > len(text) {
		a.printed = 0
	}
	fmt.Fprint(a.stdout(), text[a.printed:])
	a.printed = len(text)
}

// withStatus runs fn on its own goroutine and rotates the waiting
// indicator here until it returns. Submissions block through the whole
// network exchange, so this is what keeps the status phrases moving
// during the real wait.
func (a *App) withStatus(fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()

	interval := a.statusEvery
	if interval <= 0 {
		interval = StatusInterval
	}
	rotator := NewRotator()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Fprintf(a.stdout(), "\r%s", rotator.Next())
	for {
		select {
		case err := <-errCh:
			fmt.Fprint(a.stdout(), "\r\033[K")
			return err
		case <-ticker.C:
			fmt.Fprintf(a.stdout(), "\r\033[K%s", rotator.Next())
		}
	}
}

// runCycle drives one submit/edit/regenerate exchange: status rotation
// while the backend call is in flight, then the reveal animation until
// the terminal commit.
func (a *App) runCycle(c *Controller, fn func() error) error {
	a.printed = 0
	if err := a.withStatus(fn); err != nil {
		return err
	}
	c.WaitQuiescent()
	fmt.Fprint(a.stdout(), "\n\n")
	return nil
}

// Run starts the interactive loop.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	fmt.Println("=== Datopia Chat ===")
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	if a.config.SessionID != "" {
		if err := a.open(ctx, a.config.SessionID); err != nil {
			fmt.Printf("Error: %v\n", err)
			a.logger.Error("failed to open session", "session_id", a.config.SessionID, "error", err)
		} else {
			fmt.Printf("Session: %s\n\n", a.config.SessionID)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				a.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if a.active == nil {
			fmt.Println("No active session. Use /new <message> or /open <session-id>.")
			continue
		}

		c := a.active
		if err := a.runCycle(c, func() error { return c.Submit(ctx, input) }); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	fmt.Println("Goodbye!")
	return nil
}

// handleCommand handles slash commands. The bool result requests exit.
func (a *App) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/open":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /open <session-id>")
		}
		if err := a.open(ctx, parts[1]); err != nil {
			return false, err
		}
		fmt.Printf("Opened session: %s\n", parts[1])

	case "/new":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /new <message>")
		}
		content := strings.TrimSpace(strings.TrimPrefix(cmd, "/new"))
		var sessionID string
		var raw json.RawMessage
		err := a.withStatus(func() error {
			var err error
			sessionID, raw, err = a.client.NewSession(ctx, content)
			return err
		})
		if err != nil {
			return false, err
		}
		fmt.Printf("Started session: %s\n", sessionID)
		// Seed the store with the opening exchange, then attach. The
		// controller hydrates from the store so nothing is refetched.
		opening := transcript.Transcript{
			transcript.User(content),
			transcript.AssistantEnvelope(raw),
		}
		if err := a.store.Put(sessionID, opening); err != nil {
			a.logger.Error("failed to persist opening exchange", "session_id", sessionID, "error", err)
		}
		if err := a.open(ctx, sessionID); err != nil {
			return false, err
		}
		a.render(opening)
		fmt.Println()
		fmt.Println()

	case "/sessions":
		sessions, err := a.client.Sessions(ctx)
		if err != nil {
			return false, err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return false, nil
		}
		fmt.Println()
		for i, s := range sessions {
			fmt.Printf("%d. %s - %s\n", i+1, s.SessionID, s.Title)
		}
		fmt.Println()

	case "/rename":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /rename <session-id> <title>")
		}
		title := strings.Join(parts[2:], " ")
		if err := a.client.RenameSession(ctx, parts[1], title); err != nil {
			return false, err
		}
		fmt.Printf("Renamed %s to %q\n", parts[1], title)

	case "/delete":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /delete <session-id>")
		}
		if err := a.client.DeleteSession(ctx, parts[1]); err != nil {
			return false, err
		}
		if err := a.store.Delete(parts[1]); err != nil {
			a.logger.Error("failed to delete local transcript", "session_id", parts[1], "error", err)
		}
		a.registry.Remove(parts[1])
		if a.active != nil && a.active.SessionID() == parts[1] {
			a.active = nil
		}
		fmt.Printf("Deleted session: %s\n", parts[1])

	case "/edit":
		if a.active == nil {
			return false, fmt.Errorf("no active session")
		}
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /edit <turn-index> <new-message>")
		}
		index, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, fmt.Errorf("turn index must be a number: %w", err)
		}
		newContent := strings.Join(parts[2:], " ")
		c := a.active
		if err := a.runCycle(c, func() error { return c.EditTurn(ctx, index, newContent) }); err != nil {
			return false, err
		}

	case "/regenerate":
		if a.active == nil {
			return false, fmt.Errorf("no active session")
		}
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /regenerate <turn-index>")
		}
		index, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, fmt.Errorf("turn index must be a number: %w", err)
		}
		c := a.active
		if err := a.runCycle(c, func() error { return c.Regenerate(ctx, index) }); err != nil {
			return false, err
		}

	case "/stop":
		if a.active == nil {
			return false, fmt.Errorf("no active session")
		}
		a.active.Stop()
		fmt.Println("\nStopped.")

	case "/credit":
		fmt.Printf("Remaining credit: %d\n", a.gate.Remainder())

	case "/history":
		if a.active == nil {
			return false, fmt.Errorf("no active session")
		}
		tr := a.active.Transcript()
		fmt.Println()
		for i, turn := range tr {
			who := "You"
			text := turn.Content
			if turn.Role == transcript.RoleAssistant {
				who = "Bot"
				text = turn.Envelope().ModelResponse
			}
			fmt.Printf("%d. %s: %s\n", i, who, text)
		}
		fmt.Println()

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit                    - Exit")
		fmt.Println("  /new <message>                  - Start a new session with an opening message")
		fmt.Println("  /open <session-id>              - Open an existing session")
		fmt.Println("  /sessions                       - List sessions")
		fmt.Println("  /rename <session-id> <title>    - Rename a session")
		fmt.Println("  /delete <session-id>            - Delete a session")
		fmt.Println("  /history                        - Show the current transcript")
		fmt.Println("  /edit <turn-index> <message>    - Edit one of your earlier turns")
		fmt.Println("  /regenerate <turn-index>        - Regenerate an assistant turn")
		fmt.Println("  /stop                           - Stop the current response")
		fmt.Println("  /credit                         - Show remaining credit")
		fmt.Println("  /help                           - Show this help")

	default:
		fmt.Printf("Unknown command: %s (type /help)\n", parts[0])
	}

	return false, nil
}

// Close stops all controllers and releases resources.
func (a *App) Close() {
	a.registry.StopAll()
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			a.logger.Warn("failed to close credit feed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
	if a.cleanup != nil {
		a.cleanup()
	}
}
