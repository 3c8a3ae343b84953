// Command chat runs the assistant in a terminal over an in-memory session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"

	"company-assistant/internal/bootstrap"
	"company-assistant/internal/config"
	"company-assistant/internal/domain"
	"company-assistant/internal/observability"
	"company-assistant/internal/usecase"
)

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "error", "log level written to stderr")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Store = config.StoreMemory
	observability.Setup(os.Stderr, logLevel)

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build assistant", "err", err)
		os.Exit(1)
	}
	sess, err := usecase.OpenSession(ctx, uuid.NewString(), app.Assistant, app.Store)
	if err != nil {
		slog.Error("failed to open session", "err", err)
		os.Exit(1)
	}

	if err := run(ctx, os.Stdin, os.Stdout, sess); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run reads one message per line until EOF or /quit. /reset clears the
// conversation.
func run(ctx context.Context, in io.Reader, out io.Writer, sess *usecase.Session) error {
	shown := render(out, sess.Transcript(), 0)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/reset":
			if err := sess.Reset(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			shown = render(out, sess.Transcript(), 0)
			continue
		}

		// Classified failures are already in the transcript.
		if _, err := sess.Submit(ctx, line); err != nil {
			if _, ok := usecase.KindOf(err); !ok {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
		// The user's own line is already on screen.
		shown = render(out, sess.Transcript(), shown, line)
	}
}

// render prints transcript entries from index from onward and returns the
// new count. A leading user entry equal to skip is not echoed.
func render(out io.Writer, entries []usecase.Entry, from int, skip ...string) int {
	for i := from; i < len(entries); i++ {
		e := entries[i]
		if i == from && len(skip) > 0 && e.Kind == usecase.EntryMessage && e.Role == domain.RoleUser && e.Text == skip[0] {
			continue
		}
		switch e.Kind {
		case usecase.EntryMessage:
			if e.Role == domain.RoleUser {
				fmt.Fprintf(out, "you: %s\n", e.Text)
			} else {
				fmt.Fprintf(out, "assistant: %s\n", e.Text)
			}
		case usecase.EntryError:
			fmt.Fprintln(out, e.Text)
		default:
			fmt.Fprintf(out, "assistant: %s\n", e.Text)
		}
	}
	return len(entries)
}
