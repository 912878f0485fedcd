// Command listwatch-demo watches an OADA list and logs every item event to
// stderr. It is a thin reference client of the oadalist library, wiring the
// HTTP/SSE transport adapter to a ListWatch and printing whatever it emits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	oadalist "github.com/trellisfw/oada-list-lib-go"
	"github.com/trellisfw/oada-list-lib-go/internal/oadahttp"
)

var (
	domain          string
	token           string
	listPath        string
	resume          bool
	name            string
	persistInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "listwatch-demo",
	Short: "Watch an OADA list and print item events",
	RunE:  run,
}

func init() {
	cfg := loadConfig()
	rootCmd.Flags().StringVar(&domain, "domain", cfg.Domain, "OADA server base URL")
	rootCmd.Flags().StringVar(&token, "token", cfg.Token, "OADA bearer token")
	rootCmd.Flags().StringVar(&listPath, "list", cfg.ListPath, "list resource path to watch")
	rootCmd.Flags().BoolVar(&resume, "resume", cfg.Resume, "persist and resume the watch cursor under _meta")
	rootCmd.Flags().StringVar(&name, "name", "listwatch-demo", "stable identity for the persisted cursor")
	rootCmd.Flags().DurationVar(&persistInterval, "persist-interval", cfg.PersistInterval, "how often the resume cursor flushes")
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	conn, err := oadahttp.New(oadahttp.Config{Domain: domain, Token: token, Logger: logger})
	if err != nil {
		return fmt.Errorf("connecting to OADA: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lw, err := oadalist.New(ctx, oadalist.Options{
		Path:            listPath,
		Name:            name,
		Resume:          resume,
		Conn:            conn,
		Logger:          logger,
		PersistInterval: persistInterval,
	})
	if err != nil {
		return fmt.Errorf("constructing watch: %w", err)
	}

	lw.On(oadalist.ItemAdded, logEvent(logger))
	lw.On(oadalist.ItemChanged, logEvent(logger))
	lw.On(oadalist.ItemRemoved, logEvent(logger))
	lw.On(oadalist.EventError, logEvent(logger))

	if err := lw.Start(ctx); err != nil {
		return fmt.Errorf("starting watch: %w", err)
	}
	defer lw.Stop()

	<-ctx.Done()
	logger.Info("shutting down", "reason", ctx.Err())
	return lw.Stop()
}

func logEvent(logger *slog.Logger) oadalist.Listener {
	return func(ctx context.Context, ev oadalist.Event) error {
		attrs := []any{"kind", ev.Kind, "pointer", ev.Pointer, "rev", ev.ListRev}
		if ev.Change != nil {
			attrs = append(attrs, "change_path", ev.Change.Path, "change_rev", ev.Change.Rev)
		}
		if ev.Err != nil {
			attrs = append(attrs, "error", ev.Err)
		}
		logger.Info("item event", attrs...)
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
