// Command telegraph watches a channel's telegraph status feed, drives the
// broadcast and chat sessions, serves the status API, and probes ingest
// servers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zsiec/telegraph/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "telegraph",
		Short: "Channel status client and broadcast/chat session engine",
		Long: `telegraph subscribes to a channel's telegraph feed and tracks whether the
channel is live, its viewer count, and server time. The serve command also
runs the broadcast and chat session machines and exposes everything over an
HTTPS/HTTP3 status API with a websocket event feed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cfg.Debug)
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging (env DEBUG)")

	rootCmd.AddCommand(
		watchCmd(&cfg),
		serveCmd(&cfg),
		ingestTestCmd(&cfg),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
