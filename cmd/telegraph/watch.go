package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/telegraph/internal/config"
	"github.com/zsiec/telegraph/internal/telegraph"
)

func watchCmd(cfg *config.Config) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch [channel]",
		Short: "Print a channel's telegraph events as JSON lines",
		Long: `Subscribe to a channel's telegraph feed and print one JSON object per
event with the channel status after the event applied. The connection is
re-established after a protocol error or connection loss unless --once
is set.

Examples:
  telegraph watch foo
  telegraph watch foo --addr telegraph.example:443 --read-timeout 2m`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.Channel = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			client, err := newTelegraphClient(cfg, nil)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			obs := telegraph.ObserverFunc(func(e telegraph.Event) {
				printEvent(enc, e)
			})
			delay := cfg.ReconnectDelay
			if once {
				delay = -1
			}
			return follow(cmd.Context(), client, obs, delay, slog.Default())
		},
	}
	addTelegraphFlags(cmd, cfg)
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first connection ends")
	return cmd
}

func addTelegraphFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.TelegraphAddr, "addr", cfg.TelegraphAddr, "telegraph host:port (env TELEGRAPH_ADDR)")
	f.StringVar(&cfg.Channel, "channel", cfg.Channel, "channel to subscribe to (env TELEGRAPH_CHANNEL)")
	f.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "connect timeout")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "treat a feed silent this long as lost")
	f.IntVar(&cfg.MaxBodySize, "max-body", cfg.MaxBodySize, "largest frame body accepted, in bytes")
	f.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "wait before reconnecting")
}

func newTelegraphClient(cfg *config.Config, stats telegraph.StatsRecorder) (*telegraph.Client, error) {
	return telegraph.NewClient(telegraph.Config{
		Addr:        cfg.TelegraphAddr,
		Channel:     cfg.Channel,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		MaxBodySize: cfg.MaxBodySize,
		Stats:       stats,
	})
}

// follow runs the client until ctx ends, reconnecting after delay when the
// connection fails. A negative delay returns the first failure instead.
func follow(ctx context.Context, c *telegraph.Client, obs telegraph.Observer, delay time.Duration, log *slog.Logger) error {
	log = log.With("channel", c.Channel())
	for {
		err := c.Run(ctx, obs)
		if ctx.Err() != nil {
			return nil
		}
		if delay < 0 {
			return err
		}
		var perr *telegraph.ProtocolError
		switch {
		case errors.As(err, &perr):
			log.Warn("protocol error, reconnecting", "token", perr.Token, "error", err, "delay", delay)
		default:
			log.Warn("feed lost, reconnecting", "error", err, "delay", delay)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

type eventLine struct {
	Time    time.Time               `json:"time"`
	Channel string                  `json:"channel"`
	Event   string                  `json:"event"`
	Props   telegraph.Properties    `json:"props,omitempty"`
	Status  telegraph.ChannelStatus `json:"status"`
}

func printEvent(enc *json.Encoder, e telegraph.Event) {
	if err := enc.Encode(eventLine{
		Time:    e.Received,
		Channel: e.Channel,
		Event:   e.Name,
		Props:   e.Props,
		Status:  e.Status,
	}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		slog.Error("write event", "error", fmt.Errorf("encode: %w", err))
	}
}
