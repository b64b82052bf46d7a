package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/telegraph/internal/api"
	"github.com/zsiec/telegraph/internal/broadcast"
	"github.com/zsiec/telegraph/internal/certs"
	"github.com/zsiec/telegraph/internal/config"
	"github.com/zsiec/telegraph/internal/feed"
	"github.com/zsiec/telegraph/internal/metrics"
	"github.com/zsiec/telegraph/internal/sdk"
	"github.com/zsiec/telegraph/internal/telegraph"
)

// shutdownGrace bounds how long sessions may take to shut down after a
// signal.
const shutdownGrace = 5 * time.Second

type serveOptions struct {
	stream   bool
	width    uint
	height   uint
	fps      uint
	kbps     uint
	announce string
}

func serveCmd(cfg *config.Config) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [channel]",
		Short: "Follow a channel, run the sessions, and serve the status API",
		Long: `Follow a channel's telegraph feed while driving the broadcast and chat
session machines against the in-process loopback service. Channel status,
session state, chat roster and history are served over HTTPS (and HTTP/3)
with a websocket feed at /api/ws and Prometheus metrics at /metrics.

Chat joins with the broadcast user's token once it is authenticated, or
anonymously when no username is configured.

Examples:
  telegraph serve foo
  USERNAME=alice PASSWORD=secret telegraph serve foo --stream --announce "hello"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.Channel = args[0]
			}
			if cfg.Channel == "" {
				return errors.New("a channel is required")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd, cfg, opts)
		},
	}

	addTelegraphFlags(cmd, cfg)
	f := cmd.Flags()
	f.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "status API listen address (env API_ADDR)")
	f.BoolVar(&cfg.EnableHTTP3, "http3", cfg.EnableHTTP3, "also serve the API over HTTP/3 (env API_HTTP3)")
	f.StringSliceVar(&cfg.CertHosts, "cert-host", cfg.CertHosts, "extra certificate host names or IPs")
	f.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "session flush interval")
	f.StringVar(&cfg.Username, "username", cfg.Username, "broadcast account user (env USERNAME)")
	f.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "client ID passed to the service")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "failed requests tolerated before giving up")
	f.BoolVar(&opts.stream, "stream", false, "start streaming synthetic frames once ready")
	f.UintVar(&opts.width, "width", 640, "stream width")
	f.UintVar(&opts.height, "height", 360, "stream height")
	f.UintVar(&opts.fps, "fps", broadcast.DefaultTargetFPS, "stream target frame rate")
	f.UintVar(&opts.kbps, "kbps", broadcast.DefaultMaxKbps, "stream bitrate ceiling")
	f.StringVar(&opts.announce, "announce", "", "chat message to send once connected")
	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config, opts serveOptions) error {
	log := slog.Default()

	cert, err := certs.Generate(certs.MaxValidity, cfg.CertHosts...)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	log.Info("certificate generated",
		"fingerprint", cert.Base64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := feed.NewHub(feed.Options{Buffer: cfg.FeedBuffer, Logger: log, Stats: m})
	defer hub.Close()

	client, err := newTelegraphClient(cfg, m)
	if err != nil {
		return err
	}

	srv, err := api.New(api.Config{
		Addr:     cfg.APIAddr,
		Cert:     cert,
		HTTP3:    cfg.EnableHTTP3,
		Channel:  client,
		Feed:     hub,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Recorder: m,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	svc := sdk.NewLoopback(sdk.LoopbackConfig{Logger: log})
	eng, err := newEngine(engineConfig{
		Service:    svc,
		Channel:    cfg.Channel,
		Creds:      sdk.Credentials{Username: cfg.Username, Password: cfg.Password, ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		ClientID:   cfg.ClientID,
		MaxRetries: cfg.MaxRetries,
		History:    cfg.ChatHistory,
		Params: sdk.VideoParams{
			Width:       opts.width,
			Height:      opts.height,
			TargetFPS:   opts.fps,
			MaxKbps:     opts.kbps,
			PixelFormat: sdk.PixelFormatBGRA,
		},
		Stream:     opts.stream,
		Announce:   opts.announce,
		RetryDelay: cfg.ReconnectDelay,
		API:        srv,
		Hub:        hub,
		Recorder:   m,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	log.Info("telegraph starting",
		"version", version,
		"channel", cfg.Channel,
		"feed", cfg.TelegraphAddr,
		"api", cfg.APIAddr,
		"http3", cfg.EnableHTTP3,
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		return follow(ctx, client, telegraph.ObserverFunc(hub.PublishEvent), cfg.ReconnectDelay, log)
	})
	g.Go(func() error {
		return eng.run(ctx, cfg.PollInterval)
	})
	return g.Wait()
}
