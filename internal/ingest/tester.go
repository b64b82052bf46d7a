package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/telegraph/internal/sdk"
)

const (
	DefaultProbeDuration = 5 * time.Second
	DefaultConcurrency   = 1
)

// Recorder receives probe outcomes.
type Recorder interface {
	RecordProbe(server string, kbps float64, err error)
}

// TesterConfig configures a Tester. StreamKey fills the {stream_key}
// placeholder in ingest URLs.
type TesterConfig struct {
	StreamKey   string
	Duration    time.Duration
	Concurrency int
	Dialer      Dialer
	Logger      *slog.Logger
	Recorder    Recorder
}

// Tester probes ingest servers. Concurrency defaults to one so probes do
// not compete for the uplink they are measuring.
type Tester struct {
	cfg    TesterConfig
	log    *slog.Logger
	tracer trace.Tracer
}

// NewTester creates a Tester, applying defaults for zero fields.
func NewTester(cfg TesterConfig) *Tester {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultProbeDuration
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Dialer == nil {
		cfg.Dialer = SRTDialer{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Tester{
		cfg:    cfg,
		log:    log.With("component", "ingest-tester"),
		tracer: otel.Tracer("telegraph/ingest"),
	}
}

// Run probes every server and returns the results ranked fastest first.
// Individual probe failures are reported in their Result; the returned
// error is non-nil only when ctx ends before all probes finish.
func (t *Tester) Run(ctx context.Context, servers []sdk.IngestServer) ([]Result, error) {
	if len(servers) == 0 {
		return nil, ErrNoIngestServers
	}

	results := make([]Result, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i, s := range servers {
		g.Go(func() error {
			results[i] = t.Probe(gctx, s)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Rank(results), err
	}
	return Rank(results), nil
}

// Probe pushes filler data to one server for the configured duration.
func (t *Tester) Probe(ctx context.Context, s sdk.IngestServer) Result {
	ctx, span := t.tracer.Start(ctx, "ingest.probe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ingest.server", s.Name),
			attribute.String("ingest.url", s.URL),
		),
	)
	defer span.End()

	res := t.probe(ctx, s)
	span.SetAttributes(
		attribute.Int64("ingest.bytes", res.Bytes),
		attribute.Float64("ingest.kbps", res.Kbps),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		res.Error = res.Err.Error()
		t.log.Warn("probe failed", "server", s.Name, "error", res.Err)
	} else {
		span.SetStatus(codes.Ok, "")
		t.log.Info("probe finished", "server", s.Name, "kbps", res.Kbps, "bytes", res.Bytes, "elapsed", res.Elapsed)
	}
	if t.cfg.Recorder != nil {
		t.cfg.Recorder.RecordProbe(s.Name, res.Kbps, res.Err)
	}
	return res
}

func (t *Tester) probe(ctx context.Context, s sdk.IngestServer) Result {
	res := Result{Server: s}
	ep, err := ParseEndpoint(s.URL, t.cfg.StreamKey)
	if err != nil {
		res.Err = err
		return res
	}

	t.log.Debug("dialing", "server", s.Name, "addr", ep.Addr)
	conn, err := t.cfg.Dialer.Dial(ctx, ep)
	if err != nil {
		res.Err = err
		return res
	}
	defer conn.Close()

	stats := newProbeStats(time.Now())
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Duration)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload := nullPayload()
	for ctx.Err() == nil {
		n, err := conn.Write(payload)
		if n > 0 {
			stats.recordWrite(n)
		}
		if err != nil {
			if ctx.Err() == nil {
				res.Err = fmt.Errorf("write to %s: %w", ep.Addr, err)
			}
			break
		}
	}
	res = stats.result(res, time.Now())
	if res.Err == nil && errors.Is(ctx.Err(), context.Canceled) {
		res.Err = ctx.Err()
	}
	return res
}
