// Package ingest chooses an ingest server for the streaming session and
// measures how fast each candidate accepts data. Probes push filler
// MPEG-TS packets over SRT for a fixed window and report throughput.
package ingest

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/zsiec/telegraph/internal/sdk"
)

// Result is the outcome of probing one ingest server.
type Result struct {
	Server  sdk.IngestServer `json:"server"`
	Kbps    float64          `json:"kbps"`
	Bytes   int64            `json:"bytes"`
	Writes  int64            `json:"writes"`
	Elapsed time.Duration    `json:"elapsed"`
	Err     error            `json:"-"`
	Error   string           `json:"error,omitempty"`
}

// OK reports whether the probe completed without error.
func (r Result) OK() bool { return r.Err == nil }

// probeStats counts bytes pushed during a probe. Writes happen on the probe
// goroutine while progress may be read from another.
type probeStats struct {
	startedAt  time.Time
	bytesSent  atomic.Int64
	writeCount atomic.Int64
}

func newProbeStats(now time.Time) *probeStats {
	return &probeStats{startedAt: now}
}

func (s *probeStats) recordWrite(n int) {
	s.bytesSent.Add(int64(n))
	s.writeCount.Add(1)
}

// result snapshots the counters into r, measuring throughput up to now.
func (s *probeStats) result(r Result, now time.Time) Result {
	r.Bytes = s.bytesSent.Load()
	r.Writes = s.writeCount.Load()
	r.Elapsed = now.Sub(s.startedAt)
	r.Kbps = kbps(r.Bytes, r.Elapsed)
	return r
}

func kbps(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1000 / d.Seconds()
}

// Rank orders results fastest first. Failed probes sort after every
// successful one, keeping their input order.
func Rank(results []Result) []Result {
	out := append([]Result(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OK() != b.OK() {
			return a.OK()
		}
		return a.Kbps > b.Kbps
	})
	return out
}

// ErrAllProbesFailed is returned by Best when no probe succeeded.
var ErrAllProbesFailed = errors.New("ingest: every probe failed")

// Best returns the fastest successful result.
func Best(results []Result) (Result, error) {
	if len(results) == 0 {
		return Result{}, ErrNoIngestServers
	}
	ranked := Rank(results)
	if !ranked[0].OK() {
		return Result{}, ErrAllProbesFailed
	}
	return ranked[0], nil
}
