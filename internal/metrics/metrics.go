// Package metrics exposes Prometheus collectors for the telegraph client,
// the session state machines, the live feed, the ingest tester, and the
// HTTP API. A single Metrics value implements the recorder interfaces each
// of those components accepts.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/telegraph/internal/api"
	"github.com/zsiec/telegraph/internal/feed"
	"github.com/zsiec/telegraph/internal/fsm"
	"github.com/zsiec/telegraph/internal/ingest"
	"github.com/zsiec/telegraph/internal/telegraph"
)

// Namespace prefixes every metric name.
const Namespace = "telegraph"

// Compile-time interface checks.
var (
	_ api.Recorder            = (*Metrics)(nil)
	_ feed.Stats              = (*Metrics)(nil)
	_ fsm.Recorder            = (*Metrics)(nil)
	_ ingest.Recorder         = (*Metrics)(nil)
	_ telegraph.StatsRecorder = (*Metrics)(nil)
)

// Metrics holds every collector. Methods are safe for concurrent use.
type Metrics struct {
	frames            *prometheus.CounterVec
	protocolErrors    prometheus.Counter
	unexpectedChannel prometheus.Counter
	skippedProps      prometheus.Counter
	viewers           prometheus.Gauge
	channelUp         prometheus.Gauge
	serverTime        prometheus.Gauge

	transitions     *prometheus.CounterVec
	requestFailures *prometheus.CounterVec
	sessionState    *prometheus.GaugeVec

	feedSubscribers prometheus.Gauge
	feedDropped     prometheus.Counter
	feedPublished   *prometheus.CounterVec

	probeKbps     *prometheus.GaugeVec
	probeFailures *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_total",
			Help:      "Telegraph frames decoded, by event name",
		}, []string{"event"}),
		protocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed because of a malformed frame header",
		}),
		unexpectedChannel: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "unexpected_channel_frames_total",
			Help:      "Frames dropped because they named another channel",
		}),
		skippedProps: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "skipped_properties_total",
			Help:      "Malformed key=value pairs dropped from frame bodies",
		}),
		viewers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "channel_viewers",
			Help:      "Last reported viewer count",
		}),
		channelUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "channel_up",
			Help:      "1 while the channel is live",
		}),
		serverTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "channel_server_time_seconds",
			Help:      "Last server timestamp reported by the channel feed",
		}),

		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		}, []string{"machine", "from", "to", "event"}),
		requestFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "request_failures_total",
			Help:      "Failed asynchronous requests, by session and request kind",
		}, []string{"machine", "request"}),
		sessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current state of each session machine",
		}, []string{"machine", "state"}),

		feedSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Connected live feed subscribers",
		}),
		feedDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "dropped_total",
			Help:      "Feed messages dropped for slow subscribers",
		}),
		feedPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "published_total",
			Help:      "Feed messages published, by kind",
		}, []string{"kind"}),

		probeKbps: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "probe_kbps",
			Help:      "Measured throughput of the last probe per ingest server",
		}, []string{"server"}),
		probeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "probe_failures_total",
			Help:      "Failed ingest probes per server",
		}, []string{"server"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) RecordFrame(event string) {
	m.frames.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordProtocolError() { m.protocolErrors.Inc() }

func (m *Metrics) RecordUnexpectedChannel() { m.unexpectedChannel.Inc() }

func (m *Metrics) RecordSkippedProperties(n int) {
	m.skippedProps.Add(float64(n))
}

// RecordStatus mirrors the channel status into gauges.
func (m *Metrics) RecordStatus(st telegraph.ChannelStatus) {
	m.viewers.Set(float64(st.Viewers))
	m.serverTime.Set(st.ServerTime)
	if st.Up {
		m.channelUp.Set(1)
	} else {
		m.channelUp.Set(0)
	}
}

// RecordTransition counts the transition and moves the state gauge.
func (m *Metrics) RecordTransition(machine, from, to, event string) {
	m.transitions.WithLabelValues(machine, from, to, event).Inc()
	if from != to {
		m.sessionState.WithLabelValues(machine, from).Set(0)
	}
	m.sessionState.WithLabelValues(machine, to).Set(1)
}

func (m *Metrics) RecordRequestFailure(machine, request string) {
	m.requestFailures.WithLabelValues(machine, request).Inc()
}

// SetFeedSubscribers reports the current subscriber count.
func (m *Metrics) SetFeedSubscribers(n int) { m.feedSubscribers.Set(float64(n)) }

func (m *Metrics) RecordFeedDrop() { m.feedDropped.Inc() }

func (m *Metrics) RecordFeedPublish(kind string) {
	m.feedPublished.WithLabelValues(kind).Inc()
}

// RecordProbe records one ingest probe result. A non-nil err counts as a
// failure and leaves the throughput gauge untouched.
func (m *Metrics) RecordProbe(server string, kbps float64, err error) {
	if err != nil {
		m.probeFailures.WithLabelValues(server).Inc()
		return
	}
	m.probeKbps.WithLabelValues(server).Set(kbps)
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
