// Package feed fans live channel events, session changes, and chat captions
// out to any number of subscribers, such as websocket clients. Slow
// subscribers lose messages instead of stalling the publisher.
package feed

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zsiec/ccx"

	"github.com/zsiec/telegraph/internal/telegraph"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Message kinds.
const (
	KindStatus  = "status"
	KindSession = "session"
	KindCaption = "caption"
)

// Message is one feed item. Exactly one payload field is set, matching Kind.
type Message struct {
	Kind    string                   `json:"kind"`
	Time    time.Time                `json:"time"`
	Event   string                   `json:"event,omitempty"`
	Status  *telegraph.ChannelStatus `json:"status,omitempty"`
	Session *SessionChange           `json:"session,omitempty"`
	Caption *Caption                 `json:"caption,omitempty"`
}

// SessionChange reports a session state transition.
type SessionChange struct {
	Machine string `json:"machine"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// Caption is the wire form of a caption frame.
type Caption struct {
	PTS     int64  `json:"pts"`
	Channel int    `json:"channel"`
	Text    string `json:"text"`
}

// Stats receives hub counters. Implementations must be safe for concurrent
// use.
type Stats interface {
	SetFeedSubscribers(n int)
	RecordFeedDrop()
	RecordFeedPublish(kind string)
}

// SubscriberStats describes delivery to one subscriber.
type SubscriberStats struct {
	ID      string `json:"id"`
	Sent    int64  `json:"sent"`
	Dropped int64  `json:"dropped"`
}

// Subscriber receives feed messages on C until it is unsubscribed, at which
// point C is closed.
type Subscriber struct {
	id      string
	ch      chan Message
	sent    atomic.Int64
	dropped atomic.Int64
}

// ID returns the subscriber's unique ID.
func (s *Subscriber) ID() string { return s.id }

// C returns the delivery channel.
func (s *Subscriber) C() <-chan Message { return s.ch }

// Stats returns delivery counters.
func (s *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{ID: s.id, Sent: s.sent.Load(), Dropped: s.dropped.Load()}
}

func (s *Subscriber) offer(m Message) bool {
	select {
	case s.ch <- m:
		s.sent.Add(1)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Options configures a Hub.
type Options struct {
	Buffer int
	Logger *slog.Logger
	Stats  Stats
}

// Hub is the fan-out point. The latest status message is cached and
// replayed to new subscribers so they start with the current channel state.
type Hub struct {
	log    *slog.Logger
	stats  Stats
	buffer int

	mu         sync.RWMutex
	subs       map[string]*Subscriber
	lastStatus *Message
	closed     bool
}

// NewHub creates a hub with no subscribers.
func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log.With("component", "feed"),
		stats:  opts.Stats,
		buffer: opts.Buffer,
		subs:   make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber. The cached status, if any, is
// queued before live delivery starts. Subscribing to a closed hub returns a
// subscriber whose channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{id: uuid.NewString(), ch: make(chan Message, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s
	}
	if h.lastStatus != nil {
		s.offer(*h.lastStatus)
	}
	h.subs[s.id] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Info("subscriber added", "subscriber", s.id, "subscribers", n)
	if h.stats != nil {
		h.stats.SetFeedSubscribers(n)
	}
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(s.ch)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}

	st := s.Stats()
	h.log.Info("subscriber removed", "subscriber", id, "sent", st.Sent, "dropped", st.Dropped, "subscribers", n)
	if h.stats != nil {
		h.stats.SetFeedSubscribers(n)
	}
}

// Publish delivers m to every subscriber without blocking.
func (h *Hub) Publish(m Message) {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}

	h.mu.Lock()
	if m.Kind == KindStatus {
		cached := m
		h.lastStatus = &cached
	}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if h.stats != nil {
		h.stats.RecordFeedPublish(m.Kind)
	}
	for _, s := range h.subs {
		if !s.offer(m) && h.stats != nil {
			h.stats.RecordFeedDrop()
		}
	}
}

// PublishEvent publishes a telegraph event as a status message.
func (h *Hub) PublishEvent(e telegraph.Event) {
	st := e.Status
	h.Publish(Message{Kind: KindStatus, Time: e.Received, Event: e.Name, Status: &st})
}

// PublishSession publishes a session transition.
func (h *Hub) PublishSession(machine, from, to string) {
	h.Publish(Message{Kind: KindSession, Session: &SessionChange{Machine: machine, From: from, To: to}})
}

// PublishCaption publishes a caption frame.
func (h *Hub) PublishCaption(f *ccx.CaptionFrame) {
	if f == nil {
		return
	}
	h.Publish(Message{Kind: KindCaption, Caption: &Caption{PTS: f.PTS, Channel: f.Channel, Text: f.Text}})
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// StatsAll returns delivery counters for every subscriber.
func (h *Hub) StatsAll() []SubscriberStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SubscriberStats, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s.Stats())
	}
	return out
}

// Close unsubscribes everyone. Later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
	if h.stats != nil {
		h.stats.SetFeedSubscribers(0)
	}
}
