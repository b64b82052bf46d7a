package telegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDialTimeout bounds connection establishment in Run.
	DefaultDialTimeout = 10 * time.Second
	// DefaultReadTimeout closes a connection that has been silent this long.
	DefaultReadTimeout = 90 * time.Second

	protocolVersion = "TELEGRAPH/0.1"
	readBufferSize  = 4096
)

// SubscribeLine returns the request a client writes after connecting.
func SubscribeLine(channel string) []byte {
	return []byte("SUBSCRIBE /" + channel + ". " + protocolVersion + "\x00\n")
}

// Event is delivered to an Observer for each decoded frame addressed to the
// subscribed channel. Status is the channel state after the event applied.
type Event struct {
	Channel  string
	Name     string
	Props    Properties
	Status   ChannelStatus
	Received time.Time
}

// Observer receives events in stream order from the goroutine running the
// client.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// StatsRecorder receives counters from a running client. A nil recorder is
// replaced with a no-op.
type StatsRecorder interface {
	RecordFrame(event string)
	RecordProtocolError()
	RecordUnexpectedChannel()
	RecordSkippedProperties(n int)
	RecordStatus(status ChannelStatus)
}

type nopStats struct{}

func (nopStats) RecordFrame(string) {}
func (nopStats) RecordProtocolError() {}
func (nopStats) RecordUnexpectedChannel() {}
func (nopStats) RecordSkippedProperties(int) {}
func (nopStats) RecordStatus(ChannelStatus) {}

// Config configures a Client.
type Config struct {
	Addr        string
	Channel     string
	DialTimeout time.Duration
	ReadTimeout time.Duration
	MaxBodySize int
	Logger      *slog.Logger
	Stats       StatsRecorder
}

// Client subscribes to one channel's telegraph feed and tracks its status.
// Status and Subscribed are safe to call while Run is active.
type Client struct {
	cfg   Config
	log   *slog.Logger
	stats StatsRecorder

	mu         sync.RWMutex
	status     ChannelStatus
	subscribed bool
}

// NewClient validates cfg and fills defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Channel == "" {
		return nil, errors.New("telegraph: channel is required")
	}
	if strings.ContainsAny(cfg.Channel, "/. \t\r\n\x00") {
		return nil, fmt.Errorf("telegraph: invalid channel name %q", cfg.Channel)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	var stats StatsRecorder = nopStats{}
	if cfg.Stats != nil {
		stats = cfg.Stats
	}
	return &Client{
		cfg:    cfg,
		log:    log.With("component", "telegraph", "channel", cfg.Channel),
		stats:  stats,
		status: ChannelStatus{Channel: cfg.Channel},
	}, nil
}

// Channel returns the subscribed channel name.
func (c *Client) Channel() string { return c.cfg.Channel }

// Status returns a copy of the current channel status.
func (c *Client) Status() ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Subscribed reports whether the server acknowledged the subscription on the
// current or most recent connection.
func (c *Client) Subscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed
}

// Run dials cfg.Addr and serves the connection until ctx is cancelled or
// the connection fails.
func (c *Client) Run(ctx context.Context, obs Observer) error {
	if c.cfg.Addr == "" {
		return errors.New("telegraph: address is required")
	}
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("telegraph: dial %s: %w", c.cfg.Addr, err)
	}
	c.log.Info("connected", "addr", c.cfg.Addr)
	return c.Serve(ctx, conn, obs)
}

// Serve subscribes on an established connection and decodes frames until
// ctx is cancelled, the peer closes, the read timeout passes, or a protocol
// error occurs. It always closes conn. Cancellation returns ctx.Err();
// transport failures wrap ErrConnectionLost; malformed headers return a
// *ProtocolError.
func (c *Client) Serve(ctx context.Context, conn net.Conn, obs Observer) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.mu.Lock()
	c.subscribed = false
	c.mu.Unlock()

	if _, err := conn.Write(SubscribeLine(c.cfg.Channel)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: write subscribe: %w", ErrConnectionLost, err)
	}

	dec := NewDecoder()
	dec.SetMaxBodySize(c.cfg.MaxBodySize)
	buf := make([]byte, readBufferSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			frames, derr := dec.Feed(buf[:n])
			for _, f := range frames {
				c.handleFrame(f, obs)
			}
			if derr != nil {
				c.stats.RecordProtocolError()
				c.log.Error("protocol error", "error", derr)
				return derr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("connection lost", "error", err)
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
	}
}

func (c *Client) handleFrame(f Frame, obs Observer) {
	now := time.Now()

	if f.Type == SubscribedType {
		c.mu.Lock()
		c.subscribed = true
		st := c.status
		c.mu.Unlock()
		c.log.Info("subscription acknowledged")
		c.stats.RecordFrame(EventSubscribed)
		if obs != nil {
			obs.OnEvent(Event{Channel: c.cfg.Channel, Name: EventSubscribed, Status: st, Received: now})
		}
		return
	}

	event, err := ParseHeader(f.Type, c.cfg.Channel)
	if err != nil {
		c.log.Warn("dropping frame", "type", f.Type, "error", err)
		c.stats.RecordUnexpectedChannel()
		return
	}

	props, skipped := parseBody(f.Body)
	if skipped > 0 {
		c.log.Debug("skipped malformed properties", "event", event, "count", skipped)
		c.stats.RecordSkippedProperties(skipped)
	}

	c.mu.Lock()
	c.status.Apply(event, props)
	st := c.status
	c.mu.Unlock()

	c.log.Debug("event", "event", event, "up", st.Up, "viewers", st.Viewers)
	c.stats.RecordFrame(event)
	c.stats.RecordStatus(st)
	if obs != nil {
		obs.OnEvent(Event{Channel: c.cfg.Channel, Name: event, Props: props, Status: st, Received: now})
	}
}
