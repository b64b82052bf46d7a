package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/telegraph/internal/fsm"
	"github.com/zsiec/telegraph/internal/sdk"
)

// DefaultHistory is the number of messages kept when Config.History is zero.
const DefaultHistory = 250

var (
	ErrNotConnected = errors.New("chat: not connected")
	ErrAnonymous    = errors.New("chat: anonymous connections cannot send")
)

// CredentialsFunc supplies the username and token to connect with. It
// returns ok=false to connect anonymously.
type CredentialsFunc func() (username string, token sdk.AuthToken, ok bool)

// Config configures a Session.
type Config struct {
	Service sdk.ChatService
	Channel string

	// Credentials is consulted on every connect attempt. Nil connects
	// anonymously.
	Credentials CredentialsFunc
	History     int

	Logger   *slog.Logger
	Recorder fsm.Recorder

	OnError       func(error)
	OnStateChange func(from, to State)
	OnMessage     func(sdk.ChatMessage)
}

// Session tracks one chat channel: its connection lifecycle, the users in
// it, and recent messages. Like the broadcast session it is driven entirely
// by Flush and must be used from a single goroutine.
type Session struct {
	svc     sdk.ChatService
	channel string
	creds   CredentialsFunc
	log     *slog.Logger
	m       *fsm.Machine[State, Event]

	onError   func(error)
	onMessage func(sdk.ChatMessage)

	pending   map[sdk.RequestKind]sdk.RequestID
	requested map[sdk.RequestKind]bool
	lastErr   error
	anonymous bool

	users     *roster
	messages  *history
	emoticons *sdk.TextureSheet
	badges    *sdk.TextureSheet
}

// New creates a session in StateUninitialized.
func New(cfg Config) (*Session, error) {
	if cfg.Service == nil {
		return nil, errors.New("chat: service is required")
	}
	if cfg.Channel == "" {
		return nil, errors.New("chat: channel is required")
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "chat", "channel", cfg.Channel)

	s := &Session{
		svc:       cfg.Service,
		channel:   cfg.Channel,
		creds:     cfg.Credentials,
		log:       log,
		m:         fsm.New("chat", Transitions, StateUninitialized, log, cfg.Recorder),
		onError:   cfg.OnError,
		onMessage: cfg.OnMessage,
		pending:   make(map[sdk.RequestKind]sdk.RequestID),
		requested: make(map[sdk.RequestKind]bool),
		users:     newRoster(),
		messages:  &history{limit: cfg.History},
	}
	if cfg.OnStateChange != nil {
		fn := cfg.OnStateChange
		s.m.OnTransition(func(from, to State, _ Event) {
			if from != to {
				fn(from, to)
			}
		})
	}
	return s, nil
}

// State returns the current state.
func (s *Session) State() State { return s.m.State() }

// Channel returns the chat channel name.
func (s *Session) Channel() string { return s.channel }

// Anonymous reports whether the current connection is read-only.
func (s *Session) Anonymous() bool { return s.anonymous }

// LastError returns the most recent failure, or nil.
func (s *Session) LastError() error { return s.lastErr }

// Users returns the channel's users in join order.
func (s *Session) Users() []sdk.ChatUser { return s.users.list() }

// Messages returns the retained message history, oldest first.
func (s *Session) Messages() []sdk.ChatMessage { return s.messages.list() }

// Emoticons returns the downloaded emoticon sheet, or nil.
func (s *Session) Emoticons() *sdk.TextureSheet { return s.emoticons }

// Badges returns the downloaded badge sheet, or nil.
func (s *Session) Badges() *sdk.TextureSheet { return s.badges }

// Initialize starts asynchronous chat initialization for the channel.
func (s *Session) Initialize() error {
	if !s.m.Can(EventInit) {
		return &fsm.TransitionError{Machine: "chat", From: s.State().String(), Event: EventInit.String()}
	}
	id, err := s.svc.InitChat(s.channel)
	if err != nil {
		err = fmt.Errorf("chat: init: %w", err)
		s.report(err)
		return err
	}
	s.pending[sdk.KindChatInit] = id
	s.fire(EventInit)
	return nil
}

// Flush applies queued chat events in arrival order, then performs the
// work the resulting state calls for. It returns the number of events
// applied.
func (s *Session) Flush() int {
	events := s.svc.FlushEvents()
	for _, c := range events {
		s.apply(c)
	}
	s.advance()
	return len(events)
}

func (s *Session) apply(c sdk.Completion) {
	switch c.Kind {
	case sdk.KindChatInit:
		if !s.take(c) {
			return
		}
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
			s.fire(EventInitFailed)
			return
		}
		s.log.Info("initialized")
		s.fire(EventInitSucceeded)

	case sdk.KindChatShutdown:
		if !s.take(c) {
			return
		}
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
			s.fire(EventShutdownFailed)
			return
		}
		s.resetData()
		s.fire(EventShutdownSucceeded)
		s.log.Info("shut down")

	case sdk.KindChatStatus:
		if c.Succeeded() {
			return
		}
		s.fail(c.Kind, c.Err())
		s.tryFire(EventDisconnected)

	case sdk.KindChatMembership:
		switch c.Membership {
		case sdk.MembershipJoined:
			if s.tryFire(EventJoined) {
				s.log.Info("joined channel", "anonymous", s.anonymous)
			}
		case sdk.MembershipLeft:
			if s.tryFire(EventDisconnected) {
				s.log.Info("left channel")
			}
		}

	case sdk.KindChatUsers:
		if c.Users != nil {
			s.users.apply(c.Users)
		}

	case sdk.KindChatMessages:
		s.messages.add(c.Messages)
		if s.onMessage != nil {
			for _, msg := range c.Messages {
				s.onMessage(msg)
			}
		}

	case sdk.KindChatClear:
		s.messages.reset()

	case sdk.KindEmoticonData:
		if !s.take(c) {
			return
		}
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
			s.requested[c.Kind] = false
			return
		}
		s.emoticons = c.Sheet

	case sdk.KindBadgeData:
		if !s.take(c) {
			return
		}
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
			s.requested[c.Kind] = false
			return
		}
		s.badges = c.Sheet
	}
}

// take consumes the pending guard matching c. Completions for requests that
// are no longer outstanding are ignored.
func (s *Session) take(c sdk.Completion) bool {
	id, ok := s.pending[c.Kind]
	if !ok || id != c.ID {
		s.log.Debug("ignoring stale completion", "kind", c.Kind, "id", c.ID)
		return false
	}
	delete(s.pending, c.Kind)
	return true
}

func (s *Session) advance() {
	switch s.State() {
	case StateInitialized:
		s.requestOnce(sdk.KindEmoticonData, s.svc.DownloadEmoticonData)
		if err := s.connect(); err != nil {
			s.fail(sdk.KindChatStatus, fmt.Errorf("chat: connect: %w", err))
			return
		}
		s.fire(EventConnect)

	case StateConnected:
		s.requestOnce(sdk.KindBadgeData, s.svc.DownloadBadgeData)

	case StateDisconnected, StateShuttingDown:
		s.users.reset()
		s.messages.reset()
	}
}

func (s *Session) connect() error {
	if s.creds != nil {
		if user, token, ok := s.creds(); ok {
			s.anonymous = false
			return s.svc.Connect(user, token)
		}
	}
	s.anonymous = true
	return s.svc.ConnectAnonymous()
}

func (s *Session) requestOnce(kind sdk.RequestKind, call func() (sdk.RequestID, error)) {
	if s.requested[kind] {
		return
	}
	id, err := call()
	if err != nil {
		s.fail(kind, fmt.Errorf("chat: request %s: %w", kind, err))
		return
	}
	s.requested[kind] = true
	s.pending[kind] = id
}

// Reconnect moves a disconnected session back to Initialized so the next
// flush connects again.
func (s *Session) Reconnect() error {
	if !s.m.Can(EventReconnect) {
		return &fsm.TransitionError{Machine: "chat", From: s.State().String(), Event: EventReconnect.String()}
	}
	s.fire(EventReconnect)
	return nil
}

// Disconnect leaves the channel. The session becomes Disconnected when the
// service reports the departure.
func (s *Session) Disconnect() error {
	switch s.State() {
	case StateConnecting, StateConnected:
	default:
		return ErrNotConnected
	}
	if err := s.svc.Disconnect(); err != nil {
		err = fmt.Errorf("chat: disconnect: %w", err)
		s.report(err)
		return err
	}
	return nil
}

// Send posts a message to the channel.
func (s *Session) Send(text string) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if s.anonymous {
		return ErrAnonymous
	}
	if err := s.svc.SendMessage(text); err != nil {
		return fmt.Errorf("chat: send: %w", err)
	}
	return nil
}

// Shutdown drops emoticon and badge data and asks the service to shut
// down. Keep flushing until the state returns to Uninitialized, or use
// WaitShutdown.
func (s *Session) Shutdown() error {
	switch s.State() {
	case StateUninitialized, StateShuttingDown:
		return nil
	}
	if err := s.svc.ClearEmoticonData(); err != nil {
		s.log.Debug("clear emoticon data", "error", err)
	}
	if err := s.svc.ClearBadgeData(); err != nil {
		s.log.Debug("clear badge data", "error", err)
	}
	s.emoticons = nil
	s.badges = nil
	clear(s.requested)
	clear(s.pending)

	id, err := s.svc.ShutdownChat()
	if err != nil {
		err = fmt.Errorf("chat: shutdown: %w", err)
		s.report(err)
		s.resetData()
		s.fire(EventReset)
		return err
	}
	s.pending[sdk.KindChatShutdown] = id
	s.fire(EventShutdown)
	s.log.Info("shutting down")
	return nil
}

// WaitShutdown flushes every interval until the session is Uninitialized
// or ctx is done.
func (s *Session) WaitShutdown(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.Flush()
		if s.State() == StateUninitialized {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Session) resetData() {
	clear(s.pending)
	clear(s.requested)
	s.anonymous = false
	s.users.reset()
	s.messages.reset()
	s.emoticons = nil
	s.badges = nil
}

func (s *Session) fire(ev Event) {
	if err := s.m.Fire(ev); err != nil {
		s.log.Error("transition rejected", "error", err)
	}
}

// tryFire applies an unsolicited event if the current state accepts it.
func (s *Session) tryFire(ev Event) bool {
	if !s.m.Can(ev) {
		s.log.Debug("event ignored", "event", ev, "state", s.State())
		return false
	}
	s.fire(ev)
	return true
}

func (s *Session) fail(kind sdk.RequestKind, err error) {
	s.m.RecordFailure(kind.String())
	s.report(err)
}

func (s *Session) report(err error) {
	s.lastErr = err
	s.log.Warn("chat failure", "state", s.State(), "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// Snapshot is a read-only copy of chat state for other goroutines.
type Snapshot struct {
	State     string            `json:"state"`
	Channel   string            `json:"channel"`
	Anonymous bool              `json:"anonymous"`
	Users     []sdk.ChatUser    `json:"-"`
	Messages  []sdk.ChatMessage `json:"-"`
	UserCount int               `json:"user_count"`
	Emoticons bool              `json:"emoticons"`
	Badges    bool              `json:"badges"`
	LastError string            `json:"last_error,omitempty"`
}

// Snapshot copies the current session state, including users and messages.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:     s.State().String(),
		Channel:   s.channel,
		Anonymous: s.anonymous,
		Users:     s.users.list(),
		Messages:  s.messages.list(),
		UserCount: s.users.size(),
		Emoticons: s.emoticons != nil,
		Badges:    s.badges != nil,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}
