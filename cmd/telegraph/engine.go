package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/telegraph/internal/api"
	"github.com/zsiec/telegraph/internal/broadcast"
	"github.com/zsiec/telegraph/internal/chat"
	"github.com/zsiec/telegraph/internal/feed"
	"github.com/zsiec/telegraph/internal/fsm"
	"github.com/zsiec/telegraph/internal/sdk"
)

// engine owns both sessions and is the only goroutine that touches them.
// Each tick it flushes completions, advances streaming, and publishes
// snapshots for the API.
type engine struct {
	log      *slog.Logger
	bc       *broadcast.Session
	chat     *chat.Session
	api      *api.Server
	hub      *feed.Hub
	creds    sdk.Credentials
	params   sdk.VideoParams
	stream   bool
	announce string
	delay    time.Duration

	started     time.Time
	frame       uint64
	announced   bool
	chatStarted bool
	authRetry   time.Time
	chatRetry   time.Time
}

// service is a backend implementing both session collaborators, such as
// sdk.Loopback.
type service interface {
	sdk.BroadcastService
	sdk.ChatService
}

type engineConfig struct {
	Service    service
	Channel    string
	Creds      sdk.Credentials
	ClientID   string
	MaxRetries int
	History    int
	Params     sdk.VideoParams
	Stream     bool
	Announce   string
	RetryDelay time.Duration
	API        *api.Server
	Hub        *feed.Hub
	Recorder   fsm.Recorder
	Logger     *slog.Logger
}

func newEngine(cfg engineConfig) (*engine, error) {
	e := &engine{
		log:      cfg.Logger.With("component", "engine"),
		api:      cfg.API,
		hub:      cfg.Hub,
		creds:    cfg.Creds,
		params:   cfg.Params,
		stream:   cfg.Stream,
		announce: cfg.Announce,
		delay:    cfg.RetryDelay,
		started:  time.Now(),
	}

	bc, err := broadcast.New(broadcast.Config{
		Service:    cfg.Service,
		ClientID:   cfg.ClientID,
		MaxRetries: cfg.MaxRetries,
		Logger:     cfg.Logger,
		Recorder:   cfg.Recorder,
		OnError:    e.onError("broadcast"),
		OnStateChange: func(from, to broadcast.State) {
			e.hub.PublishSession("broadcast", from.String(), to.String())
		},
	})
	if err != nil {
		return nil, err
	}
	e.bc = bc

	cs, err := chat.New(chat.Config{
		Service:     cfg.Service,
		Channel:     cfg.Channel,
		Credentials: e.chatCredentials,
		History:     cfg.History,
		Logger:      cfg.Logger,
		Recorder:    cfg.Recorder,
		OnError:     e.onError("chat"),
		OnStateChange: func(from, to chat.State) {
			e.hub.PublishSession("chat", from.String(), to.String())
		},
		OnMessage: func(m sdk.ChatMessage) {
			e.hub.PublishCaption(chat.Caption(m, time.Since(e.started).Microseconds()))
		},
	})
	if err != nil {
		return nil, err
	}
	e.chat = cs
	return e, nil
}

func (e *engine) onError(machine string) func(error) {
	return func(err error) {
		e.log.Warn("session error", "machine", machine, "error", err)
	}
}

// chatCredentials connects as the broadcasting user once it holds a token,
// anonymously otherwise.
func (e *engine) chatCredentials() (string, sdk.AuthToken, bool) {
	tok := e.bc.AuthToken()
	if !tok.Valid() {
		return "", sdk.AuthToken{}, false
	}
	return e.bc.Username(), tok, true
}

// run ticks until ctx ends, then shuts both sessions down.
func (e *engine) run(ctx context.Context, interval time.Duration) error {
	if e.creds.Username != "" {
		if err := e.bc.Initialize(e.creds); err != nil {
			return fmt.Errorf("initialize broadcast: %w", err)
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.shutdown(interval)
		case <-t.C:
			e.tick()
		}
	}
}

func (e *engine) tick() {
	e.bc.Flush()
	e.retryBroadcast()
	e.startChat()
	e.chat.Flush()
	e.retryChat()

	if e.stream {
		e.pump()
	}
	if e.announce != "" && !e.announced && e.chat.State() == chat.StateConnected && !e.chat.Anonymous() {
		if err := e.chat.Send(e.announce); err != nil {
			e.log.Warn("announce", "error", err)
		}
		e.announced = true
	}
	e.publish()
}

// retryBroadcast logs in again after a failed authentication or after the
// session gave up on login or ingest selection.
func (e *engine) retryBroadcast() {
	if e.creds.Username == "" {
		return
	}
	switch e.bc.State() {
	case broadcast.StateUninitialized, broadcast.StateInitialized:
	default:
		e.authRetry = time.Time{}
		return
	}
	if !e.due(&e.authRetry) {
		return
	}
	e.log.Info("retrying broadcast login", "last_error", e.bc.LastError())
	if err := e.bc.Initialize(e.creds); err != nil {
		e.log.Warn("initialize broadcast", "error", err)
	}
}

// startChat initializes chat. With a username it waits for the broadcast
// login so it joins with the user's token instead of anonymously. Only a
// repeat after a failed init waits for the retry delay.
func (e *engine) startChat() {
	if e.chat.State() != chat.StateUninitialized {
		return
	}
	if e.creds.Username != "" && !e.bc.AuthToken().Valid() {
		return
	}
	if e.chatStarted && !e.due(&e.chatRetry) {
		return
	}
	e.chatStarted = true
	if err := e.chat.Initialize(); err != nil {
		e.log.Warn("initialize chat", "error", err)
	}
}

// retryChat reconnects a disconnected chat session after the retry delay.
func (e *engine) retryChat() {
	if e.chat.State() != chat.StateDisconnected {
		if e.chat.State() != chat.StateUninitialized {
			e.chatRetry = time.Time{}
		}
		return
	}
	if !e.due(&e.chatRetry) {
		return
	}
	e.log.Info("reconnecting chat", "last_error", e.chat.LastError())
	if err := e.chat.Reconnect(); err != nil {
		e.log.Warn("reconnect chat", "error", err)
	}
}

// due arms the retry deadline at the first call and reports true once it
// has passed, clearing it for the next failure.
func (e *engine) due(at *time.Time) bool {
	now := time.Now()
	if at.IsZero() {
		*at = now.Add(e.delay)
	}
	if now.Before(*at) {
		return false
	}
	*at = time.Time{}
	return true
}

// pump starts the stream once ready and submits one synthetic frame per
// tick while streaming.
func (e *engine) pump() {
	if e.bc.IsReadyToStream() {
		if err := e.bc.Start(e.params); err != nil {
			e.log.Warn("start stream", "error", err)
			return
		}
	}
	if !e.bc.IsStreaming() {
		return
	}
	buf, err := e.bc.NextFreeBuffer()
	if errors.Is(err, broadcast.ErrNoFreeBuffer) {
		return
	}
	if err != nil {
		e.log.Warn("next frame buffer", "error", err)
		return
	}
	fillFrame(buf, e.frame)
	e.frame++
	if err := e.bc.SubmitFrame(buf); err != nil {
		e.log.Warn("submit frame", "error", err)
	}
}

// fillFrame paints a BGRA gradient that scrolls with n.
func fillFrame(buf []byte, n uint64) {
	shift := byte(n)
	for i := 0; i+3 < len(buf); i += 4 {
		v := byte(i/4) + shift
		buf[i] = v
		buf[i+1] = v >> 1
		buf[i+2] = ^v
		buf[i+3] = 0xFF
	}
}

func (e *engine) publish() {
	bs := e.bc.Snapshot()
	cs := e.chat.Snapshot()
	e.api.PublishSessions(api.Sessions{Broadcast: &bs, Chat: &cs})
}

// shutdown asks both sessions to shut down and flushes until they reach
// Uninitialized or the grace period runs out.
func (e *engine) shutdown(interval time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := e.bc.Shutdown(); err != nil {
		e.log.Warn("broadcast shutdown", "error", err)
	}
	if err := e.chat.Shutdown(); err != nil {
		e.log.Warn("chat shutdown", "error", err)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		e.bc.Flush()
		e.chat.Flush()
		e.publish()
		if e.bc.State() == broadcast.StateUninitialized && e.chat.State() == chat.StateUninitialized {
			e.log.Info("sessions shut down")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("session shutdown: broadcast %s, chat %s: %w",
				e.bc.State(), e.chat.State(), ctx.Err())
		case <-t.C:
		}
	}
}
