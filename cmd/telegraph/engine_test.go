package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/telegraph/internal/api"
	"github.com/zsiec/telegraph/internal/broadcast"
	"github.com/zsiec/telegraph/internal/chat"
	"github.com/zsiec/telegraph/internal/feed"
	"github.com/zsiec/telegraph/internal/sdk"
)

func newTestEngine(t *testing.T, creds sdk.Credentials, stream bool, announce string) (*engine, *sdk.Loopback, *feed.Hub) {
	t.Helper()
	return newTestEngineDelay(t, creds, stream, announce, 0)
}

func newTestEngineDelay(t *testing.T, creds sdk.Credentials, stream bool, announce string, delay time.Duration) (*engine, *sdk.Loopback, *feed.Hub) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := feed.NewHub(feed.Options{Buffer: 256, Logger: log})
	t.Cleanup(hub.Close)

	srv, err := api.New(api.Config{Addr: ":0", Feed: hub, Logger: log})
	if err != nil {
		t.Fatalf("api.New() error: %v", err)
	}
	svc := sdk.NewLoopback(sdk.LoopbackConfig{Logger: log})
	e, err := newEngine(engineConfig{
		Service:    svc,
		Channel:    "foo",
		Creds:      creds,
		ClientID:   "test",
		MaxRetries: 3,
		History:    10,
		Params:     sdk.VideoParams{Width: 16, Height: 8},
		Stream:     stream,
		Announce:   announce,
		RetryDelay: delay,
		API:        srv,
		Hub:        hub,
		Logger:     log,
	})
	if err != nil {
		t.Fatalf("newEngine() error: %v", err)
	}
	return e, svc, hub
}

func drain(sub *feed.Subscriber) []feed.Message {
	var out []feed.Message
	for {
		select {
		case m, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestEngineStreamsAndAnnounces(t *testing.T) {
	t.Parallel()
	creds := sdk.Credentials{Username: "alice", Password: "secret", ClientID: "test"}
	e, svc, hub := newTestEngine(t, creds, true, "hi")
	sub := hub.Subscribe()

	if err := e.bc.Initialize(creds); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	for range 20 {
		e.tick()
	}

	if got := e.bc.State(); got != broadcast.StateStreaming {
		t.Fatalf("broadcast state = %s, want streaming", got)
	}
	if n := svc.FramesSubmitted(); n == 0 {
		t.Fatal("no frames reached the service")
	}
	if got := e.chat.State(); got != chat.StateConnected {
		t.Fatalf("chat state = %s, want connected", got)
	}
	if e.chat.Anonymous() {
		t.Fatal("chat should join as the broadcast user")
	}

	var caption, sessions bool
	for _, m := range drain(sub) {
		switch m.Kind {
		case feed.KindCaption:
			if m.Caption.Text == "alice: hi" && m.Caption.Channel == chat.CaptionChannel {
				caption = true
			}
		case feed.KindSession:
			sessions = true
		}
	}
	if !caption {
		t.Fatal("announce echo was not published as a caption")
	}
	if !sessions {
		t.Fatal("no session changes were published")
	}

	if err := e.shutdown(time.Millisecond); err != nil {
		t.Fatalf("shutdown() error: %v", err)
	}
	if e.bc.State() != broadcast.StateUninitialized || e.chat.State() != chat.StateUninitialized {
		t.Fatalf("after shutdown: broadcast %s, chat %s", e.bc.State(), e.chat.State())
	}
	if svc.Streaming() {
		t.Fatal("service still streaming after shutdown")
	}
}

func TestEngineAnonymousChat(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t, sdk.Credentials{}, false, "ignored")

	if err := e.chat.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	for range 5 {
		e.tick()
	}
	if got := e.chat.State(); got != chat.StateConnected {
		t.Fatalf("chat state = %s, want connected", got)
	}
	if !e.chat.Anonymous() {
		t.Fatal("chat without credentials should be anonymous")
	}
	if e.announced {
		t.Fatal("anonymous chat should not announce")
	}
	if got := e.bc.State(); got != broadcast.StateUninitialized {
		t.Fatalf("broadcast state = %s, want uninitialized", got)
	}
}

func TestFillFrame(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 16*4)
	fillFrame(buf, 0)
	for i := 3; i < len(buf); i += 4 {
		if buf[i] != 0xFF {
			t.Fatalf("alpha at %d = %#x, want 0xff", i, buf[i])
		}
	}
	first := buf[0]
	fillFrame(buf, 1)
	if buf[0] != first+1 {
		t.Fatalf("blue after shift = %d, want %d", buf[0], first+1)
	}
}

func TestParseServers(t *testing.T) {
	t.Parallel()

	got, err := parseServers(nil)
	if err != nil || len(got) != len(sdk.DefaultIngests) {
		t.Fatalf("parseServers(nil) = %v, %v; want defaults", got, err)
	}

	got, err = parseServers([]string{"east=srt://a:9000?streamid=x=y"})
	if err != nil {
		t.Fatalf("parseServers() error: %v", err)
	}
	if got[0].Name != "east" || got[0].URL != "srt://a:9000?streamid=x=y" {
		t.Fatalf("server = %+v", got[0])
	}

	for _, bad := range []string{"east", "=srt://a:1", "east="} {
		if _, err := parseServers([]string{bad}); err == nil || !strings.Contains(err.Error(), "name=url") {
			t.Errorf("parseServers(%q) error = %v, want name=url error", bad, err)
		}
	}
}

func TestEngineRetriesFailedAuth(t *testing.T) {
	t.Parallel()
	creds := sdk.Credentials{Username: "alice", Password: "secret", ClientID: "test"}
	e, svc, _ := newTestEngine(t, creds, false, "")
	svc.FailNext(sdk.KindAuth, sdk.CodeAuthFailed)

	if err := e.bc.Initialize(creds); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	for range 10 {
		e.tick()
	}
	if got := e.bc.State(); got != broadcast.StateReadyToStream {
		t.Fatalf("broadcast state = %s, want ready_to_stream", got)
	}
	if got := e.chat.State(); got != chat.StateConnected {
		t.Fatalf("chat state = %s, want connected", got)
	}
	if e.chat.Anonymous() {
		t.Fatal("chat should join as the broadcast user after the retry")
	}
}

func TestEngineWaitsBeforeRetryingAuth(t *testing.T) {
	t.Parallel()
	creds := sdk.Credentials{Username: "alice", Password: "secret", ClientID: "test"}
	e, svc, _ := newTestEngineDelay(t, creds, false, "", time.Hour)
	svc.FailNext(sdk.KindAuth, sdk.CodeAuthFailed)

	if err := e.bc.Initialize(creds); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	for range 5 {
		e.tick()
	}
	if got := e.bc.State(); got != broadcast.StateInitialized {
		t.Fatalf("broadcast state = %s, want initialized until the delay passes", got)
	}
	if got := e.chat.State(); got != chat.StateUninitialized {
		t.Fatalf("chat state = %s, want uninitialized without a token", got)
	}
}

func TestEngineReconnectsChat(t *testing.T) {
	t.Parallel()
	e, svc, hub := newTestEngine(t, sdk.Credentials{}, false, "")
	sub := hub.Subscribe()

	for range 3 {
		e.tick()
	}
	if got := e.chat.State(); got != chat.StateConnected {
		t.Fatalf("chat state = %s, want connected", got)
	}

	lost := sdk.Completion{Kind: sdk.KindChatStatus, Code: sdk.CodeChatLostConnection}
	if err := svc.InjectChat(lost); err != nil {
		t.Fatalf("InjectChat() error: %v", err)
	}
	for range 3 {
		e.tick()
	}
	if got := e.chat.State(); got != chat.StateConnected {
		t.Fatalf("chat state after lost connection = %s, want connected", got)
	}

	var path []string
	for _, m := range drain(sub) {
		if m.Kind == feed.KindSession && m.Session.Machine == "chat" {
			path = append(path, m.Session.To)
		}
	}
	want := []string{
		chat.StateInitializing.String(), chat.StateInitialized.String(), chat.StateConnecting.String(), chat.StateConnected.String(),
		chat.StateDisconnected.String(), chat.StateInitialized.String(), chat.StateConnecting.String(), chat.StateConnected.String(),
	}
	if len(path) != len(want) {
		t.Fatalf("chat transitions = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("chat transitions = %v, want %v", path, want)
		}
	}
}

func TestEngineWaitsBeforeReconnectingChat(t *testing.T) {
	t.Parallel()
	e, svc, _ := newTestEngineDelay(t, sdk.Credentials{}, false, "", time.Hour)
	for range 3 {
		e.tick()
	}
	if got := e.chat.State(); got != chat.StateConnected {
		t.Fatalf("chat state = %s, want connected", got)
	}
	if err := svc.InjectChat(sdk.Completion{Kind: sdk.KindChatMembership, Membership: sdk.MembershipLeft}); err != nil {
		t.Fatalf("InjectChat() error: %v", err)
	}
	for range 3 {
		e.tick()
	}
	if got := e.chat.State(); got != chat.StateDisconnected {
		t.Fatalf("chat state = %s, want disconnected until the delay passes", got)
	}
}
