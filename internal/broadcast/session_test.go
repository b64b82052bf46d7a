package broadcast

import (
	"errors"
	"testing"

	"github.com/zsiec/telegraph/internal/fsm"
	"github.com/zsiec/telegraph/internal/sdk"
)

var testCreds = sdk.Credentials{Username: "alice", Password: "secret", ClientID: "cid"}

func newTestSession(t *testing.T, lb *sdk.Loopback, cfg Config) *Session {
	t.Helper()
	cfg.Service = lb
	if cfg.ClientID == "" {
		cfg.ClientID = "cid"
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func flushUntil(t *testing.T, s *Session, want State, max int) {
	t.Helper()
	for i := 0; i < max; i++ {
		if s.State() == want {
			return
		}
		s.Flush()
	}
	if s.State() != want {
		t.Fatalf("state = %s after %d flushes, want %s", s.State(), max, want)
	}
}

func readySession(t *testing.T) (*Session, *sdk.Loopback) {
	t.Helper()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	s := newTestSession(t, lb, Config{})
	if err := s.Initialize(testCreds); err != nil {
		t.Fatal(err)
	}
	flushUntil(t, s, StateReadyToStream, 10)
	s.Flush()
	return s, lb
}

func TestProgressesMonotonicallyToReady(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	var states []State
	s := newTestSession(t, lb, Config{
		OnStateChange: func(_, to State) { states = append(states, to) },
	})

	if err := s.Initialize(testCreds); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.Flush()
	}
	if s.State() != StateReadyToStream {
		t.Fatalf("state = %s, want %s", s.State(), StateReadyToStream)
	}

	want := []State{
		StateInitialized, StateAuthenticating, StateAuthenticated, StateLoggingIn,
		StateLoggedIn, StateFindingIngestServer, StateFoundIngestServer, StateReadyToStream,
	}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
		if i > 0 && states[i] <= states[i-1] {
			t.Fatalf("state %s revisited after %s", states[i], states[i-1])
		}
	}

	if !s.AuthToken().Valid() {
		t.Fatal("auth token not stored")
	}
	if s.ChannelInfo().Name != "alice" {
		t.Fatalf("channel = %q, want alice", s.ChannelInfo().Name)
	}
	if !s.IngestServer().Default {
		t.Fatalf("ingest = %+v, want the default server", s.IngestServer())
	}
	if s.UserInfo().Name != "alice" {
		t.Fatalf("user = %+v", s.UserInfo())
	}
	if s.LastError() != nil {
		t.Fatalf("stream info absence must not be an error: %v", s.LastError())
	}
}

func TestAuthFailureAllowsRetry(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	var reported []error
	s := newTestSession(t, lb, Config{OnError: func(err error) { reported = append(reported, err) }})

	lb.FailNext(sdk.KindAuth, sdk.CodeAuthFailed)
	if err := s.Initialize(testCreds); err != nil {
		t.Fatal(err)
	}
	s.Flush()
	if s.State() != StateInitialized {
		t.Fatalf("state = %s, want %s", s.State(), StateInitialized)
	}
	if !errors.Is(s.LastError(), sdk.ErrRequestFailed) {
		t.Fatalf("last error = %v, want ErrRequestFailed", s.LastError())
	}
	var re *sdk.RequestError
	if !errors.As(s.LastError(), &re) || re.Code != sdk.CodeAuthFailed {
		t.Fatalf("last error = %v, want auth failure code", s.LastError())
	}
	if len(reported) != 1 {
		t.Fatalf("OnError called %d times, want 1", len(reported))
	}

	if err := s.Initialize(testCreds); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if s.State() != StateAuthenticating {
		t.Fatalf("state = %s, want %s", s.State(), StateAuthenticating)
	}
	flushUntil(t, s, StateReadyToStream, 10)
}

func TestInitializeRejectedWhileBusy(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	s := newTestSession(t, lb, Config{})
	if err := s.Initialize(testCreds); err != nil {
		t.Fatal(err)
	}
	err := s.Initialize(testCreds)
	if !errors.Is(err, fsm.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if s.State() != StateAuthenticating {
		t.Fatalf("state = %s, want %s", s.State(), StateAuthenticating)
	}
}

func TestInvalidCredentialsFailAuth(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	s := newTestSession(t, lb, Config{})
	if err := s.Initialize(sdk.Credentials{Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	s.Flush()
	if s.State() != StateInitialized {
		t.Fatalf("state = %s, want %s", s.State(), StateInitialized)
	}
}

func TestLoginFailureRetriedNextFlush(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	s := newTestSession(t, lb, Config{})
	lb.FailNext(sdk.KindLogin, sdk.CodeLoginFailed)
	if err := s.Initialize(testCreds); err != nil {
		t.Fatal(err)
	}
	s.Flush() // auth ok, login requested (fails)
	s.Flush() // login failure reverts, login requested again
	if s.State() != StateLoggingIn {
		t.Fatalf("state = %s, want %s", s.State(), StateLoggingIn)
	}
	if !errors.Is(s.LastError(), sdk.ErrRequestFailed) {
		t.Fatalf("last error = %v", s.LastError())
	}
	flushUntil(t, s, StateReadyToStream, 10)
}

func TestRepeatedLoginFailuresGiveUp(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	s := newTestSession(t, lb, Config{MaxRetries: 3})
	if err := s.Initialize(testCreds); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		lb.FailNext(sdk.KindLogin, sdk.CodeLoginFailed)
		s.Flush()
	}
	if s.State() != StateLoggingIn {
		t.Fatalf("state = %s, want %s", s.State(), StateLoggingIn)
	}
	s.Flush()
	if s.State() != StateInitialized {
		t.Fatalf("state = %s, want %s after repeated failures", s.State(), StateInitialized)
	}
	s.Flush()
	if s.State() != StateInitialized {
		t.Fatalf("state = %s, want to stay %s until Initialize", s.State(), StateInitialized)
	}
}

func TestEmptyIngestListRetried(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{Ingests: []sdk.IngestServer{}})
	s := newTestSession(t, lb, Config{})
	if err := s.Initialize(testCreds); err != nil {
		t.Fatal(err)
	}
	s.Flush()
	s.Flush()
	s.Flush() // empty list reverts to LoggedIn and retries
	if s.State() != StateFindingIngestServer {
		t.Fatalf("state = %s, want %s", s.State(), StateFindingIngestServer)
	}

	lb.SetIngests([]sdk.IngestServer{
		{Name: "a", URL: "srt://10.0.0.1:9000"},
		{Name: "b", URL: "srt://10.0.0.2:9000"},
	})
	flushUntil(t, s, StateReadyToStream, 5)
	if got := s.IngestServer().Name; got != "a" {
		t.Fatalf("ingest = %q, want first server when none is default", got)
	}
}

func TestStartRequiresReady(t *testing.T) {
	t.Parallel()
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	s := newTestSession(t, lb, Config{})
	if err := s.Start(sdk.VideoParams{Width: 4, Height: 2}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestStartValidatesParams(t *testing.T) {
	t.Parallel()
	s, _ := readySession(t)
	tests := []sdk.VideoParams{
		{Width: 0, Height: 2},
		{Width: 4, Height: 2, TargetFPS: 240},
		{Width: 4, Height: 2, PixelFormat: 9},
	}
	for _, p := range tests {
		if err := s.Start(p); !errors.Is(err, ErrInvalidVideoParams) {
			t.Errorf("Start(%+v) err = %v, want ErrInvalidVideoParams", p, err)
		}
	}
	if s.State() != StateReadyToStream {
		t.Fatalf("state = %s, want %s", s.State(), StateReadyToStream)
	}
}

func TestStreamingBufferRotation(t *testing.T) {
	t.Parallel()
	s, lb := readySession(t)
	if err := s.Start(sdk.VideoParams{Width: 4, Height: 2}); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateStreaming {
		t.Fatalf("state = %s, want %s", s.State(), StateStreaming)
	}
	if p := s.VideoParams(); p.TargetFPS != DefaultTargetFPS || p.MaxKbps != DefaultMaxKbps {
		t.Fatalf("defaults not applied: %+v", p)
	}

	var bufs [][]byte
	for i := 0; i < 3; i++ {
		b, err := s.NextFreeBuffer()
		if err != nil {
			t.Fatalf("buffer %d: %v", i, err)
		}
		if len(b) != 4*2*4 {
			t.Fatalf("buffer size = %d, want %d", len(b), 4*2*4)
		}
		bufs = append(bufs, b)
	}
	if _, err := s.NextFreeBuffer(); !errors.Is(err, ErrNoFreeBuffer) {
		t.Fatalf("err = %v, want ErrNoFreeBuffer", err)
	}

	if err := s.SubmitFrame(make([]byte, 32)); !errors.Is(err, ErrForeignBuffer) {
		t.Fatalf("err = %v, want ErrForeignBuffer", err)
	}
	for _, b := range bufs {
		if err := s.SubmitFrame(b); err != nil {
			t.Fatal(err)
		}
	}
	if lb.FramesSubmitted() != 3 || s.FramesSubmitted() != 3 {
		t.Fatalf("frames = %d/%d, want 3", lb.FramesSubmitted(), s.FramesSubmitted())
	}

	s.Flush()
	if s.FreeBuffers() != 3 {
		t.Fatalf("free buffers = %d, want 3 after unlocks", s.FreeBuffers())
	}
}

func TestPauseAndResumeOnSubmit(t *testing.T) {
	t.Parallel()
	s, _ := readySession(t)
	if err := s.Pause(); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("err = %v, want ErrNotStreaming", err)
	}
	if err := s.Start(sdk.VideoParams{Width: 2, Height: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StatePaused {
		t.Fatalf("state = %s, want %s", s.State(), StatePaused)
	}
	b, err := s.NextFreeBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitFrame(b); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateStreaming {
		t.Fatalf("state = %s, want %s", s.State(), StateStreaming)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateReadyToStream {
		t.Fatalf("state = %s, want %s", s.State(), StateReadyToStream)
	}
	if s.FreeBuffers() != 0 {
		t.Fatalf("buffers not released after stop")
	}
	s.Flush() // late unlock for a released buffer is ignored
}

func TestSubmitFailureStopsStream(t *testing.T) {
	t.Parallel()
	s, lb := readySession(t)
	if err := s.Start(sdk.VideoParams{Width: 2, Height: 2}); err != nil {
		t.Fatal(err)
	}
	b, err := s.NextFreeBuffer()
	if err != nil {
		t.Fatal(err)
	}
	lb.FailNext(sdk.KindFrameUnlocked, sdk.CodeStreamFailed)
	err = s.SubmitFrame(b)
	if !errors.Is(err, ErrStreamLost) {
		t.Fatalf("err = %v, want ErrStreamLost", err)
	}
	if !errors.Is(err, sdk.ErrRequestFailed) {
		t.Fatalf("err = %v, want the service failure wrapped", err)
	}
	if s.State() != StateReadyToStream {
		t.Fatalf("state = %s, want %s", s.State(), StateReadyToStream)
	}
	if lb.Streaming() {
		t.Fatal("service still streaming after submit failure")
	}
}

func TestShutdownDrainsToUninitialized(t *testing.T) {
	t.Parallel()
	s, lb := readySession(t)
	if err := s.Start(sdk.VideoParams{Width: 2, Height: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateShuttingDown {
		t.Fatalf("state = %s, want %s", s.State(), StateShuttingDown)
	}
	if lb.Streaming() {
		t.Fatal("stream not stopped by shutdown")
	}
	s.Flush()
	if s.State() != StateUninitialized {
		t.Fatalf("state = %s, want %s", s.State(), StateUninitialized)
	}
	if s.AuthToken().Valid() {
		t.Fatal("token survived shutdown")
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if err := s.Initialize(testCreds); err != nil {
		t.Fatalf("Initialize after shutdown: %v", err)
	}
	flushUntil(t, s, StateReadyToStream, 10)
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()
	a, _ := readySession(t)
	lb := sdk.NewLoopback(sdk.LoopbackConfig{})
	b := newTestSession(t, lb, Config{})
	if a.State() != StateReadyToStream || b.State() != StateUninitialized {
		t.Fatalf("states = %s, %s", a.State(), b.State())
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s, _ := readySession(t)
	if err := s.Start(sdk.VideoParams{Width: 8, Height: 4}); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.State != "streaming" || !snap.Streaming {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Width != 8 || snap.Height != 4 {
		t.Fatalf("dimensions = %dx%d, want 8x4", snap.Width, snap.Height)
	}
	if snap.IngestName != "loopback-primary" {
		t.Fatalf("ingest = %q", snap.IngestName)
	}
}
