package sdk

import (
	"errors"
	"testing"
)

func authenticated(t *testing.T) (*Loopback, AuthToken) {
	t.Helper()
	l := NewLoopback(LoopbackConfig{})
	if err := l.Init("client"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	id, err := l.RequestAuthToken(Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("RequestAuthToken: %v", err)
	}
	cs := l.PollTasks()
	if len(cs) != 1 || cs[0].ID != id || !cs[0].Succeeded() {
		t.Fatalf("unexpected auth completions: %+v", cs)
	}
	return l, cs[0].Token
}

func TestLoopbackRequiresInit(t *testing.T) {
	t.Parallel()

	l := NewLoopback(LoopbackConfig{})
	if _, err := l.RequestAuthToken(Credentials{Username: "a", Password: "b"}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
	if err := l.Init(""); err == nil {
		t.Fatal("Init with empty client id should fail")
	}
}

func TestLoopbackExactlyOneCompletionPerRequest(t *testing.T) {
	t.Parallel()

	l, token := authenticated(t)

	loginID, _ := l.Login(token)
	ingestID, _ := l.GetIngestServers(token)

	cs := l.PollTasks()
	if len(cs) != 2 {
		t.Fatalf("got %d completions, want 2", len(cs))
	}
	if cs[0].ID != loginID || cs[0].Kind != KindLogin {
		t.Errorf("first completion: got %s %v", cs[0].Kind, cs[0].ID)
	}
	if cs[1].ID != ingestID || len(cs[1].Ingests) != len(DefaultIngests) {
		t.Errorf("second completion: got %s with %d ingests", cs[1].Kind, len(cs[1].Ingests))
	}
	if cs[0].Channel.Name != "alice" {
		t.Errorf("channel: got %q, want %q", cs[0].Channel.Name, "alice")
	}
	if len(l.PollTasks()) != 0 {
		t.Error("poll after drain should be empty")
	}
}

func TestLoopbackFailNext(t *testing.T) {
	t.Parallel()

	l, token := authenticated(t)
	l.FailNext(KindLogin, CodeLoginFailed)

	l.Login(token)
	l.Login(token)
	cs := l.PollTasks()
	if len(cs) != 2 {
		t.Fatalf("got %d completions, want 2", len(cs))
	}
	if cs[0].Code != CodeLoginFailed {
		t.Errorf("first login: got %s, want %s", cs[0].Code, CodeLoginFailed)
	}
	if !cs[1].Succeeded() {
		t.Errorf("second login should succeed, got %s", cs[1].Code)
	}
}

func TestLoopbackInvalidCredentials(t *testing.T) {
	t.Parallel()

	l := NewLoopback(LoopbackConfig{})
	_ = l.Init("client")
	l.RequestAuthToken(Credentials{Username: "alice"})
	cs := l.PollTasks()
	if len(cs) != 1 || cs[0].Code != CodeInvalidCredentials {
		t.Fatalf("got %+v, want one invalid-credentials completion", cs)
	}
}

func TestLoopbackFrameUnlock(t *testing.T) {
	t.Parallel()

	l, _ := authenticated(t)
	params := VideoParams{Width: 4, Height: 2, TargetFPS: 30}
	if err := l.SubmitVideoFrame(make([]byte, params.FrameSize())); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("submit before start: got %v, want ErrNotStreaming", err)
	}
	if err := l.Start(params, DefaultIngests[0]); err != nil {
		t.Fatalf("Start: %v", err)
	}

	frame := make([]byte, params.FrameSize())
	if err := l.SubmitVideoFrame(frame); err != nil {
		t.Fatalf("SubmitVideoFrame: %v", err)
	}
	cs := l.PollTasks()
	if len(cs) != 1 || cs[0].Kind != KindFrameUnlocked || &cs[0].Buffer[0] != &frame[0] {
		t.Fatalf("expected the submitted buffer back, got %+v", cs)
	}
	if l.FramesSubmitted() != 1 {
		t.Errorf("FramesSubmitted: got %d, want 1", l.FramesSubmitted())
	}

	l.FailNext(KindFrameUnlocked, CodeStreamFailed)
	if err := l.SubmitVideoFrame(frame); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("got %v, want ErrRequestFailed", err)
	}
}

func TestLoopbackChatConnectSequence(t *testing.T) {
	t.Parallel()

	l := NewLoopback(LoopbackConfig{})
	if err := l.ConnectAnonymous(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("connect before init: got %v", err)
	}
	l.InitChat("foo")
	if err := l.Connect("alice", AuthToken{Data: "tok"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	cs := l.FlushEvents()
	kinds := make([]RequestKind, len(cs))
	for i, c := range cs {
		kinds[i] = c.Kind
	}
	want := []RequestKind{KindChatInit, KindChatStatus, KindChatMembership, KindChatUsers}
	if len(kinds) != len(want) {
		t.Fatalf("got kinds %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, kinds[i], want[i])
		}
	}

	if err := l.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	cs = l.FlushEvents()
	if len(cs) != 1 || cs[0].Messages[0].Text != "hi" {
		t.Fatalf("expected echoed message, got %+v", cs)
	}
}

func TestLoopbackAnonymousCannotSend(t *testing.T) {
	t.Parallel()

	l := NewLoopback(LoopbackConfig{})
	l.InitChat("foo")
	if err := l.ConnectAnonymous(); err != nil {
		t.Fatalf("ConnectAnonymous: %v", err)
	}
	err := l.SendMessage("hi")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Code != CodeChatAnonymousDenied {
		t.Fatalf("got %v, want anonymous denied", err)
	}
}

func TestLoopbackFailedChatShutdownKeepsInit(t *testing.T) {
	t.Parallel()

	l := NewLoopback(LoopbackConfig{})
	l.InitChat("foo")
	if err := l.ConnectAnonymous(); err != nil {
		t.Fatalf("ConnectAnonymous: %v", err)
	}
	l.FlushEvents()

	l.FailNext(KindChatShutdown, CodeUnknown)
	if _, err := l.ShutdownChat(); err != nil {
		t.Fatalf("ShutdownChat: %v", err)
	}
	cs := l.FlushEvents()
	if len(cs) != 1 || cs[0].Code != CodeUnknown {
		t.Fatalf("got %+v, want one failed shutdown", cs)
	}
	if err := l.ConnectAnonymous(); err != nil {
		t.Fatalf("connect after failed shutdown: %v", err)
	}

	l.FlushEvents()
	if _, err := l.ShutdownChat(); err != nil {
		t.Fatalf("ShutdownChat: %v", err)
	}
	if err := l.ConnectAnonymous(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("connect after shutdown: got %v, want ErrNotInitialized", err)
	}
}
