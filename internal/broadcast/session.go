package broadcast

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/telegraph/internal/fsm"
	"github.com/zsiec/telegraph/internal/ingest"
	"github.com/zsiec/telegraph/internal/sdk"
)

// Video defaults applied by Start.
const (
	DefaultTargetFPS = 30
	MaxTargetFPS     = 60
	DefaultMaxKbps   = 3500
	DefaultRetries   = 3
)

// Config configures a Session.
type Config struct {
	Service  sdk.BroadcastService
	ClientID string

	// MaxRetries is how many consecutive login or ingest lookup failures
	// are retried before the session falls back to Initialized.
	MaxRetries int

	Logger   *slog.Logger
	Recorder fsm.Recorder

	// OnError is called for every failed request or completion.
	OnError func(error)
	// OnStateChange is called after every transition that changes state.
	OnStateChange func(from, to State)
}

// Session drives one broadcaster through authentication, login, and ingest
// discovery to a streamable state. It is not safe for concurrent use: every
// method, including Flush, must be called from the same goroutine.
type Session struct {
	svc        sdk.BroadcastService
	clientID   string
	maxRetries int
	log        *slog.Logger
	m          *fsm.Machine[State, Event]
	onError    func(error)

	pending  map[sdk.RequestKind]sdk.RequestID
	failures int
	lastErr  error

	username string
	token    sdk.AuthToken
	channel  sdk.ChannelInfo
	ingests  []sdk.IngestServer
	server   sdk.IngestServer
	user     sdk.UserInfo
	stream   sdk.StreamInfo

	params    sdk.VideoParams
	buffers   *bufferPool
	submitted int64
}

// New creates a session in StateUninitialized.
func New(cfg Config) (*Session, error) {
	if cfg.Service == nil {
		return nil, errors.New("broadcast: service is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("broadcast: client id is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetries
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "broadcast")

	s := &Session{
		svc:        cfg.Service,
		clientID:   cfg.ClientID,
		maxRetries: cfg.MaxRetries,
		log:        log,
		m:          fsm.New("broadcast", Transitions, StateUninitialized, log, cfg.Recorder),
		onError:    cfg.OnError,
		pending:    make(map[sdk.RequestKind]sdk.RequestID),
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

// IsReadyToStream reports whether Start may be called.
func (s *Session) IsReadyToStream() bool { return s.State() == StateReadyToStream }

// IsStreaming reports whether a stream is running, paused or not.
func (s *Session) IsStreaming() bool {
	st := s.State()
	return st == StateStreaming || st == StatePaused
}

func (s *Session) Username() string { return s.username }
func (s *Session) AuthToken() sdk.AuthToken { return s.token }
func (s *Session) ChannelInfo() sdk.ChannelInfo { return s.channel }
func (s *Session) IngestServer() sdk.IngestServer { return s.server }
func (s *Session) UserInfo() sdk.UserInfo { return s.user }
func (s *Session) StreamInfo() sdk.StreamInfo { return s.stream }

// IngestServers returns the list from the last successful lookup.
func (s *Session) IngestServers() []sdk.IngestServer {
	return append([]sdk.IngestServer(nil), s.ingests...)
}

// LastError returns the most recent failure, or nil.
func (s *Session) LastError() error { return s.lastErr }

// Initialize initializes the service and requests an auth token. It is
// legal from StateUninitialized, and from StateInitialized to retry after a
// failed authentication.
func (s *Session) Initialize(creds sdk.Credentials) error {
	if !s.m.Can(EventInit) {
		return s.illegal(EventInit)
	}
	if err := s.svc.Init(s.clientID); err != nil {
		err = fmt.Errorf("broadcast: init: %w", err)
		s.report(err)
		return err
	}
	s.fire(EventInit)
	s.failures = 0
	s.username = creds.Username

	id, err := s.svc.RequestAuthToken(creds)
	if err != nil {
		err = fmt.Errorf("broadcast: request auth token: %w", err)
		s.report(err)
		return err
	}
	s.pending[sdk.KindAuth] = id
	s.fire(EventAuthRequested)
	s.log.Info("authenticating", "username", creds.Username)
	return nil
}

// Flush applies every queued completion in delivery order, then issues the
// next request the resulting state calls for. It returns the number of
// completions applied.
func (s *Session) Flush() int {
	completions := s.svc.PollTasks()
	for _, c := range completions {
		s.apply(c)
	}
	s.advance()
	return len(completions)
}

func (s *Session) apply(c sdk.Completion) {
	if c.Kind == sdk.KindFrameUnlocked {
		if s.buffers != nil && s.buffers.put(c.Buffer) {
			return
		}
		s.log.Debug("ignoring unlock of unknown buffer")
		return
	}

	id, ok := s.pending[c.Kind]
	if !ok || id != c.ID {
		s.log.Debug("ignoring stale completion", "kind", c.Kind, "id", c.ID)
		return
	}
	delete(s.pending, c.Kind)

	switch c.Kind {
	case sdk.KindAuth:
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
			s.fire(EventAuthFailed)
			return
		}
		s.token = c.Token
		s.fire(EventAuthSucceeded)

	case sdk.KindLogin:
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
			s.retry(EventLoginFailed)
			return
		}
		s.channel = c.Channel
		s.failures = 0
		s.log.Info("logged in", "channel", c.Channel.Name)
		s.fire(EventLoginSucceeded)

	case sdk.KindIngestList:
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
			s.retry(EventIngestFailed)
			return
		}
		server, err := ingest.Select(c.Ingests)
		if err != nil {
			s.fail(c.Kind, err)
			s.retry(EventIngestFailed)
			return
		}
		s.ingests = c.Ingests
		s.server = server
		s.failures = 0
		s.log.Info("ingest server selected", "name", server.Name, "url", server.URL)
		s.fire(EventIngestFound)

	case sdk.KindUserInfo:
		if err := c.Err(); err != nil {
			s.log.Warn("user info unavailable", "error", err)
			return
		}
		s.user = c.User

	case sdk.KindStreamInfo:
		switch {
		case c.Succeeded():
			s.stream = c.Stream
		case c.Code == sdk.CodeNoStreamInfo:
			s.log.Debug("no stream info yet")
		default:
			s.log.Warn("stream info unavailable", "error", c.Err())
		}

	case sdk.KindShutdown:
		if err := c.Err(); err != nil {
			s.fail(c.Kind, err)
		}
		s.resetData()
		s.fire(EventShutdownComplete)
		s.log.Info("shut down")
	}
}

// retry reverts a failed step, or gives up once MaxRetries consecutive
// failures have accumulated.
func (s *Session) retry(failed Event) {
	s.fire(failed)
	s.failures++
	if s.failures >= s.maxRetries {
		s.log.Warn("giving up after repeated failures", "failures", s.failures)
		s.failures = 0
		s.fire(EventGiveUp)
	}
}

func (s *Session) advance() {
	switch s.State() {
	case StateAuthenticated:
		id, err := s.svc.Login(s.token)
		if err != nil {
			s.fail(sdk.KindLogin, fmt.Errorf("broadcast: login: %w", err))
			return
		}
		s.pending[sdk.KindLogin] = id
		s.fire(EventLoginRequested)

	case StateLoggedIn:
		id, err := s.svc.GetIngestServers(s.token)
		if err != nil {
			s.fail(sdk.KindIngestList, fmt.Errorf("broadcast: get ingest servers: %w", err))
			return
		}
		s.pending[sdk.KindIngestList] = id
		s.fire(EventIngestRequested)

	case StateFoundIngestServer:
		s.fire(EventReady)
		s.log.Info("ready to stream", "ingest", s.server.Name)
		s.request(sdk.KindUserInfo, func() (sdk.RequestID, error) {
			return s.svc.GetUserInfo(s.token)
		})
		s.request(sdk.KindStreamInfo, func() (sdk.RequestID, error) {
			return s.svc.GetStreamInfo(s.token, s.channel.Name)
		})
	}
}

// request issues a non-essential request unless one of the same kind is
// already in flight.
func (s *Session) request(kind sdk.RequestKind, call func() (sdk.RequestID, error)) {
	if _, busy := s.pending[kind]; busy {
		return
	}
	id, err := call()
	if err != nil {
		s.log.Warn("request not accepted", "kind", kind, "error", err)
		return
	}
	s.pending[kind] = id
}

// RefreshStreamInfo requests the current stream info. It is a no-op while
// a previous request is in flight or before the session is ready.
func (s *Session) RefreshStreamInfo() {
	switch s.State() {
	case StateReadyToStream, StateStreaming, StatePaused:
		s.request(sdk.KindStreamInfo, func() (sdk.RequestID, error) {
			return s.svc.GetStreamInfo(s.token, s.channel.Name)
		})
	}
}

// Start begins streaming with params. Zero FPS, bitrate, and pixel format
// take defaults. Three capture buffers of width*height*4 bytes are
// allocated for the stream.
func (s *Session) Start(params sdk.VideoParams) error {
	if s.State() != StateReadyToStream {
		return ErrNotReady
	}
	params, err := fillDefaults(params)
	if err != nil {
		return err
	}
	if err := s.svc.Start(params, s.server); err != nil {
		err = fmt.Errorf("broadcast: start: %w", err)
		s.report(err)
		return err
	}
	s.params = params
	s.buffers = newBufferPool(params.FrameSize())
	s.submitted = 0
	s.fire(EventStart)
	s.log.Info("streaming started", "width", params.Width, "height", params.Height,
		"fps", params.TargetFPS, "max_kbps", params.MaxKbps, "ingest", s.server.Name)
	return nil
}

func fillDefaults(p sdk.VideoParams) (sdk.VideoParams, error) {
	if p.Width == 0 || p.Height == 0 {
		return p, fmt.Errorf("%w: %dx%d", ErrInvalidVideoParams, p.Width, p.Height)
	}
	if p.TargetFPS == 0 {
		p.TargetFPS = DefaultTargetFPS
	}
	if p.TargetFPS > MaxTargetFPS {
		return p, fmt.Errorf("%w: %d fps exceeds %d", ErrInvalidVideoParams, p.TargetFPS, MaxTargetFPS)
	}
	if p.MaxKbps == 0 {
		p.MaxKbps = DefaultMaxKbps
	}
	if p.PixelFormat == 0 {
		p.PixelFormat = sdk.PixelFormatBGRA
	}
	if p.PixelFormat != sdk.PixelFormatBGRA {
		return p, fmt.Errorf("%w: unsupported pixel format %d", ErrInvalidVideoParams, p.PixelFormat)
	}
	return p, nil
}

// VideoParams returns the parameters of the running stream.
func (s *Session) VideoParams() sdk.VideoParams { return s.params }

// NextFreeBuffer hands out a capture buffer to fill with one BGRA frame.
func (s *Session) NextFreeBuffer() ([]byte, error) {
	if !s.IsStreaming() {
		return nil, ErrNotStreaming
	}
	b, ok := s.buffers.get()
	if !ok {
		return nil, ErrNoFreeBuffer
	}
	return b, nil
}

// SubmitFrame sends a buffer obtained from NextFreeBuffer. Submitting while
// paused resumes the stream. If the service rejects the frame the stream is
// stopped and the returned error matches ErrStreamLost.
func (s *Session) SubmitFrame(buf []byte) error {
	if !s.IsStreaming() {
		return ErrNotStreaming
	}
	if !s.buffers.owns(buf) {
		return ErrForeignBuffer
	}
	if s.State() == StatePaused {
		s.fire(EventResume)
	}
	if err := s.svc.SubmitVideoFrame(buf); err != nil {
		s.buffers.put(buf)
		err = fmt.Errorf("%w: %w", ErrStreamLost, err)
		s.fail(sdk.KindFrameUnlocked, err)
		s.stop()
		return err
	}
	s.submitted++
	return nil
}

// FramesSubmitted returns the frames accepted since Start.
func (s *Session) FramesSubmitted() int64 { return s.submitted }

// FreeBuffers returns the number of capture buffers available.
func (s *Session) FreeBuffers() int {
	if s.buffers == nil {
		return 0
	}
	return s.buffers.available()
}

// Pause pauses a running stream. The next SubmitFrame resumes it.
func (s *Session) Pause() error {
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	if err := s.svc.PauseVideo(); err != nil {
		err = fmt.Errorf("broadcast: pause: %w", err)
		s.report(err)
		return err
	}
	s.fire(EventPause)
	return nil
}

// Stop ends the stream and releases the capture buffers.
func (s *Session) Stop() error {
	if !s.IsStreaming() {
		return ErrNotStreaming
	}
	return s.stop()
}

func (s *Session) stop() error {
	err := s.svc.Stop()
	if err != nil {
		err = fmt.Errorf("broadcast: stop: %w", err)
		s.report(err)
	}
	s.buffers = nil
	s.fire(EventStop)
	s.log.Info("streaming stopped", "frames", s.submitted)
	return err
}

// Shutdown stops any stream and asks the service to shut down. Later
// flushes complete the shutdown; if the request is rejected outright the
// session resets to StateUninitialized immediately.
func (s *Session) Shutdown() error {
	switch s.State() {
	case StateUninitialized, StateShuttingDown:
		return nil
	}
	if s.IsStreaming() {
		if err := s.svc.Stop(); err != nil {
			s.log.Warn("stop before shutdown failed", "error", err)
		}
		s.buffers = nil
	}
	clear(s.pending)

	id, err := s.svc.Shutdown()
	if err != nil {
		err = fmt.Errorf("broadcast: shutdown: %w", err)
		s.report(err)
		s.resetData()
		s.fire(EventReset)
		return err
	}
	s.pending[sdk.KindShutdown] = id
	s.fire(EventShutdown)
	s.log.Info("shutting down")
	return nil
}

func (s *Session) resetData() {
	clear(s.pending)
	s.failures = 0
	s.token = sdk.AuthToken{}
	s.channel = sdk.ChannelInfo{}
	s.ingests = nil
	s.server = sdk.IngestServer{}
	s.user = sdk.UserInfo{}
	s.stream = sdk.StreamInfo{}
	s.buffers = nil
}

func (s *Session) fire(ev Event) {
	if err := s.m.Fire(ev); err != nil {
		s.log.Error("transition rejected", "error", err)
	}
}

func (s *Session) illegal(ev Event) error {
	return &fsm.TransitionError{Machine: "broadcast", From: s.State().String(), Event: ev.String()}
}

func (s *Session) fail(kind sdk.RequestKind, err error) {
	s.m.RecordFailure(kind.String())
	s.report(err)
}

func (s *Session) report(err error) {
	s.lastErr = err
	s.log.Warn("request failed", "state", s.State(), "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// Snapshot is a read-only copy of session state for observers on other
// goroutines.
type Snapshot struct {
	State           string `json:"state"`
	Username        string `json:"username,omitempty"`
	Channel         string `json:"channel,omitempty"`
	ChannelURL      string `json:"channel_url,omitempty"`
	IngestName      string `json:"ingest_name,omitempty"`
	IngestURL       string `json:"ingest_url,omitempty"`
	Viewers         int    `json:"viewers"`
	Streaming       bool   `json:"streaming"`
	Width           uint   `json:"width,omitempty"`
	Height          uint   `json:"height,omitempty"`
	FramesSubmitted int64  `json:"frames_submitted"`
	LastError       string `json:"last_error,omitempty"`
}

// Snapshot copies the current session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:           s.State().String(),
		Username:        s.username,
		Channel:         s.channel.Name,
		ChannelURL:      s.channel.ChannelURL,
		IngestName:      s.server.Name,
		IngestURL:       s.server.URL,
		Viewers:         s.stream.Viewers,
		Streaming:       s.IsStreaming(),
		FramesSubmitted: s.submitted,
	}
	if snap.Streaming {
		snap.Width = s.params.Width
		snap.Height = s.params.Height
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}
