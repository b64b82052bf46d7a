package sdk

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultIngests is the ingest list a Loopback reports when none is configured.
var DefaultIngests = []IngestServer{
	{Name: "loopback-primary", URL: "srt://127.0.0.1:6000?streamid=live/{stream_key}", Default: true},
	{Name: "loopback-secondary", URL: "srt://127.0.0.1:6001?streamid=live/{stream_key}"},
}

var (
	errEmptyClientID    = errors.New("sdk: client id is required")
	errAlreadyConnected = errors.New("sdk: chat already in channel")
	errNoIngestURL      = errors.New("sdk: ingest server has no URL")
)

// LoopbackConfig configures a Loopback service.
type LoopbackConfig struct {
	Ingests       []IngestServer
	QueueCapacity int
	Logger        *slog.Logger
}

// Loopback is an in-process BroadcastService and ChatService. Requests
// complete immediately into the matching queue and are handed out by the
// next PollTasks or FlushEvents call. Failures are injected with FailNext.
type Loopback struct {
	log   *slog.Logger
	tasks *Queue
	chat  *Queue

	mu          sync.Mutex
	failNext    map[RequestKind]ErrorCode
	ingests     []IngestServer
	initialized bool
	creds       Credentials
	token       AuthToken
	streaming   bool
	paused      bool
	params      VideoParams
	server      IngestServer
	submitted   int64

	chatInit      bool
	chatChannel   string
	chatConnected bool
	anonymous     bool
	chatUser      string
	emoticons     *TextureSheet
	badges        *TextureSheet
}

// Compile-time interface checks.
var (
	_ BroadcastService = (*Loopback)(nil)
	_ ChatService      = (*Loopback)(nil)
)

// NewLoopback creates a Loopback service.
func NewLoopback(cfg LoopbackConfig) *Loopback {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ingests := cfg.Ingests
	if ingests == nil {
		ingests = DefaultIngests
	}
	return &Loopback{
		log:      log.With("component", "sdk-loopback"),
		tasks:    NewQueue(cfg.QueueCapacity),
		chat:     NewQueue(cfg.QueueCapacity),
		failNext: make(map[RequestKind]ErrorCode),
		ingests:  append([]IngestServer(nil), ingests...),
	}
}

// FailNext makes the next request of the given kind fail with code. For
// KindFrameUnlocked the next SubmitVideoFrame is rejected synchronously; for
// KindChatStatus the next connect attempt reports a failed status event.
func (l *Loopback) FailNext(kind RequestKind, code ErrorCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[kind] = code
}

// SetIngests replaces the ingest list returned by GetIngestServers.
func (l *Loopback) SetIngests(servers []IngestServer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ingests = append([]IngestServer(nil), servers...)
}

// InjectChat queues an unsolicited chat event, such as a lost connection or
// a message from another user.
func (l *Loopback) InjectChat(c Completion) error {
	l.mu.Lock()
	if c.Kind == KindChatMembership && c.Membership == MembershipLeft {
		l.chatConnected = false
	}
	if c.Kind == KindChatStatus && c.Code == CodeChatLostConnection {
		l.chatConnected = false
	}
	l.mu.Unlock()
	return l.chat.Push(c)
}

// FramesSubmitted returns how many video frames were accepted.
func (l *Loopback) FramesSubmitted() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitted
}

// Streaming reports whether Start succeeded and Stop has not been called.
func (l *Loopback) Streaming() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streaming
}

// takeFailure consumes an injected failure for kind. Callers hold l.mu.
func (l *Loopback) takeFailure(kind RequestKind) (ErrorCode, bool) {
	code, ok := l.failNext[kind]
	if ok {
		delete(l.failNext, kind)
	}
	return code, ok
}

// complete queues one completion for kind, filled by build unless a failure
// was injected. Callers hold l.mu.
func (l *Loopback) complete(q *Queue, kind RequestKind, build func(*Completion)) (RequestID, error) {
	c := Completion{ID: uuid.New(), Kind: kind}
	if code, ok := l.takeFailure(kind); ok {
		c.Code = code
	} else if build != nil {
		build(&c)
	}
	if err := q.Push(c); err != nil {
		return uuid.Nil, err
	}
	l.log.Debug("request queued", "kind", kind, "id", c.ID, "code", c.Code)
	return c.ID, nil
}

// Init marks the SDK initialized. Repeated calls succeed.
func (l *Loopback) Init(clientID string) error {
	if clientID == "" {
		return errEmptyClientID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = true
	return nil
}

// RequestAuthToken mints a token for any non-empty username.
func (l *Loopback) RequestAuthToken(creds Credentials) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return uuid.Nil, ErrNotInitialized
	}
	return l.complete(l.tasks, KindAuth, func(c *Completion) {
		if creds.Username == "" || creds.Password == "" {
			c.Code = CodeInvalidCredentials
			return
		}
		l.creds = creds
		l.token = AuthToken{Data: "loopback-" + uuid.NewString()}
		c.Token = l.token
	})
}

// Login resolves the channel for the token minted by RequestAuthToken.
func (l *Loopback) Login(token AuthToken) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return uuid.Nil, ErrNotInitialized
	}
	return l.complete(l.tasks, KindLogin, func(c *Completion) {
		if !token.Valid() || token != l.token {
			c.Code = CodeAuthFailed
			return
		}
		c.Channel = ChannelInfo{
			Name:        l.creds.Username,
			DisplayName: l.creds.Username,
			ChannelURL:  "loopback://" + l.creds.Username,
		}
	})
}

// GetIngestServers reports the configured ingest list.
func (l *Loopback) GetIngestServers(token AuthToken) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return uuid.Nil, ErrNotInitialized
	}
	return l.complete(l.tasks, KindIngestList, func(c *Completion) {
		if token != l.token {
			c.Code = CodeAuthFailed
			return
		}
		c.Ingests = append([]IngestServer(nil), l.ingests...)
	})
}

// GetUserInfo reports the authenticated user.
func (l *Loopback) GetUserInfo(token AuthToken) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return uuid.Nil, ErrNotInitialized
	}
	return l.complete(l.tasks, KindUserInfo, func(c *Completion) {
		c.User = UserInfo{Name: l.creds.Username, DisplayName: l.creds.Username}
	})
}

// GetStreamInfo reports CodeNoStreamInfo unless a stream is running.
func (l *Loopback) GetStreamInfo(token AuthToken, channel string) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return uuid.Nil, ErrNotInitialized
	}
	return l.complete(l.tasks, KindStreamInfo, func(c *Completion) {
		if !l.streaming {
			c.Code = CodeNoStreamInfo
			return
		}
		c.Stream = StreamInfo{StreamID: 1}
	})
}

// Start begins a stream to server.
func (l *Loopback) Start(params VideoParams, server IngestServer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return ErrNotInitialized
	}
	if server.URL == "" {
		return errNoIngestURL
	}
	l.params = params
	l.server = server
	l.streaming = true
	l.paused = false
	return nil
}

// SubmitVideoFrame accepts a frame and queues its unlock.
func (l *Loopback) SubmitVideoFrame(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.streaming {
		return ErrNotStreaming
	}
	if code, ok := l.takeFailure(KindFrameUnlocked); ok {
		return &RequestError{Kind: KindFrameUnlocked, Code: code}
	}
	if len(frame) != l.params.FrameSize() {
		return &RequestError{Kind: KindFrameUnlocked, Code: CodeInvalidArg}
	}
	l.paused = false
	l.submitted++
	_, err := l.complete(l.tasks, KindFrameUnlocked, func(c *Completion) {
		c.Buffer = frame
	})
	return err
}

// PauseVideo pauses a running stream.
func (l *Loopback) PauseVideo() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.streaming {
		return ErrNotStreaming
	}
	l.paused = true
	return nil
}

// Stop ends a running stream.
func (l *Loopback) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.streaming {
		return ErrNotStreaming
	}
	l.streaming = false
	l.paused = false
	return nil
}

// Shutdown tears down the broadcast side and queues its completion.
func (l *Loopback) Shutdown() (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return uuid.Nil, ErrNotInitialized
	}
	id, err := l.complete(l.tasks, KindShutdown, nil)
	if err != nil {
		return id, err
	}
	l.initialized = false
	l.streaming = false
	l.paused = false
	l.token = AuthToken{}
	return id, nil
}

// PollTasks hands out broadcast completions in request order.
func (l *Loopback) PollTasks() []Completion {
	return l.tasks.Drain()
}

// InitChat prepares chat for channel.
func (l *Loopback) InitChat(channel string) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.complete(l.chat, KindChatInit, func(c *Completion) {
		if channel == "" {
			c.Code = CodeInvalidArg
			return
		}
		l.chatInit = true
		l.chatChannel = channel
	})
}

// connectLocked queues the status, membership and roster events of a
// successful connect. Callers hold l.mu.
func (l *Loopback) connectLocked(user string, anonymous bool) error {
	if !l.chatInit {
		return ErrNotInitialized
	}
	if l.chatConnected {
		return errAlreadyConnected
	}
	if code, ok := l.takeFailure(KindChatStatus); ok {
		return l.chat.Push(Completion{Kind: KindChatStatus, Code: code})
	}
	if l.chat.Free() < 3 {
		return ErrQueueFull
	}
	l.chatConnected = true
	l.anonymous = anonymous
	l.chatUser = user
	_ = l.chat.Push(Completion{Kind: KindChatStatus})
	_ = l.chat.Push(Completion{Kind: KindChatMembership, Membership: MembershipJoined})
	_ = l.chat.Push(Completion{Kind: KindChatUsers, Users: &UserListChange{
		Joined: []ChatUser{{Name: user, DisplayName: user}},
	}})
	return nil
}

// Connect joins the initialized channel as username.
func (l *Loopback) Connect(username string, token AuthToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !token.Valid() {
		return &RequestError{Kind: KindChatStatus, Code: CodeAuthFailed}
	}
	return l.connectLocked(username, false)
}

// ConnectAnonymous joins the initialized channel read-only.
func (l *Loopback) ConnectAnonymous() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectLocked("anonymous", true)
}

// Disconnect leaves the channel.
func (l *Loopback) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.chatConnected {
		return ErrNotConnected
	}
	l.chatConnected = false
	return l.chat.Push(Completion{Kind: KindChatMembership, Membership: MembershipLeft})
}

// SendMessage echoes text back as a chat message from the connected user.
func (l *Loopback) SendMessage(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.chatConnected {
		return ErrNotConnected
	}
	if l.anonymous {
		return &RequestError{Kind: KindChatMessages, Code: CodeChatAnonymousDenied}
	}
	return l.chat.Push(Completion{Kind: KindChatMessages, Messages: []ChatMessage{
		{User: l.chatUser, DisplayName: l.chatUser, Text: text},
	}})
}

// DownloadEmoticonData queues a one-sheet emoticon atlas.
func (l *Loopback) DownloadEmoticonData() (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.chatInit {
		return uuid.Nil, ErrNotInitialized
	}
	return l.complete(l.chat, KindEmoticonData, func(c *Completion) {
		l.emoticons = &TextureSheet{Width: 256, Height: 256, Format: PixelFormatBGRA, Data: make([]byte, 256*256*4)}
		c.Sheet = l.emoticons
	})
}

// DownloadBadgeData queues a one-sheet badge atlas.
func (l *Loopback) DownloadBadgeData() (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.chatInit {
		return uuid.Nil, ErrNotInitialized
	}
	return l.complete(l.chat, KindBadgeData, func(c *Completion) {
		l.badges = &TextureSheet{Width: 64, Height: 64, Format: PixelFormatBGRA, Data: make([]byte, 64*64*4)}
		c.Sheet = l.badges
	})
}

// ClearEmoticonData drops downloaded emoticon data.
func (l *Loopback) ClearEmoticonData() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emoticons = nil
	return nil
}

// ClearBadgeData drops downloaded badge data.
func (l *Loopback) ClearBadgeData() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.badges = nil
	return nil
}

// ShutdownChat leaves the channel and queues the shutdown completion. An
// injected failure leaves chat initialized so it can connect again.
func (l *Loopback) ShutdownChat() (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.chatInit {
		return uuid.Nil, ErrNotInitialized
	}
	l.chatConnected = false
	l.anonymous = false
	return l.complete(l.chat, KindChatShutdown, func(*Completion) {
		l.chatInit = false
	})
}

// FlushEvents hands out chat events in arrival order.
func (l *Loopback) FlushEvents() []Completion {
	return l.chat.Drain()
}
