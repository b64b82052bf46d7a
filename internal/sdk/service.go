package sdk

import (
	"github.com/google/uuid"
)

// RequestID identifies a single asynchronous request. The completion for the
// request carries the same ID.
type RequestID = uuid.UUID

// RequestKind names the asynchronous operation a Completion belongs to.
// Unsolicited chat events use the Chat* kinds with a zero RequestID.
type RequestKind int

// Request and event kinds.
const (
	KindAuth RequestKind = iota + 1
	KindLogin
	KindIngestList
	KindUserInfo
	KindStreamInfo
	KindFrameUnlocked
	KindShutdown

	KindChatInit
	KindChatShutdown
	KindChatStatus
	KindChatMembership
	KindChatUsers
	KindChatMessages
	KindChatClear
	KindEmoticonData
	KindBadgeData
)

var kindNames = map[RequestKind]string{
	KindAuth:           "auth",
	KindLogin:          "login",
	KindIngestList:     "ingest_list",
	KindUserInfo:       "user_info",
	KindStreamInfo:     "stream_info",
	KindFrameUnlocked:  "frame_unlocked",
	KindShutdown:       "shutdown",
	KindChatInit:       "chat_init",
	KindChatShutdown:   "chat_shutdown",
	KindChatStatus:     "chat_status",
	KindChatMembership: "chat_membership",
	KindChatUsers:      "chat_users",
	KindChatMessages:   "chat_messages",
	KindChatClear:      "chat_clear",
	KindEmoticonData:   "emoticon_data",
	KindBadgeData:      "badge_data",
}

func (k RequestKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Credentials are the account secrets used to request an auth token.
type Credentials struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// AuthToken is the opaque token that authorizes streaming and chat.
type AuthToken struct {
	Data string
}

// Valid reports whether the token carries any data.
func (t AuthToken) Valid() bool { return t.Data != "" }

// ChannelInfo describes the channel associated with an auth token.
type ChannelInfo struct {
	Name        string
	DisplayName string
	ChannelURL  string
}

// IngestServer is an endpoint encoded media can be sent to.
type IngestServer struct {
	Name    string
	URL     string
	Default bool
}

// UserInfo is the local user's profile.
type UserInfo struct {
	Name        string
	DisplayName string
}

// StreamInfo describes the stream currently live on the channel.
type StreamInfo struct {
	Viewers  int
	StreamID uint64
}

// PixelFormat is the layout of submitted video frames.
type PixelFormat int

// PixelFormatBGRA is the only supported input layout: 4 bytes per pixel,
// stride = width*4.
const PixelFormatBGRA PixelFormat = 1

// VideoParams configures the encoder when streaming starts.
type VideoParams struct {
	Width       uint
	Height      uint
	TargetFPS   uint
	MaxKbps     uint
	PixelFormat PixelFormat
}

// FrameSize is the byte size of one frame at these dimensions.
func (p VideoParams) FrameSize() int {
	return int(p.Width) * int(p.Height) * 4
}

// TextureSheet is an opaque image sheet (emoticons or badges).
type TextureSheet struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// Membership is a chat channel membership change.
type Membership int

// Membership events.
const (
	MembershipJoined Membership = iota + 1
	MembershipLeft
)

// ChatUser is a participant in a chat channel.
type ChatUser struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Color       uint32 `json:"color"`
	Moderator   bool   `json:"moderator"`
	Subscriber  bool   `json:"subscriber"`
}

// UserListChange carries the users that left, joined, or changed since the
// last event. Consumers apply them in that order.
type UserListChange struct {
	Left    []ChatUser
	Joined  []ChatUser
	Updated []ChatUser
}

// ChatMessage is one tokenized chat line.
type ChatMessage struct {
	User        string `json:"user"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	Action      bool   `json:"action"`
	Color       uint32 `json:"color"`
}

// Completion is the single result of an asynchronous request, or an
// unsolicited chat event. Only the payload field matching Kind is set.
type Completion struct {
	ID   RequestID
	Kind RequestKind
	Code ErrorCode

	Token      AuthToken
	Channel    ChannelInfo
	Ingests    []IngestServer
	User       UserInfo
	Stream     StreamInfo
	Buffer     []byte
	Membership Membership
	Users      *UserListChange
	Messages   []ChatMessage
	Sheet      *TextureSheet
}

// Succeeded reports whether the completion carries a success code.
func (c Completion) Succeeded() bool { return c.Code.Succeeded() }

// Err returns nil on success and a *RequestError otherwise.
func (c Completion) Err() error {
	if c.Succeeded() {
		return nil
	}
	return &RequestError{Kind: c.Kind, Code: c.Code, ID: c.ID}
}

// BroadcastService is the streaming half of the SDK. Every method returning
// a RequestID produces exactly one Completion of the matching kind from a
// later PollTasks call. A non-nil error means the request was not accepted
// and no completion will follow.
type BroadcastService interface {
	Init(clientID string) error
	RequestAuthToken(creds Credentials) (RequestID, error)
	Login(token AuthToken) (RequestID, error)
	GetIngestServers(token AuthToken) (RequestID, error)
	GetUserInfo(token AuthToken) (RequestID, error)
	GetStreamInfo(token AuthToken, channel string) (RequestID, error)
	Start(params VideoParams, server IngestServer) error
	SubmitVideoFrame(frame []byte) error
	PauseVideo() error
	Stop() error
	Shutdown() (RequestID, error)
	PollTasks() []Completion
}

// ChatService is the chat half of the SDK. Connection, membership, user and
// message events are unsolicited and arrive from FlushEvents.
type ChatService interface {
	InitChat(channel string) (RequestID, error)
	Connect(username string, token AuthToken) error
	ConnectAnonymous() error
	Disconnect() error
	SendMessage(text string) error
	DownloadEmoticonData() (RequestID, error)
	DownloadBadgeData() (RequestID, error)
	ClearEmoticonData() error
	ClearBadgeData() error
	ShutdownChat() (RequestID, error)
	FlushEvents() []Completion
}
