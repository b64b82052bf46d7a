package sdk

import (
	"errors"
	"fmt"
)

// ErrorCode is the result code carried by a Completion.
type ErrorCode int

// Result codes. Zero is success; everything else is a failure.
const (
	CodeOK ErrorCode = iota
	CodeUnknown
	CodeInvalidArg
	CodeNotInitialized
	CodeAlreadyInitialized
	CodeAuthFailed
	CodeInvalidCredentials
	CodeLoginFailed
	CodeNoIngestServers
	CodeNoStreamInfo
	CodeNotStreaming
	CodeStreamFailed
	CodeChatLostConnection
	CodeChatNotInChannel
	CodeChatAnonymousDenied
	CodeDownloadFailed
	CodeRequestTimeout
)

var codeNames = map[ErrorCode]string{
	CodeOK:                  "ok",
	CodeUnknown:             "unknown error",
	CodeInvalidArg:          "invalid argument",
	CodeNotInitialized:      "not initialized",
	CodeAlreadyInitialized:  "already initialized",
	CodeAuthFailed:          "authentication failed",
	CodeInvalidCredentials:  "invalid credentials",
	CodeLoginFailed:         "login failed",
	CodeNoIngestServers:     "no ingest servers",
	CodeNoStreamInfo:        "no stream info",
	CodeNotStreaming:        "not streaming",
	CodeStreamFailed:        "stream failed",
	CodeChatLostConnection:  "chat lost connection",
	CodeChatNotInChannel:    "chat not in channel",
	CodeChatAnonymousDenied: "anonymous chat denied",
	CodeDownloadFailed:      "download failed",
	CodeRequestTimeout:      "request timed out",
}

// Succeeded reports whether c is a success code.
func (c ErrorCode) Succeeded() bool { return c == CodeOK }

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Sentinel errors returned by services and sessions.
var (
	ErrRequestFailed  = errors.New("sdk: request failed")
	ErrQueueFull      = errors.New("sdk: completion queue full")
	ErrNotInitialized = errors.New("sdk: not initialized")
	ErrNotStreaming   = errors.New("sdk: not streaming")
	ErrNotConnected   = errors.New("sdk: chat not connected")
)

// RequestError reports a completion that carried a failure code. It matches
// ErrRequestFailed under errors.Is.
type RequestError struct {
	Kind RequestKind
	Code ErrorCode
	ID   RequestID
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("sdk: %s request failed: %s", e.Kind, e.Code)
}

// Is reports ErrRequestFailed as a match.
func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}
