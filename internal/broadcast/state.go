package broadcast

import "github.com/zsiec/telegraph/internal/fsm"

// State is the lifecycle state of a streaming session.
type State int

// Streaming session states, in progression order.
const (
	StateUninitialized State = iota
	StateInitialized
	StateAuthenticating
	StateAuthenticated
	StateLoggingIn
	StateLoggedIn
	StateFindingIngestServer
	StateFoundIngestServer
	StateReadyToStream
	StateStreaming
	StatePaused
	StateShuttingDown
)

var stateNames = [...]string{
	StateUninitialized:       "uninitialized",
	StateInitialized:         "initialized",
	StateAuthenticating:      "authenticating",
	StateAuthenticated:       "authenticated",
	StateLoggingIn:           "logging_in",
	StateLoggedIn:            "logged_in",
	StateFindingIngestServer: "finding_ingest_server",
	StateFoundIngestServer:   "found_ingest_server",
	StateReadyToStream:       "ready_to_stream",
	StateStreaming:           "streaming",
	StatePaused:              "paused",
	StateShuttingDown:        "shutting_down",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event drives a streaming session transition.
type Event int

// Session events. Request events move into an in-flight state; completion
// events move out of it.
const (
	EventInit Event = iota + 1
	EventAuthRequested
	EventAuthSucceeded
	EventAuthFailed
	EventLoginRequested
	EventLoginSucceeded
	EventLoginFailed
	EventIngestRequested
	EventIngestFound
	EventIngestFailed
	EventGiveUp
	EventReady
	EventStart
	EventPause
	EventResume
	EventStop
	EventShutdown
	EventShutdownComplete
	EventReset
)

var eventNames = map[Event]string{
	EventInit:             "init",
	EventAuthRequested:    "auth_requested",
	EventAuthSucceeded:    "auth_succeeded",
	EventAuthFailed:       "auth_failed",
	EventLoginRequested:   "login_requested",
	EventLoginSucceeded:   "login_succeeded",
	EventLoginFailed:      "login_failed",
	EventIngestRequested:  "ingest_requested",
	EventIngestFound:      "ingest_found",
	EventIngestFailed:     "ingest_failed",
	EventGiveUp:           "give_up",
	EventReady:            "ready",
	EventStart:            "start",
	EventPause:            "pause",
	EventResume:           "resume",
	EventStop:             "stop",
	EventShutdown:         "shutdown",
	EventShutdownComplete: "shutdown_complete",
	EventReset:            "reset",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

type row = fsm.Transition[State, Event]

// Transitions is the legal transition set of a streaming session.
var Transitions = buildTable()

func buildTable() *fsm.Table[State, Event] {
	rows := []row{
		{From: StateUninitialized, Event: EventInit, To: StateInitialized},
		{From: StateInitialized, Event: EventInit, To: StateInitialized},
		{From: StateInitialized, Event: EventAuthRequested, To: StateAuthenticating},
		{From: StateAuthenticating, Event: EventAuthSucceeded, To: StateAuthenticated},
		{From: StateAuthenticating, Event: EventAuthFailed, To: StateInitialized},
		{From: StateAuthenticated, Event: EventLoginRequested, To: StateLoggingIn},
		{From: StateLoggingIn, Event: EventLoginSucceeded, To: StateLoggedIn},
		{From: StateLoggingIn, Event: EventLoginFailed, To: StateAuthenticated},
		{From: StateLoggedIn, Event: EventIngestRequested, To: StateFindingIngestServer},
		{From: StateFindingIngestServer, Event: EventIngestFound, To: StateFoundIngestServer},
		{From: StateFindingIngestServer, Event: EventIngestFailed, To: StateLoggedIn},
		{From: StateAuthenticated, Event: EventGiveUp, To: StateInitialized},
		{From: StateLoggedIn, Event: EventGiveUp, To: StateInitialized},
		{From: StateFoundIngestServer, Event: EventReady, To: StateReadyToStream},
		{From: StateReadyToStream, Event: EventStart, To: StateStreaming},
		{From: StateStreaming, Event: EventPause, To: StatePaused},
		{From: StatePaused, Event: EventResume, To: StateStreaming},
		{From: StateStreaming, Event: EventStop, To: StateReadyToStream},
		{From: StatePaused, Event: EventStop, To: StateReadyToStream},
		{From: StateShuttingDown, Event: EventShutdownComplete, To: StateUninitialized},
	}
	for s := StateInitialized; s < StateShuttingDown; s++ {
		rows = append(rows, row{From: s, Event: EventShutdown, To: StateShuttingDown})
	}
	for s := StateUninitialized; s <= StateShuttingDown; s++ {
		rows = append(rows, row{From: s, Event: EventReset, To: StateUninitialized})
	}
	return fsm.NewTable(rows...)
}
