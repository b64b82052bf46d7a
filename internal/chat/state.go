package chat

import "github.com/zsiec/telegraph/internal/fsm"

// State is the lifecycle state of a chat session.
type State int

// Chat session states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateConnecting
	StateConnected
	StateDisconnected
	StateShuttingDown
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateInitializing:  "initializing",
	StateInitialized:   "initialized",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnected:  "disconnected",
	StateShuttingDown:  "shutting_down",
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

// Event drives a chat session transition.
type Event int

// Chat session events.
const (
	EventInit Event = iota + 1
	EventInitSucceeded
	EventInitFailed
	EventConnect
	EventJoined
	EventDisconnected
	EventReconnect
	EventShutdown
	EventShutdownSucceeded
	EventShutdownFailed
	EventReset
)

var eventNames = map[Event]string{
	EventInit:              "init",
	EventInitSucceeded:     "init_succeeded",
	EventInitFailed:        "init_failed",
	EventConnect:           "connect",
	EventJoined:            "joined",
	EventDisconnected:      "disconnected",
	EventReconnect:         "reconnect",
	EventShutdown:          "shutdown",
	EventShutdownSucceeded: "shutdown_succeeded",
	EventShutdownFailed:    "shutdown_failed",
	EventReset:             "reset",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

type row = fsm.Transition[State, Event]

// Transitions is the legal transition set of a chat session.
var Transitions = buildTable()

func buildTable() *fsm.Table[State, Event] {
	rows := []row{
		{From: StateUninitialized, Event: EventInit, To: StateInitializing},
		{From: StateInitializing, Event: EventInitSucceeded, To: StateInitialized},
		{From: StateInitializing, Event: EventInitFailed, To: StateUninitialized},
		{From: StateInitialized, Event: EventConnect, To: StateConnecting},
		{From: StateConnecting, Event: EventJoined, To: StateConnected},
		{From: StateConnected, Event: EventJoined, To: StateConnected},
		{From: StateConnecting, Event: EventDisconnected, To: StateDisconnected},
		{From: StateConnected, Event: EventDisconnected, To: StateDisconnected},
		{From: StateDisconnected, Event: EventReconnect, To: StateInitialized},
		{From: StateShuttingDown, Event: EventShutdownSucceeded, To: StateUninitialized},
		{From: StateShuttingDown, Event: EventShutdownFailed, To: StateInitialized},
	}
	for s := StateInitializing; s < StateShuttingDown; s++ {
		rows = append(rows, row{From: s, Event: EventShutdown, To: StateShuttingDown})
	}
	for s := StateUninitialized; s <= StateShuttingDown; s++ {
		rows = append(rows, row{From: s, Event: EventReset, To: StateUninitialized})
	}
	return fsm.NewTable(rows...)
}
