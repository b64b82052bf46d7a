package fsm

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrIllegalTransition is matched by every *TransitionError.
var ErrIllegalTransition = errors.New("fsm: illegal transition")

// Label is the constraint for state and event types: comparable values with
// a readable name for logs and metrics.
type Label interface {
	comparable
	fmt.Stringer
}

// Transition is one row of a transition table.
type Transition[S, E Label] struct {
	From  S
	Event E
	To    S
}

type edge[S, E Label] struct {
	from S
	ev   E
}

// Table is an immutable set of legal transitions.
type Table[S, E Label] struct {
	next map[edge[S, E]]S
	rows []Transition[S, E]
}

// NewTable builds a table from rows. It panics if two rows share the same
// (From, Event) pair with different targets, since that table could never
// be deterministic.
func NewTable[S, E Label](rows ...Transition[S, E]) *Table[S, E] {
	t := &Table[S, E]{
		next: make(map[edge[S, E]]S, len(rows)),
		rows: append([]Transition[S, E](nil), rows...),
	}
	for _, r := range rows {
		k := edge[S, E]{r.From, r.Event}
		if to, dup := t.next[k]; dup && to != r.To {
			panic(fmt.Sprintf("fsm: conflicting transitions from %s on %s", r.From, r.Event))
		}
		t.next[k] = r.To
	}
	return t
}

// Next returns the target of ev from state from.
func (t *Table[S, E]) Next(from S, ev E) (S, bool) {
	to, ok := t.next[edge[S, E]{from, ev}]
	return to, ok
}

// Rows returns a copy of the table's transitions in declaration order.
func (t *Table[S, E]) Rows() []Transition[S, E] {
	return append([]Transition[S, E](nil), t.rows...)
}

// TransitionError reports an event that has no row for the current state.
type TransitionError struct {
	Machine string
	From    string
	Event   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("fsm: %s: no transition from %s on %s", e.Machine, e.From, e.Event)
}

// Is reports ErrIllegalTransition as a match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Recorder receives transition and failure notifications, typically for
// metrics. Implementations must not call back into the machine.
type Recorder interface {
	RecordTransition(machine, from, to, event string)
	RecordRequestFailure(machine, request string)
}

// Machine holds the single current state of one session.
type Machine[S, E Label] struct {
	name  string
	table *Table[S, E]
	state S
	log   *slog.Logger
	rec   Recorder
	hooks []func(from, to S, ev E)
}

// New creates a machine in state initial. If log is nil, slog.Default() is
// used; rec may be nil.
func New[S, E Label](name string, table *Table[S, E], initial S, log *slog.Logger, rec Recorder) *Machine[S, E] {
	if log == nil {
		log = slog.Default()
	}
	return &Machine[S, E]{
		name:  name,
		table: table,
		state: initial,
		log:   log,
		rec:   rec,
	}
}

// State returns the current state.
func (m *Machine[S, E]) State() S { return m.state }

// Can reports whether ev is legal from the current state.
func (m *Machine[S, E]) Can(ev E) bool {
	_, ok := m.table.Next(m.state, ev)
	return ok
}

// OnTransition registers fn to run after every successful transition.
func (m *Machine[S, E]) OnTransition(fn func(from, to S, ev E)) {
	m.hooks = append(m.hooks, fn)
}

// Fire applies ev. An event with no row leaves the state unchanged and
// returns a *TransitionError.
func (m *Machine[S, E]) Fire(ev E) error {
	from := m.state
	to, ok := m.table.Next(from, ev)
	if !ok {
		return &TransitionError{Machine: m.name, From: from.String(), Event: ev.String()}
	}
	m.state = to
	if from != to {
		m.log.Debug("state changed", "from", from, "to", to, "event", ev)
	}
	if m.rec != nil {
		m.rec.RecordTransition(m.name, from.String(), to.String(), ev.String())
	}
	for _, fn := range m.hooks {
		fn(from, to, ev)
	}
	return nil
}

// RecordFailure forwards a failed request to the recorder, if any.
func (m *Machine[S, E]) RecordFailure(request string) {
	if m.rec != nil {
		m.rec.RecordRequestFailure(m.name, request)
	}
}
