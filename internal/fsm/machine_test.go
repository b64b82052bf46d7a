package fsm

import (
	"errors"
	"testing"
)

type light int

const (
	off light = iota
	on
	broken
)

func (l light) String() string {
	return [...]string{"off", "on", "broken"}[l]
}

type press int

const (
	toggle press = iota
	smash
)

func (p press) String() string {
	return [...]string{"toggle", "smash"}[p]
}

var lightTable = NewTable(
	Transition[light, press]{From: off, Event: toggle, To: on},
	Transition[light, press]{From: on, Event: toggle, To: off},
	Transition[light, press]{From: on, Event: smash, To: broken},
)

type countingRecorder struct {
	transitions []string
	failures    []string
}

func (r *countingRecorder) RecordTransition(machine, from, to, event string) {
	r.transitions = append(r.transitions, machine+":"+from+"->"+to+"/"+event)
}

func (r *countingRecorder) RecordRequestFailure(machine, request string) {
	r.failures = append(r.failures, machine+":"+request)
}

func TestMachineFire(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{}
	m := New("lamp", lightTable, off, nil, rec)

	if err := m.Fire(toggle); err != nil {
		t.Fatalf("Fire(toggle): %v", err)
	}
	if m.State() != on {
		t.Errorf("state: got %s, want %s", m.State(), on)
	}
	if err := m.Fire(smash); err != nil {
		t.Fatalf("Fire(smash): %v", err)
	}
	if len(rec.transitions) != 2 || rec.transitions[1] != "lamp:on->broken/smash" {
		t.Errorf("recorded transitions: %v", rec.transitions)
	}
}

func TestMachineIllegalTransition(t *testing.T) {
	t.Parallel()

	m := New("lamp", lightTable, off, nil, nil)
	err := m.Fire(smash)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("got %v, want ErrIllegalTransition", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != "off" || te.Event != "smash" {
		t.Fatalf("unexpected error detail: %v", err)
	}
	if m.State() != off {
		t.Errorf("state changed on illegal event: %s", m.State())
	}
	if m.Can(smash) {
		t.Error("Can(smash) from off should be false")
	}
	if !m.Can(toggle) {
		t.Error("Can(toggle) from off should be true")
	}
}

func TestMachineHooks(t *testing.T) {
	t.Parallel()

	m := New("lamp", lightTable, off, nil, nil)
	var seen []light
	m.OnTransition(func(from, to light, ev press) {
		seen = append(seen, to)
	})
	_ = m.Fire(toggle)
	_ = m.Fire(toggle)
	if len(seen) != 2 || seen[0] != on || seen[1] != off {
		t.Errorf("hook saw %v", seen)
	}
}

func TestNewTableConflictPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for conflicting rows")
		}
	}()
	NewTable(
		Transition[light, press]{From: off, Event: toggle, To: on},
		Transition[light, press]{From: off, Event: toggle, To: broken},
	)
}

func TestTableRows(t *testing.T) {
	t.Parallel()

	rows := lightTable.Rows()
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if to, ok := lightTable.Next(on, toggle); !ok || to != off {
		t.Errorf("Next(on, toggle) = %s, %v", to, ok)
	}
}
