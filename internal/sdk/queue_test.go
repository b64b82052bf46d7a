package sdk

import (
	"errors"
	"testing"
)

func TestQueueDrainOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	for _, k := range []RequestKind{KindAuth, KindLogin, KindIngestList} {
		if err := q.Push(Completion{Kind: k}); err != nil {
			t.Fatalf("Push(%s): %v", k, err)
		}
	}

	got := q.Drain()
	want := []RequestKind{KindAuth, KindLogin, KindIngestList}
	if len(got) != len(want) {
		t.Fatalf("got %d completions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("completion %d: got %s, want %s", i, got[i].Kind, want[i])
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after Drain: got %d, want 0", q.Len())
	}
	if q.Drain() != nil {
		t.Error("second Drain should return nil")
	}
}

func TestQueueBounded(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	_ = q.Push(Completion{Kind: KindAuth})
	_ = q.Push(Completion{Kind: KindLogin})

	err := q.Push(Completion{Kind: KindIngestList})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len: got %d, want 2", q.Len())
	}
	if q.Free() != 0 {
		t.Errorf("Free: got %d, want 0", q.Free())
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	if q.Free() != DefaultQueueCapacity {
		t.Errorf("Free: got %d, want %d", q.Free(), DefaultQueueCapacity)
	}
}

func TestRequestErrorIs(t *testing.T) {
	t.Parallel()

	c := Completion{Kind: KindLogin, Code: CodeLoginFailed}
	err := c.Err()
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("errors.Is(%v, ErrRequestFailed) = false", err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatal("errors.As should find *RequestError")
	}
	if reqErr.Kind != KindLogin || reqErr.Code != CodeLoginFailed {
		t.Errorf("got %s/%s, want login/login failed", reqErr.Kind, reqErr.Code)
	}
	if (Completion{Kind: KindLogin}).Err() != nil {
		t.Error("successful completion should have nil Err")
	}
}
