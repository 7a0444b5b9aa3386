package live

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlo-app/parlo/pkg/realtime"
)

func TestSequencer_DispatchesInTimestampOrder(t *testing.T) {
	clk := newFakeClock()
	var got []string
	q := NewSequencer(clk, zerolog.Nop(), nil, func(ev realtime.ServerEvent) {
		got = append(got, ev.(realtime.TextDelta).Delta)
	})

	// The running drain holds the lane while the closure executes, so the
	// out-of-order inserts all land in the queue before dispatch resumes.
	base := clk.Now()
	q.EnqueueFunc(func() {
		q.EnqueueAt(realtime.TextDelta{Delta: "c"}, base.Add(30*time.Millisecond))
		q.EnqueueAt(realtime.TextDelta{Delta: "a"}, base.Add(10*time.Millisecond))
		q.EnqueueAt(realtime.TextDelta{Delta: "b"}, base.Add(20*time.Millisecond))
	})

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("dispatched %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSequencer_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	clk := newFakeClock()
	var got []string
	q := NewSequencer(clk, zerolog.Nop(), nil, func(ev realtime.ServerEvent) {
		got = append(got, ev.(realtime.TextDelta).Delta)
	})

	at := clk.Now()
	q.EnqueueFunc(func() {
		q.EnqueueAt(realtime.TextDelta{Delta: "first"}, at)
		q.EnqueueAt(realtime.TextDelta{Delta: "second"}, at)
		q.EnqueueAt(realtime.TextDelta{Delta: "third"}, at)
	})

	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("dispatched %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSequencer_HandlerEnqueueDoesNotInterleave(t *testing.T) {
	clk := newFakeClock()
	var got []string
	var q *Sequencer
	q = NewSequencer(clk, zerolog.Nop(), nil, func(ev realtime.ServerEvent) {
		d := ev.(realtime.TextDelta).Delta
		got = append(got, "start:"+d)
		if d == "outer" {
			// Re-entrant enqueue from the handler must defer to the
			// running drain, not nest a second one.
			q.Enqueue(realtime.TextDelta{Delta: "inner"})
		}
		got = append(got, "end:"+d)
	})

	q.Enqueue(realtime.TextDelta{Delta: "outer"})

	want := []string{"start:outer", "end:outer", "start:inner", "end:inner"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSequencer_EnqueueFuncRunsOnLane(t *testing.T) {
	clk := newFakeClock()
	ran := false
	q := NewSequencer(clk, zerolog.Nop(), nil, func(realtime.ServerEvent) {})
	q.EnqueueFunc(func() { ran = true })
	if !ran {
		t.Fatal("queued closure did not run")
	}
	if q.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", q.Pending())
	}
}

func TestSequencer_ResetDiscardsQueue(t *testing.T) {
	clk := newFakeClock()
	dispatched := 0
	q := NewSequencer(clk, zerolog.Nop(), nil, func(realtime.ServerEvent) { dispatched++ })

	// Events queued behind the running closure are discarded by Reset
	// before the drain reaches them.
	q.EnqueueFunc(func() {
		q.Enqueue(realtime.TextDelta{Delta: "x"})
		q.Enqueue(realtime.TextDelta{Delta: "y"})
		q.Reset()
	})

	if dispatched != 0 {
		t.Fatalf("dispatched %d events after reset, want 0", dispatched)
	}
}
