package live

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestAssembler(clk *fakeClock, hooks AssemblerHooks) *Assembler {
	return NewAssembler(DefaultSessionConfig(), clk, zerolog.Nop(), nil, hooks)
}

func TestAssembler_FinalizesAfterSettleDelay(t *testing.T) {
	clk := newFakeClock()
	var finalized []*Turn
	a := newTestAssembler(clk, AssemblerHooks{
		OnFinalized: func(turn *Turn) { finalized = append(finalized, turn) },
	})

	a.Append("item-1", "Bonjour")
	a.Complete("item-1", "Bonjour")

	clk.Advance(200 * time.Millisecond)
	if len(finalized) != 0 {
		t.Fatal("finalized before settle delay elapsed")
	}
	clk.Advance(100 * time.Millisecond)
	if len(finalized) != 1 {
		t.Fatalf("finalized %d turns, want 1", len(finalized))
	}
	if finalized[0].Text != "Bonjour" || !finalized[0].Final {
		t.Fatalf("turn = %+v", finalized[0])
	}
}

func TestAssembler_LateFragmentRestartsSettle(t *testing.T) {
	clk := newFakeClock()
	var finalized []*Turn
	a := newTestAssembler(clk, AssemblerHooks{
		OnFinalized: func(turn *Turn) { finalized = append(finalized, turn) },
	})

	a.Complete("item-1", "Bonjour")
	clk.Advance(200 * time.Millisecond)
	a.Append("item-1", " madame")
	clk.Advance(100 * time.Millisecond)
	if len(finalized) != 0 {
		t.Fatal("late fragment did not restart the settle window")
	}
	clk.Advance(200 * time.Millisecond)
	if len(finalized) != 1 {
		t.Fatalf("finalized %d turns, want 1", len(finalized))
	}
	if finalized[0].Text != "Bonjour madame" {
		t.Fatalf("text = %q, want %q", finalized[0].Text, "Bonjour madame")
	}
}

func TestAssembler_FinalizeIsIdempotent(t *testing.T) {
	clk := newFakeClock()
	count := 0
	a := newTestAssembler(clk, AssemblerHooks{
		OnFinalized: func(*Turn) { count++ },
	})

	a.Complete("item-1", "hello")
	clk.Advance(time.Second)
	a.finalize("item-1")
	a.finalize("item-1")
	if count != 1 {
		t.Fatalf("finalized %d times, want 1", count)
	}
}

func TestAssembler_FragmentAfterFinalIsRejected(t *testing.T) {
	clk := newFakeClock()
	a := newTestAssembler(clk, AssemblerHooks{})

	a.Complete("item-1", "done")
	clk.Advance(time.Second)
	a.Append("item-1", " extra")

	if got := a.Turn("item-1").Text; got != "done" {
		t.Fatalf("text = %q, want %q", got, "done")
	}
}

func TestAssembler_MarkUserFlipsRole(t *testing.T) {
	clk := newFakeClock()
	a := newTestAssembler(clk, AssemblerHooks{})

	a.Append("item-1", "bonjour")
	if got := a.Turn("item-1").Role; got != RoleAssistant {
		t.Fatalf("role before ack = %q", got)
	}
	a.MarkUser([]string{"item-1"})
	if got := a.Turn("item-1").Role; got != RoleUser {
		t.Fatalf("role after ack = %q", got)
	}
}

func TestAssembler_VetoedUserTurnStillResolvesCommit(t *testing.T) {
	clk := newFakeClock()
	var resolved []string
	var finalized []*Turn
	a := newTestAssembler(clk, AssemblerHooks{
		Veto:           EmptyTranscriptVeto,
		OnFinalized:    func(turn *Turn) { finalized = append(finalized, turn) },
		OnUserResolved: func(id string) { resolved = append(resolved, id) },
	})

	a.MarkUser([]string{"item-1"})
	a.CompleteUserTranscript("item-1", "   ")
	clk.Advance(time.Second)

	if len(finalized) != 0 {
		t.Fatal("vetoed turn was finalized")
	}
	if a.Turn("item-1") != nil {
		t.Fatal("vetoed turn still in history")
	}
	if len(resolved) != 1 || resolved[0] != "item-1" {
		t.Fatalf("resolved = %v, want [item-1]", resolved)
	}
}

func TestAssembler_UserTurnResolvesCommitOnFinalize(t *testing.T) {
	clk := newFakeClock()
	var resolved []string
	a := newTestAssembler(clk, AssemblerHooks{
		Veto:           EmptyTranscriptVeto,
		OnUserResolved: func(id string) { resolved = append(resolved, id) },
	})

	a.MarkUser([]string{"item-1"})
	a.CompleteUserTranscript("item-1", "Un café, s'il vous plaît")
	clk.Advance(time.Second)

	if len(resolved) != 1 {
		t.Fatalf("resolved = %v, want one entry", resolved)
	}
	turn := a.Turn("item-1")
	if turn == nil || !turn.Final || turn.Role != RoleUser {
		t.Fatalf("turn = %+v", turn)
	}
}

func TestAssembler_CompleteKeepsLongerStreamedText(t *testing.T) {
	clk := newFakeClock()
	a := newTestAssembler(clk, AssemblerHooks{})

	a.Append("item-1", "Bonjour, comment")
	a.Complete("item-1", "Bonjour")
	if got := a.Turn("item-1").Text; got != "Bonjour, comment" {
		t.Fatalf("text = %q, want streamed text kept", got)
	}
}

func TestAssembler_TouchExtendsPendingSettle(t *testing.T) {
	clk := newFakeClock()
	var finalized []*Turn
	a := newTestAssembler(clk, AssemblerHooks{
		OnFinalized: func(turn *Turn) { finalized = append(finalized, turn) },
	})

	a.Complete("item-1", "hello")
	clk.Advance(200 * time.Millisecond)
	a.Touch("item-1")
	clk.Advance(100 * time.Millisecond)
	if len(finalized) != 0 {
		t.Fatal("touch did not restart the settle window")
	}
	clk.Advance(200 * time.Millisecond)
	if len(finalized) != 1 {
		t.Fatalf("finalized %d turns, want 1", len(finalized))
	}
}
