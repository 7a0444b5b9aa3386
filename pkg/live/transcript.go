package live

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// FinalizeVeto may reject finalization of a user turn (for example to
// discard empty or filtered content). A vetoed turn is dropped from
// visible history but its owning commit is still told the transcript
// resolved, so response generation is not blocked.
type FinalizeVeto func(turn *Turn) bool

// Assembler accumulates streamed text fragments into per-turn messages
// and finalizes each turn once, after a settle delay that absorbs
// near-simultaneous partial/final notifications.
type Assembler struct {
	clock   Clock
	logger  zerolog.Logger
	metrics *Metrics

	// reenter schedules work back onto the ordered processing lane;
	// debounce timers never mutate state from their own goroutine.
	reenter func(fn func())

	veto FinalizeVeto

	// onFragment publishes streamed text upward.
	onFragment func(MessageFragmentEvent)
	// onFinalized receives each turn exactly once.
	onFinalized func(turn *Turn)
	// onUserResolved tells the commit correlator a user transcript is
	// resolved, whether the turn survived or was vetoed.
	onUserResolved func(itemID string)

	mu     sync.Mutex
	cfg    SessionConfig
	turns  map[string]*Turn
	order  []string
	timers map[string]Timer
}

// AssemblerHooks wires the assembler's outputs.
type AssemblerHooks struct {
	Reenter        func(fn func())
	Veto           FinalizeVeto
	OnFragment     func(MessageFragmentEvent)
	OnFinalized    func(turn *Turn)
	OnUserResolved func(itemID string)
}

// NewAssembler creates an assembler.
func NewAssembler(cfg SessionConfig, clock Clock, logger zerolog.Logger, metrics *Metrics, hooks AssemblerHooks) *Assembler {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = nopMetrics()
	}
	if hooks.Reenter == nil {
		hooks.Reenter = func(fn func()) { fn() }
	}
	return &Assembler{
		clock:          clock,
		logger:         logger.With().Str("component", "assembler").Logger(),
		metrics:        metrics,
		reenter:        hooks.Reenter,
		veto:           hooks.Veto,
		onFragment:     hooks.OnFragment,
		onFinalized:    hooks.OnFinalized,
		onUserResolved: hooks.OnUserResolved,
		cfg:            cfg,
		turns:          make(map[string]*Turn),
		timers:         make(map[string]Timer),
	}
}

// Append accumulates a streamed text fragment for an item. The turn is
// created lazily on the first fragment; a fragment arriving while a
// finalize is pending restarts the settle timer.
func (a *Assembler) Append(itemID, delta string) {
	a.mu.Lock()
	turn, ok := a.turns[itemID]
	if !ok {
		turn = a.newTurnLocked(itemID, RoleAssistant)
	}
	if turn.Final {
		a.mu.Unlock()
		a.logger.Warn().Str("item_id", itemID).Msg("fragment rejected for finalized turn")
		a.metrics.ProtocolAnomalies.Inc()
		return
	}
	turn.Text += delta
	role := turn.Role
	if t, pending := a.timers[itemID]; pending {
		t.Stop()
		a.startSettleLocked(itemID)
	}
	a.mu.Unlock()

	a.emitFragment(MessageFragmentEvent{
		TurnID:  itemID,
		Role:    role,
		Text:    delta,
		IsDelta: true,
	})
}

// Complete records the full text for an item (the server's text-done
// notification) and requests debounced finalization. Trailing deltas
// arriving inside the settle window are still absorbed.
func (a *Assembler) Complete(itemID, text string) {
	a.mu.Lock()
	turn, ok := a.turns[itemID]
	if !ok {
		turn = a.newTurnLocked(itemID, RoleAssistant)
	}
	if turn.Final {
		a.mu.Unlock()
		return
	}
	if len(text) > len(turn.Text) {
		turn.Text = text
	}
	a.startSettleLocked(itemID)
	a.mu.Unlock()
}

// Touch restarts the settle timer for an item whose finalize is already
// pending. Late stream-completion notifications (audio done after text
// done) are absorbed into the same window instead of racing it.
func (a *Assembler) Touch(itemID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	turn, ok := a.turns[itemID]
	if !ok || turn.Final {
		return
	}
	if _, pending := a.timers[itemID]; pending {
		a.startSettleLocked(itemID)
	}
}

// MarkUser flags items as belonging to the user's committed utterance.
// A user turn stays a transient placeholder until its transcription
// completes.
func (a *Assembler) MarkUser(itemIDs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range itemIDs {
		turn, ok := a.turns[id]
		if !ok {
			turn = a.newTurnLocked(id, RoleUser)
			continue
		}
		turn.Role = RoleUser
	}
}

// CompleteUserTranscript replaces a user placeholder with its final
// transcription and requests debounced finalization.
func (a *Assembler) CompleteUserTranscript(itemID, text string) {
	a.mu.Lock()
	turn, ok := a.turns[itemID]
	if !ok {
		turn = a.newTurnLocked(itemID, RoleUser)
	}
	turn.Role = RoleUser
	if turn.Final {
		a.mu.Unlock()
		a.logger.Warn().Str("item_id", itemID).Msg("transcript for finalized turn ignored")
		a.metrics.ProtocolAnomalies.Inc()
		return
	}
	turn.Text = text
	a.startSettleLocked(itemID)
	a.mu.Unlock()

	a.emitFragment(MessageFragmentEvent{
		TurnID: itemID,
		Role:   RoleUser,
		Text:   text,
	})
}

// Turn returns the current turn for an item, or nil.
func (a *Assembler) Turn(itemID string) *Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turns[itemID]
}

// Turns returns all turns in creation order.
func (a *Assembler) Turns() []*Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Turn, 0, len(a.order))
	for _, id := range a.order {
		if t, ok := a.turns[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Reset drops every turn and cancels every pending finalize timer.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = make(map[string]Timer)
	a.turns = make(map[string]*Turn)
	a.order = nil
}

func (a *Assembler) newTurnLocked(itemID string, role Role) *Turn {
	turn := &Turn{
		ID:        itemID,
		Role:      role,
		CreatedAt: a.clock.Now(),
	}
	a.turns[itemID] = turn
	a.order = append(a.order, itemID)
	return turn
}

// startSettleLocked (re)starts the finalize debounce for an item.
func (a *Assembler) startSettleLocked(itemID string) {
	if t, ok := a.timers[itemID]; ok {
		t.Stop()
	}
	a.timers[itemID] = a.clock.AfterFunc(a.cfg.SettleDelay, func() {
		a.reenter(func() { a.finalize(itemID) })
	})
}

// finalize runs on the processing lane after the settle delay. It is
// idempotent: a second finalize for the same item is a no-op.
func (a *Assembler) finalize(itemID string) {
	a.mu.Lock()
	delete(a.timers, itemID)
	turn, ok := a.turns[itemID]
	if !ok || turn.Final {
		a.mu.Unlock()
		return
	}

	if turn.Role == RoleUser && a.veto != nil && a.veto(turn) {
		delete(a.turns, itemID)
		a.mu.Unlock()
		a.logger.Debug().Str("item_id", itemID).Msg("user turn vetoed")
		a.metrics.TurnsVetoed.Inc()
		if a.onUserResolved != nil {
			a.onUserResolved(itemID)
		}
		return
	}

	turn.Final = true
	turn.FinalizedAt = a.clock.Now()
	role := turn.Role
	text := turn.Text
	a.mu.Unlock()

	a.metrics.TurnsFinalized.WithLabelValues(string(role)).Inc()
	a.emitFragment(MessageFragmentEvent{
		TurnID:  itemID,
		Role:    role,
		Text:    text,
		IsFinal: true,
	})
	if a.onFinalized != nil {
		a.onFinalized(turn)
	}
	if role == RoleUser && a.onUserResolved != nil {
		a.onUserResolved(itemID)
	}
}

func (a *Assembler) emitFragment(ev MessageFragmentEvent) {
	if a.onFragment != nil {
		a.onFragment(ev)
	}
}

// EmptyTranscriptVeto is the default user-turn predicate: it discards
// turns whose transcription is empty or whitespace.
func EmptyTranscriptVeto(turn *Turn) bool {
	return strings.TrimSpace(turn.Text) == ""
}
