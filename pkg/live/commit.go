package live

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Commit is the correlation record for one "user finished speaking"
// action. It joins the local stop to the server's buffer-commit ack and
// the transcript finalization, and guarantees that at most one response
// generation is ever emitted for it.
type Commit struct {
	Seq       uint64
	CreatedAt time.Time

	// ItemIDs maps each server-assigned item identifier owned by this
	// commit to whether it has resolved.
	ItemIDs map[string]bool

	AwaitingResponse  bool
	HasCommitAck      bool
	HasUserTranscript bool
	HasSentResponse   bool

	// Latency diagnostics.
	AckAt        time.Time
	TranscriptAt time.Time
}

func (c *Commit) allResolved() bool {
	for _, done := range c.ItemIDs {
		if !done {
			return false
		}
	}
	return true
}

// Tracker owns the active commit set and its state machine:
// Created -> AwaitingConfirmations -> ResponseSent -> Retired.
type Tracker struct {
	clock   Clock
	logger  zerolog.Logger
	metrics *Metrics

	// sendResponse emits the outbound "generate response" action.
	sendResponse func(commitSeq uint64)

	mu        sync.Mutex
	cfg       SessionConfig
	commits   []*Commit
	nextSeq   uint64
	unmatched map[string]time.Time // transcripts seen before any owner
}

// NewTracker creates a commit tracker.
func NewTracker(cfg SessionConfig, clock Clock, logger zerolog.Logger, metrics *Metrics, sendResponse func(commitSeq uint64)) *Tracker {
	if metrics == nil {
		metrics = nopMetrics()
	}
	return &Tracker{
		clock:        clock,
		logger:       logger.With().Str("component", "commits").Logger(),
		metrics:      metrics,
		sendResponse: sendResponse,
		cfg:          cfg.withDefaults(),
		nextSeq:      1,
		unmatched:    make(map[string]time.Time),
	}
}

// Begin creates the commit for a newly stopped utterance. Any older
// commit still awaiting confirmation is superseded first: a newer
// utterance always wins over stale pending ones.
func (t *Tracker) Begin() *Commit {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.supersedeLocked()

	c := &Commit{
		Seq:              t.nextSeq,
		CreatedAt:        t.clock.Now(),
		ItemIDs:          make(map[string]bool),
		AwaitingResponse: true,
	}
	t.nextSeq++
	t.commits = append(t.commits, c)
	t.metrics.CommitsCreated.Inc()
	t.logger.Debug().Uint64("commit_seq", c.Seq).Msg("commit created")

	// Bound growth under pathological event loss.
	for len(t.commits) > t.cfg.MaxActiveCommits {
		evicted := t.commits[0]
		t.commits = t.commits[1:]
		t.metrics.CommitsEvicted.Inc()
		t.logger.Warn().Uint64("commit_seq", evicted.Seq).Msg("active commit set overflow, evicting oldest")
	}
	return c
}

// SupersedeAll cancels every pending commit without emitting responses.
// Called when a new recording starts.
func (t *Tracker) SupersedeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supersedeLocked()
	t.retireLocked()
}

func (t *Tracker) supersedeLocked() {
	for _, c := range t.commits {
		if c.HasSentResponse {
			continue
		}
		// Cancelled, not fulfilled: the flag is forced so the commit
		// can never emit later.
		c.HasSentResponse = true
		c.AwaitingResponse = false
		t.metrics.CommitsSuperseded.Inc()
		t.logger.Debug().Uint64("commit_seq", c.Seq).Msg("commit superseded by newer utterance")
	}
}

// OnBufferCommitted handles the server's buffer-commit acknowledgment.
// The ack attaches its item identifiers to the earliest commit still
// awaiting one. More than one identifier per ack is tolerated as an
// upstream duplication quirk: all are tracked under the one commit and
// all must resolve before retirement.
func (t *Tracker) OnBufferCommitted(itemIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var target *Commit
	for _, c := range t.commits {
		if !c.HasCommitAck {
			target = c
			break
		}
	}
	if target == nil {
		t.metrics.ProtocolAnomalies.Inc()
		t.logger.Warn().Strs("item_ids", itemIDs).Msg("buffer-commit ack with no pending commit")
		return
	}

	target.HasCommitAck = true
	target.AckAt = t.clock.Now()
	if len(itemIDs) == 0 {
		// No conversation items means no transcript will ever arrive;
		// the commit retires without a response instead of lingering.
		target.HasSentResponse = true
		target.AwaitingResponse = false
		t.metrics.ProtocolAnomalies.Inc()
		t.logger.Warn().Uint64("commit_seq", target.Seq).Msg("buffer-commit ack carried no item identifiers, retiring without response")
		t.retireLocked()
		return
	}
	if len(itemIDs) > 1 {
		t.metrics.ProtocolAnomalies.Inc()
		t.logger.Warn().Uint64("commit_seq", target.Seq).Strs("item_ids", itemIDs).
			Msg("multiple item identifiers for one commit, tracking all")
	}
	for _, id := range itemIDs {
		if _, seen := t.unmatched[id]; seen {
			delete(t.unmatched, id)
			target.ItemIDs[id] = true
			target.TranscriptAt = t.clock.Now()
			continue
		}
		target.ItemIDs[id] = false
	}
	target.HasUserTranscript = len(target.ItemIDs) > 0 && target.allResolved()

	t.tryEmitLocked(target)
	t.retireLocked()
}

// ResolveTranscript handles user transcript finalization for one item
// identifier, whether the turn survived or was vetoed.
func (t *Tracker) ResolveTranscript(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var owner *Commit
	for _, c := range t.commits {
		if _, ok := c.ItemIDs[itemID]; ok {
			owner = c
			break
		}
	}
	if owner == nil {
		// Reordering can deliver the transcript before its ack; park
		// it for the next ack to claim.
		t.metrics.ProtocolAnomalies.Inc()
		t.logger.Warn().Str("item_id", itemID).Msg("transcript resolved with no owning commit, parking")
		t.unmatched[itemID] = t.clock.Now()
		return
	}

	owner.ItemIDs[itemID] = true
	owner.TranscriptAt = t.clock.Now()
	owner.HasUserTranscript = owner.allResolved()

	t.tryEmitLocked(owner)
	t.retireLocked()
}

// tryEmitLocked emits the single response generation action once both
// confirmations hold. The HasSentResponse flag makes the emission
// unrepeatable, including for superseded commits.
func (t *Tracker) tryEmitLocked(c *Commit) {
	if !c.HasCommitAck || !c.HasUserTranscript || c.HasSentResponse || !c.AwaitingResponse {
		return
	}
	c.HasSentResponse = true
	c.AwaitingResponse = false
	t.metrics.ResponsesRequested.Inc()
	if !c.AckAt.IsZero() && !c.TranscriptAt.IsZero() {
		gap := c.TranscriptAt.Sub(c.AckAt)
		if gap < 0 {
			gap = -gap
		}
		t.metrics.TranscriptAckLatencyMS.Observe(float64(gap.Milliseconds()))
		t.logger.Debug().Uint64("commit_seq", c.Seq).Dur("ack_transcript_gap", gap).Msg("commit confirmed, requesting response")
	}
	if t.sendResponse != nil {
		t.sendResponse(c.Seq)
	}
}

// retireLocked removes commits whose work is done: response emitted (or
// forced), ack received, and every owned identifier resolved. A
// superseded commit stays until its own ack arrives; retiring it early
// would let the ack misattach to the next commit.
func (t *Tracker) retireLocked() {
	kept := t.commits[:0]
	for _, c := range t.commits {
		if c.HasSentResponse && c.HasCommitAck && c.allResolved() {
			t.logger.Debug().Uint64("commit_seq", c.Seq).Msg("commit retired")
			continue
		}
		kept = append(kept, c)
	}
	t.commits = kept
}

// Pending returns the number of active commits.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.commits)
}

// Commits returns a snapshot of the active set, oldest first.
func (t *Tracker) Commits() []*Commit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Commit(nil), t.commits...)
}

// Reset clears all correlation state. Nothing survives a disconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits = nil
	t.unmatched = make(map[string]time.Time)
}
