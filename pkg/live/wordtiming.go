package live

import (
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// Estimator synthesizes per-word start/end timestamps for caption
// highlighting. The upstream API provides no word timing, so each word
// gets an estimated offset while streaming and the whole turn is
// reconciled once against the authoritative audio duration at finalize.
type Estimator struct {
	clock  Clock
	logger zerolog.Logger

	mu    sync.Mutex
	cfg   SessionConfig
	turns map[string]*timingState
}

type timingState struct {
	startedAt time.Time
	words     []WordTiming
	runeLen   int
	midWord   bool
	hintMS    int // accumulated from audio chunk byte lengths
	totalMS   int // authoritative total from stream completion
}

// NewEstimator creates a word-timing estimator.
func NewEstimator(cfg SessionConfig, clock Clock, logger zerolog.Logger) *Estimator {
	return &Estimator{
		clock:  clock,
		logger: logger.With().Str("component", "wordtiming").Logger(),
		cfg:    cfg.withDefaults(),
		turns:  make(map[string]*timingState),
	}
}

// AddFragment tokenizes a streamed fragment into words and inter-word
// whitespace. A fragment may begin mid-word; the open word is extended
// rather than split.
func (e *Estimator) AddFragment(itemID, fragment string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.turns[itemID]
	if !ok {
		st = &timingState{startedAt: e.clock.Now()}
		e.turns[itemID] = st
	}
	elapsed := int(e.clock.Now().Sub(st.startedAt).Milliseconds())

	for _, r := range fragment {
		if unicode.IsSpace(r) {
			st.midWord = false
			st.runeLen++
			continue
		}
		if st.midWord && len(st.words) > 0 {
			last := &st.words[len(st.words)-1]
			last.Word += string(r)
			last.CharEnd = st.runeLen + 1
			last.EndMS = last.StartMS + e.wordDurationMS(last.CharEnd-last.CharStart)
		} else {
			start := elapsed
			if n := len(st.words); n > 0 && st.words[n-1].EndMS > start {
				start = st.words[n-1].EndMS
			}
			st.words = append(st.words, WordTiming{
				Word:      string(r),
				StartMS:   start,
				EndMS:     start + e.wordDurationMS(1),
				CharStart: st.runeLen,
				CharEnd:   st.runeLen + 1,
			})
			st.midWord = true
		}
		st.runeLen++
	}
}

// wordDurationMS estimates a word's duration from its character length.
func (e *Estimator) wordDurationMS(chars int) int {
	dur := int(e.cfg.WordBaseDuration.Milliseconds())
	if extra := chars - e.cfg.WordBaseChars; extra > 0 {
		dur += extra * int(e.cfg.WordPerCharDuration.Milliseconds())
	}
	return dur
}

// AddAudioBytes accumulates a duration hint from a binary audio chunk's
// byte length, given the negotiated output format.
func (e *Estimator) AddAudioBytes(itemID string, byteLen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.turns[itemID]
	if !ok {
		st = &timingState{startedAt: e.clock.Now()}
		e.turns[itemID] = st
	}
	st.hintMS += e.cfg.Output.DurationMS(byteLen)
}

// SetTotalDuration records the authoritative total reported at stream
// completion. It takes precedence over byte-length hints.
func (e *Estimator) SetTotalDuration(itemID string, ms int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.turns[itemID]
	if !ok {
		st = &timingState{startedAt: e.clock.Now()}
		e.turns[itemID] = st
	}
	st.totalMS = ms
}

// Words returns the current in-flight estimates for live captions.
func (e *Estimator) Words(itemID string) []WordTiming {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.turns[itemID]
	if !ok {
		return nil
	}
	return append([]WordTiming(nil), st.words...)
}

// Reconcile rewrites the turn's timings against the known duration:
// consecutive words are snapped to touch exactly and the final word is
// stretched or clamped to the authoritative total. With no duration
// hints the wall-clock estimate stands, and transcript delivery is
// never blocked.
func (e *Estimator) Reconcile(itemID string) []WordTiming {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.turns[itemID]
	if !ok || len(st.words) == 0 {
		return nil
	}
	words := st.words

	for i := 0; i < len(words)-1; i++ {
		words[i].EndMS = words[i+1].StartMS
	}

	total := st.totalMS
	if total == 0 {
		total = st.hintMS
	}
	if total > 0 {
		last := &words[len(words)-1]
		if total > last.StartMS {
			last.EndMS = total
		} else {
			e.logger.Warn().Str("item_id", itemID).
				Int("total_ms", total).Int("last_start_ms", last.StartMS).
				Msg("estimated timings exceed reported duration, compressing")
			compressTo(words, total)
		}
	}
	return append([]WordTiming(nil), words...)
}

// compressTo proportionally rescales timings so the final end offset
// matches total while keeping starts strictly increasing.
func compressTo(words []WordTiming, total int) {
	oldEnd := words[len(words)-1].EndMS
	if oldEnd <= 0 {
		oldEnd = 1
	}
	scale := float64(total) / float64(oldEnd)
	prevEnd := 0
	for i := range words {
		start := int(float64(words[i].StartMS) * scale)
		if start < prevEnd {
			start = prevEnd
		}
		end := int(float64(words[i].EndMS) * scale)
		if end <= start {
			end = start + 1
		}
		words[i].StartMS = start
		words[i].EndMS = end
		prevEnd = end
	}
	words[len(words)-1].EndMS = total
	if n := len(words); words[n-1].EndMS <= words[n-1].StartMS {
		words[n-1].EndMS = words[n-1].StartMS + 1
	}
}

// Drop releases timing state for one item.
func (e *Estimator) Drop(itemID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.turns, itemID)
}

// Reset releases all timing state.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = make(map[string]*timingState)
}
