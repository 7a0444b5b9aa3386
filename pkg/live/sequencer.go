package live

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlo-app/parlo/pkg/realtime"
)

// Sequencer timestamps and buffers inbound events, then drains them in
// timestamp order into a single logical processing lane. Enqueue is safe
// from any goroutine; the drain never runs twice concurrently, so
// downstream state only ever mutates on one lane.
type Sequencer struct {
	clock   Clock
	logger  zerolog.Logger
	metrics *Metrics

	// handler receives every drained server event, in order.
	handler func(realtime.ServerEvent)

	mu       sync.Mutex
	queue    []sequencedItem
	nextSeq  uint64
	draining bool
}

type sequencedItem struct {
	at  time.Time
	seq uint64 // FIFO tie-break for equal timestamps
	ev  realtime.ServerEvent
	fn  func() // internal lane re-entry; exactly one of ev/fn is set
}

// NewSequencer creates a sequencer dispatching into handler.
func NewSequencer(clock Clock, logger zerolog.Logger, metrics *Metrics, handler func(realtime.ServerEvent)) *Sequencer {
	if metrics == nil {
		metrics = nopMetrics()
	}
	return &Sequencer{
		clock:   clock,
		logger:  logger.With().Str("component", "sequencer").Logger(),
		metrics: metrics,
		handler: handler,
	}
}

// Enqueue stamps the event with the arrival time and queues it.
func (q *Sequencer) Enqueue(ev realtime.ServerEvent) {
	q.EnqueueAt(ev, q.clock.Now())
}

// EnqueueAt queues an event carrying its own logical timestamp. Events
// are dispatched in increasing timestamp order regardless of the order
// EnqueueAt is called in.
func (q *Sequencer) EnqueueAt(ev realtime.ServerEvent, at time.Time) {
	if ev == nil {
		return
	}
	q.push(sequencedItem{at: at, ev: ev})
}

// EnqueueFunc schedules a closure on the processing lane. Deferred
// timers re-enter ordered processing through here instead of mutating
// state from the timer goroutine.
func (q *Sequencer) EnqueueFunc(fn func()) {
	if fn == nil {
		return
	}
	q.push(sequencedItem{at: q.clock.Now(), fn: fn})
}

func (q *Sequencer) push(item sequencedItem) {
	q.mu.Lock()
	item.seq = q.nextSeq
	q.nextSeq++

	// Insert keeping the queue sorted by (timestamp, seq).
	i := sort.Search(len(q.queue), func(i int) bool {
		if q.queue[i].at.Equal(item.at) {
			return q.queue[i].seq > item.seq
		}
		return q.queue[i].at.After(item.at)
	})
	q.queue = append(q.queue, sequencedItem{})
	copy(q.queue[i+1:], q.queue[i:])
	q.queue[i] = item
	q.metrics.QueueDepth.Set(float64(len(q.queue)))

	if q.draining {
		// A drain is already walking the queue; appending is enough.
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	q.drain()
}

// drain pops and dispatches one event at a time until the queue empties.
// Side effects of two events never interleave.
func (q *Sequencer) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.draining = false
			q.metrics.QueueDepth.Set(0)
			q.mu.Unlock()
			return
		}
		item := q.queue[0]
		q.queue = q.queue[1:]
		q.metrics.QueueDepth.Set(float64(len(q.queue)))
		q.mu.Unlock()

		q.dispatch(item)
	}
}

func (q *Sequencer) dispatch(item sequencedItem) {
	q.metrics.EventsSequenced.Inc()
	if item.fn != nil {
		item.fn()
		return
	}
	if unknown, ok := item.ev.(realtime.UnknownEvent); ok {
		// Unrecognized types are classified as no-ops, never dropped
		// silently, to keep the ordering contract observable.
		q.logger.Debug().Str("event_type", unknown.EventType).Msg("no-op classification for unrecognized event")
	}
	q.handler(item.ev)
}

// Pending returns the number of queued, undrained events.
func (q *Sequencer) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Reset discards every queued event. Disconnect cancels the whole lane.
func (q *Sequencer) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = nil
	q.metrics.QueueDepth.Set(0)
}
