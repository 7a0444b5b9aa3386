package live

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlo-app/parlo/pkg/realtime"
)

// TrackController toggles the one physical shared resource, the audio
// capture track. Only the push-to-talk controller touches it, and only
// at start/stop boundaries.
type TrackController interface {
	EnableCapture()
	DisableCapture()
}

// NopTrack is a TrackController for transports without local capture.
type NopTrack struct{}

func (NopTrack) EnableCapture()  {}
func (NopTrack) DisableCapture() {}

// Controller is the push-to-talk control surface. Starting cancels any
// in-flight response and supersedes stale commits; stopping delays the
// commit to admit trailing audio and suppresses duplicate stop signals.
type Controller struct {
	clock   Clock
	logger  zerolog.Logger
	metrics *Metrics

	track   TrackController
	tracker *Tracker
	send    func(realtime.ClientEvent)
	reenter func(fn func())
	emit    func(Event)

	mu        sync.Mutex
	cfg       SessionConfig
	recording bool
	lastStop  time.Time
	stopTimer Timer
}

// ControllerHooks wires the controller's collaborators.
type ControllerHooks struct {
	Track   TrackController
	Tracker *Tracker
	Send    func(realtime.ClientEvent)
	Reenter func(fn func())
	Emit    func(Event)
}

// NewController creates a push-to-talk controller.
func NewController(cfg SessionConfig, clock Clock, logger zerolog.Logger, metrics *Metrics, hooks ControllerHooks) *Controller {
	if metrics == nil {
		metrics = nopMetrics()
	}
	if hooks.Track == nil {
		hooks.Track = NopTrack{}
	}
	if hooks.Reenter == nil {
		hooks.Reenter = func(fn func()) { fn() }
	}
	return &Controller{
		clock:   clock,
		logger:  logger.With().Str("component", "ptt").Logger(),
		metrics: metrics,
		track:   hooks.Track,
		tracker: hooks.Tracker,
		send:    hooks.Send,
		reenter: hooks.Reenter,
		emit:    hooks.Emit,
		cfg:     cfg.withDefaults(),
	}
}

// Start begins capture: any streaming response is cancelled, the input
// buffer is cleared, stale commits are superseded, and the track is
// re-enabled.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
	c.recording = true
	c.mu.Unlock()

	c.sendEvent(realtime.ResponseCancel{})
	c.sendEvent(realtime.InputBufferClear{})
	if c.tracker != nil {
		c.tracker.SupersedeAll()
	}
	c.track.EnableCapture()
	c.logger.Debug().Msg("recording started")
	c.publish(&RecordingStartedEvent{})
}

// Stop schedules the commit of the captured utterance. The track stays
// enabled for the trailing delay so final audio chunks are admitted. A
// second stop inside the guard window is a duplicate signal and is
// ignored entirely; duplicate stops are the direct cause of
// duplicate-response bugs.
func (c *Controller) Stop() {
	now := c.clock.Now()

	c.mu.Lock()
	if !c.lastStop.IsZero() && now.Sub(c.lastStop) < c.cfg.DuplicateStopWindow {
		c.mu.Unlock()
		c.metrics.DuplicateStops.Inc()
		c.logger.Debug().Dur("since_last", now.Sub(c.lastStop)).Msg("duplicate stop suppressed")
		return
	}
	c.lastStop = now
	c.recording = false
	if c.stopTimer != nil {
		c.stopTimer.Stop()
	}
	c.stopTimer = c.clock.AfterFunc(c.cfg.TrailingDelay, func() {
		c.reenter(c.finishStop)
	})
	c.mu.Unlock()
}

// finishStop runs on the processing lane after the trailing delay.
func (c *Controller) finishStop() {
	c.mu.Lock()
	c.stopTimer = nil
	if c.recording {
		// A new Start arrived during the trailing delay; the stop is
		// obsolete.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.track.DisableCapture()
	c.sendEvent(realtime.InputBufferCommit{})
	var seq uint64
	if c.tracker != nil {
		seq = c.tracker.Begin().Seq
	}
	c.logger.Debug().Uint64("commit_seq", seq).Msg("capture committed")
	c.publish(&RecordingStoppedEvent{CommitSeq: seq})
}

// Recording reports whether capture is currently enabled.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Reset cancels any pending stop and disables capture. Used on
// disconnect.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
	c.recording = false
	c.lastStop = time.Time{}
	c.mu.Unlock()
	c.track.DisableCapture()
}

func (c *Controller) sendEvent(ev realtime.ClientEvent) {
	if c.send != nil {
		c.send(ev)
	}
}

func (c *Controller) publish(ev Event) {
	if c.emit != nil {
		c.emit(ev)
	}
}
