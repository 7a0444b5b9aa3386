package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/parlo-app/parlo/pkg/realtime"
)

// DialFunc opens a transport for one session attempt.
type DialFunc func(ctx context.Context) (realtime.Transport, error)

// Options configures optional session dependencies.
type Options struct {
	Clock   Clock
	Logger  zerolog.Logger
	Metrics *Metrics
	Track   TrackController

	// Veto filters user turns before finalization. Defaults to
	// EmptyTranscriptVeto.
	Veto FinalizeVeto
}

// Session orchestrates one realtime conversation: it owns the ordered
// event lane, the transcript and timing state, the commit correlation,
// and the push-to-talk surface for its whole lifetime. Nothing is
// shared across sessions; disconnect clears everything.
type Session struct {
	cfg     SessionConfig
	clock   Clock
	logger  zerolog.Logger
	metrics *Metrics
	dial    DialFunc

	id string

	seq     *Sequencer
	asm     *Assembler
	est     *Estimator
	tracker *Tracker
	ptt     *Controller

	events    chan Event
	closeOnce sync.Once

	mu             sync.Mutex
	state          ConnState
	transport      realtime.Transport
	baseCtx        context.Context
	expiresAt      time.Time
	reconnectTimer Timer
	gen            int
	pumpDone       chan struct{}
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig, dial DialFunc, opts Options) *Session {
	cfg = cfg.withDefaults()
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics()
	}
	if opts.Veto == nil {
		opts.Veto = EmptyTranscriptVeto
	}

	s := &Session{
		cfg:     cfg,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		dial:    dial,
		id:      ulid.Make().String(),
		events:  make(chan Event, 256),
		state:   StateDisconnected,
		baseCtx: context.Background(),
	}
	s.logger = opts.Logger.With().Str("session_id", s.id).Logger()

	s.seq = NewSequencer(s.clock, s.logger, s.metrics, s.handleEvent)
	s.est = NewEstimator(cfg, s.clock, s.logger)
	s.tracker = NewTracker(cfg, s.clock, s.logger, s.metrics, s.requestResponse)
	s.asm = NewAssembler(cfg, s.clock, s.logger, s.metrics, AssemblerHooks{
		Reenter:        s.seq.EnqueueFunc,
		Veto:           opts.Veto,
		OnFragment:     func(ev MessageFragmentEvent) { s.publish(&ev) },
		OnFinalized:    s.onTurnFinalized,
		OnUserResolved: s.tracker.ResolveTranscript,
	})
	s.ptt = NewController(cfg, s.clock, s.logger, s.metrics, ControllerHooks{
		Track:   opts.Track,
		Tracker: s.tracker,
		Send:    s.sendOutbound,
		Reenter: s.seq.EnqueueFunc,
		Emit:    s.publish,
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events yields session events for the UI/state layer.
func (s *Session) Events() <-chan Event { return s.events }

// Turns returns the visible conversation history, oldest first.
func (s *Session) Turns() []*Turn { return s.asm.Turns() }

// Connect opens the transport, resets every buffer so no state leaks
// across sessions, and sends the session configuration.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("session is %s, not disconnected", s.state)
	}
	s.state = StateConnecting
	s.baseCtx = ctx
	s.mu.Unlock()
	s.publish(&StateChangedEvent{From: StateDisconnected, To: StateConnecting})

	transport, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.publish(&StateChangedEvent{From: StateConnecting, To: StateDisconnected})
		return fmt.Errorf("connect session: %w", err)
	}

	s.resetAll()

	s.mu.Lock()
	s.transport = transport
	s.gen++
	gen := s.gen
	s.pumpDone = make(chan struct{})
	pumpDone := s.pumpDone
	s.state = StateConnected
	s.mu.Unlock()

	if err := transport.Send(realtime.SessionUpdate{Session: s.cfg.wireConfig()}); err != nil {
		s.logger.Warn().Err(err).Msg("send session configuration")
	}

	go s.pump(transport, gen, pumpDone)

	s.publish(&StateChangedEvent{From: StateConnecting, To: StateConnected})
	s.logger.Info().Msg("session connected")
	return nil
}

// pump feeds inbound transport events into the ordered lane.
func (s *Session) pump(transport realtime.Transport, gen int, done chan struct{}) {
	for ev := range transport.Events() {
		s.seq.Enqueue(ev)
	}

	err := transport.Err()

	// Disconnect waits on done; it must be closed before teardown runs
	// or a remote close deadlocks the session.
	close(done)

	s.mu.Lock()
	stale := gen != s.gen || s.state != StateConnected
	s.mu.Unlock()
	if stale {
		return
	}
	if err != nil {
		// Fatal to the current session; retry/backoff is a caller
		// concern.
		s.logger.Error().Err(err).Msg("transport failed")
		s.publish(&ErrorEvent{Code: "transport", Message: err.Error()})
	}
	s.Disconnect()
}

// Disconnect tears the session down completely: reconnect timer,
// transport, queued events, turns, timings, and commits. Partial
// cleanup is a correctness bug, not an optimization.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateDisconnected
	s.gen++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	transport := s.transport
	s.transport = nil
	pumpDone := s.pumpDone
	s.pumpDone = nil
	s.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	if pumpDone != nil {
		<-pumpDone
	}

	s.resetAll()
	s.publish(&StateChangedEvent{From: from, To: StateDisconnected})
	s.logger.Info().Msg("session disconnected")
}

// Close disconnects and closes the event stream.
func (s *Session) Close() {
	s.Disconnect()
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *Session) resetAll() {
	s.seq.Reset()
	s.asm.Reset()
	s.est.Reset()
	s.tracker.Reset()
	s.ptt.Reset()
}

// StartRecording begins push-to-talk capture on the processing lane.
func (s *Session) StartRecording() {
	s.seq.EnqueueFunc(s.ptt.Start)
}

// StopRecording ends push-to-talk capture on the processing lane.
func (s *Session) StopRecording() {
	s.seq.EnqueueFunc(s.ptt.Stop)
}

// SetOutputDevice routes output audio to the given device when the
// transport supports selection.
func (s *Session) SetOutputDevice(deviceID string) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("session is not connected")
	}
	selector, ok := transport.(realtime.OutputDeviceSelector)
	if !ok {
		return fmt.Errorf("transport does not support output device selection")
	}
	return selector.SetOutputDevice(deviceID)
}

// handleEvent is the single ordered dispatch point for inbound events.
func (s *Session) handleEvent(ev realtime.ServerEvent) {
	switch e := ev.(type) {
	case realtime.SessionReady:
		s.onSessionReady(e)
	case realtime.SessionUpdated:
		s.logger.Debug().Msg("session configuration acknowledged")
	case realtime.BufferCommitted:
		s.asm.MarkUser(e.ItemIDs)
		s.tracker.OnBufferCommitted(e.ItemIDs)
	case realtime.TextDelta:
		s.asm.Append(e.ItemID, e.Delta)
		s.est.AddFragment(e.ItemID, e.Delta)
	case realtime.TextDone:
		s.asm.Complete(e.ItemID, e.Text)
	case realtime.AudioDelta:
		s.est.AddAudioBytes(e.ItemID, len(e.Data))
		s.publish(&AssistantAudioEvent{TurnID: e.ItemID, Data: e.Data, Format: s.cfg.Output.Encoding})
	case realtime.AudioDone:
		s.est.SetTotalDuration(e.ItemID, e.DurationMS)
		s.asm.Touch(e.ItemID)
	case realtime.TranscriptCompleted:
		s.asm.CompleteUserTranscript(e.ItemID, e.Text)
	case realtime.ServerError:
		s.logger.Warn().Str("code", e.Code).Str("message", e.Message).Msg("server error event")
		s.publish(&ErrorEvent{Code: e.Code, Message: e.Message})
	case realtime.UnknownEvent:
		// Already classified as a no-op by the sequencer.
	default:
		s.metrics.ProtocolAnomalies.Inc()
		s.logger.Warn().Str("event_type", ev.Type()).Msg("unhandled event variant")
	}
}

func (s *Session) onSessionReady(e realtime.SessionReady) {
	s.mu.Lock()
	s.expiresAt = e.ExpiresAt
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if !e.ExpiresAt.IsZero() {
		until := e.ExpiresAt.Sub(s.clock.Now()) - s.cfg.ReconnectMargin
		if until < 0 {
			until = 0
		}
		gen := s.gen
		s.reconnectTimer = s.clock.AfterFunc(until, func() { go s.reconnect(gen) })
	}
	s.mu.Unlock()

	s.publish(&SessionReadyEvent{SessionID: e.SessionID, ExpiresAt: e.ExpiresAt})
}

// reconnect cycles the transport a margin before session expiry.
func (s *Session) reconnect(gen int) {
	s.mu.Lock()
	stale := gen != s.gen || s.state != StateConnected
	ctx := s.baseCtx
	s.mu.Unlock()
	if stale {
		return
	}

	s.metrics.Reconnects.Inc()
	s.logger.Info().Msg("reconnecting before session expiry")
	s.Disconnect()
	if err := s.Connect(ctx); err != nil {
		s.logger.Error().Err(err).Msg("pre-expiry reconnect failed")
		s.publish(&ErrorEvent{Code: "reconnect", Message: err.Error()})
	}
}

// requestResponse emits the single response-generation action for a
// resolved commit.
func (s *Session) requestResponse(commitSeq uint64) {
	s.sendOutbound(realtime.ResponseCreate{})
	s.publish(&ResponseRequestedEvent{CommitSeq: commitSeq})
}

// onTurnFinalized attaches reconciled word timings and hands the turn
// upward. Missing duration hints degrade to the wall-clock estimate.
func (s *Session) onTurnFinalized(turn *Turn) {
	turn.Timings = s.est.Reconcile(turn.ID)
	s.est.Drop(turn.ID)
	s.publish(&TurnFinalizedEvent{Turn: turn})
}

// sendOutbound is fire-and-forget: failures are logged, never block the
// processing lane.
func (s *Session) sendOutbound(ev realtime.ClientEvent) {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		s.logger.Debug().Msg("outbound event dropped, not connected")
		return
	}
	if err := transport.Send(ev); err != nil {
		s.logger.Warn().Err(err).Msg("send outbound event")
	}
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Slow consumers must not stall the processing lane.
	}
}
