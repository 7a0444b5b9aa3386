package live

import "time"

// Event is the interface for all session events published upward to the
// UI/state layer. State transitions publish explicitly; no component
// depends on any reactivity mechanism.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// ConnState is the lifecycle state of the session.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// StateChangedEvent is emitted on every lifecycle transition.
type StateChangedEvent struct {
	From ConnState `json:"from"`
	To   ConnState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// SessionReadyEvent is emitted once the server confirms the session.
type SessionReadyEvent struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e *SessionReadyEvent) EventType() string { return "session.ready" }

// MessageFragmentEvent streams transcript text to the UI as it arrives.
type MessageFragmentEvent struct {
	TurnID  string `json:"turn_id"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	IsDelta bool   `json:"is_delta"`
	IsFinal bool   `json:"is_final"`
}

func (e *MessageFragmentEvent) EventType() string { return "message.fragment" }

// TurnFinalizedEvent delivers a finalized turn with its word timings.
// Finalized turns are handed upward for storage by the collaborator
// layer; this subsystem persists nothing.
type TurnFinalizedEvent struct {
	Turn *Turn `json:"turn"`
}

func (e *TurnFinalizedEvent) EventType() string { return "turn.finalized" }

// AssistantAudioEvent carries one chunk of synthesized output audio.
type AssistantAudioEvent struct {
	TurnID string `json:"turn_id"`
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

func (e *AssistantAudioEvent) EventType() string { return "assistant.audio" }

// RecordingStartedEvent is emitted when push-to-talk capture begins.
type RecordingStartedEvent struct{}

func (e *RecordingStartedEvent) EventType() string { return "recording.started" }

// RecordingStoppedEvent is emitted when capture is committed, after the
// trailing delay has elapsed.
type RecordingStoppedEvent struct {
	CommitSeq uint64 `json:"commit_seq"`
}

func (e *RecordingStoppedEvent) EventType() string { return "recording.stopped" }

// ResponseRequestedEvent is emitted when exactly one response generation
// is triggered for a resolved commit.
type ResponseRequestedEvent struct {
	CommitSeq uint64 `json:"commit_seq"`
}

func (e *ResponseRequestedEvent) EventType() string { return "response.requested" }

// ErrorEvent surfaces a transport or upstream error signal.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// Turn is one finalized conversational contribution.
type Turn struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Final       bool         `json:"final"`
	Timings     []WordTiming `json:"timings,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	FinalizedAt time.Time    `json:"finalized_at,omitempty"`
}

// WordTiming locates one word within a turn, in milliseconds relative to
// turn start and rune offsets into the turn text.
type WordTiming struct {
	Word      string `json:"word"`
	StartMS   int    `json:"start_ms"`
	EndMS     int    `json:"end_ms"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}
