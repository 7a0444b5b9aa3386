// Package realtime speaks the wire protocol of the external realtime
// speech-conversation API and provides the websocket transport adapter.
//
// Server payloads are decoded exactly once, at this boundary, into closed
// tagged-variant types. Downstream components never inspect raw JSON.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AudioFormat describes a PCM audio stream negotiated with the API.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// SessionConfig is the session configuration exchanged at connect time.
// Turn detection is disabled by default: push-to-talk replaces automatic
// voice-activity turn-taking.
type SessionConfig struct {
	Model                 string      `json:"model"`
	Voice                 string      `json:"voice"`
	Instructions          string      `json:"instructions,omitempty"`
	TranscriptionLanguage string      `json:"transcription_language,omitempty"`
	TranscriptionModel    string      `json:"transcription_model,omitempty"`
	OutputFormat          AudioFormat `json:"output_format"`
	TurnDetection         string      `json:"turn_detection"`
}

// ClientEvent is an outbound action sent to the API.
type ClientEvent interface {
	clientEventType() string
}

// SessionUpdate replaces the session configuration.
type SessionUpdate struct {
	Session SessionConfig `json:"session"`
}

func (SessionUpdate) clientEventType() string { return "session.update" }

// InputBufferClear discards all uncommitted input audio.
type InputBufferClear struct{}

func (InputBufferClear) clientEventType() string { return "input_audio.clear" }

// InputBufferCommit commits buffered input audio as one user utterance.
type InputBufferCommit struct{}

func (InputBufferCommit) clientEventType() string { return "input_audio.commit" }

// InputAudioAppend streams one chunk of capture audio to the input buffer.
type InputAudioAppend struct {
	Data []byte `json:"-"`
}

func (InputAudioAppend) clientEventType() string { return "input_audio.append" }

// ResponseCreate asks the API to generate a response to the committed input.
type ResponseCreate struct{}

func (ResponseCreate) clientEventType() string { return "response.create" }

// ResponseCancel cancels any in-flight response generation.
type ResponseCancel struct{}

func (ResponseCancel) clientEventType() string { return "response.cancel" }

// EncodeClientEvent marshals an outbound event into a wire frame.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("client event must not be nil")
	}
	frame := map[string]any{"type": ev.clientEventType()}
	switch e := ev.(type) {
	case SessionUpdate:
		frame["session"] = e.Session
	case InputAudioAppend:
		frame["audio_b64"] = base64.StdEncoding.EncodeToString(e.Data)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.clientEventType(), err)
	}
	return data, nil
}

// ServerEvent is an inbound event received from the API.
type ServerEvent interface {
	// Type returns the wire event type string.
	Type() string
}

// SessionReady is the first event after connect. ExpiresAt bounds the
// session lifetime; the lifecycle manager reconnects before it passes.
type SessionReady struct {
	SessionID    string      `json:"session_id"`
	ExpiresAt    time.Time   `json:"expires_at"`
	OutputFormat AudioFormat `json:"output_format"`
}

func (SessionReady) Type() string { return "session.ready" }

// SessionUpdated acknowledges a SessionUpdate.
type SessionUpdated struct{}

func (SessionUpdated) Type() string { return "session.updated" }

// BufferCommitted acknowledges an InputBufferCommit. The server assigns
// zero or more conversation item identifiers to the committed utterance.
type BufferCommitted struct {
	ItemIDs []string `json:"item_ids"`
}

func (BufferCommitted) Type() string { return "input_audio.committed" }

// TextDelta carries a streamed text fragment for one conversation item.
type TextDelta struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

func (TextDelta) Type() string { return "text.delta" }

// TextDone marks the end of streamed text for one conversation item.
type TextDone struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

func (TextDone) Type() string { return "text.done" }

// AudioDelta carries one chunk of synthesized output audio.
type AudioDelta struct {
	ItemID string `json:"item_id"`
	Data   []byte `json:"-"`
}

func (AudioDelta) Type() string { return "audio.delta" }

// AudioDone marks the end of output audio for one conversation item.
// DurationMS, when nonzero, is the authoritative total audio length.
type AudioDone struct {
	ItemID     string `json:"item_id"`
	DurationMS int    `json:"duration_ms"`
}

func (AudioDone) Type() string { return "audio.done" }

// TranscriptCompleted delivers the final transcription of a committed
// user utterance.
type TranscriptCompleted struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

func (TranscriptCompleted) Type() string { return "transcript.completed" }

// ServerError reports a protocol or upstream failure.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ServerError) Type() string { return "error" }

// UnknownEvent preserves frames with an unrecognized type so the ordering
// contract stays observable in logs. It is never dropped at this layer.
type UnknownEvent struct {
	EventType string
	Raw       json.RawMessage
}

func (e UnknownEvent) Type() string { return e.EventType }

// DecodeServerEvent decodes one inbound wire frame.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case "session.ready":
		var ev SessionReady
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode session.ready: %w", err)
		}
		return ev, nil
	case "session.updated":
		return SessionUpdated{}, nil
	case "input_audio.committed":
		var ev BufferCommitted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode input_audio.committed: %w", err)
		}
		return ev, nil
	case "text.delta":
		var ev TextDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode text.delta: %w", err)
		}
		return ev, nil
	case "text.done":
		var ev TextDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode text.done: %w", err)
		}
		return ev, nil
	case "audio.delta":
		var frame struct {
			ItemID   string `json:"item_id"`
			AudioB64 string `json:"audio_b64"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode audio.delta: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(frame.AudioB64)
		if err != nil {
			return nil, fmt.Errorf("decode audio.delta payload: %w", err)
		}
		return AudioDelta{ItemID: frame.ItemID, Data: audio}, nil
	case "audio.done":
		var ev AudioDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode audio.done: %w", err)
		}
		return ev, nil
	case "transcript.completed":
		var ev TranscriptCompleted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode transcript.completed: %w", err)
		}
		return ev, nil
	case "error":
		var ev ServerError
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return ev, nil
	default:
		return UnknownEvent{
			EventType: typ,
			Raw:       append(json.RawMessage(nil), data...),
		}, nil
	}
}
