package realtime

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeServerEvent_Variants(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		check func(t *testing.T, ev ServerEvent)
	}{
		{
			name:  "session ready",
			frame: `{"type":"session.ready","session_id":"s-1","expires_at":"2026-08-30T12:00:00Z"}`,
			check: func(t *testing.T, ev ServerEvent) {
				ready := ev.(SessionReady)
				if ready.SessionID != "s-1" || ready.ExpiresAt.IsZero() {
					t.Fatalf("ready = %+v", ready)
				}
			},
		},
		{
			name:  "buffer committed",
			frame: `{"type":"input_audio.committed","item_ids":["a1","a2"]}`,
			check: func(t *testing.T, ev ServerEvent) {
				ack := ev.(BufferCommitted)
				if len(ack.ItemIDs) != 2 || ack.ItemIDs[0] != "a1" {
					t.Fatalf("ack = %+v", ack)
				}
			},
		},
		{
			name:  "text delta",
			frame: `{"type":"text.delta","item_id":"a1","delta":"Bonjour"}`,
			check: func(t *testing.T, ev ServerEvent) {
				delta := ev.(TextDelta)
				if delta.ItemID != "a1" || delta.Delta != "Bonjour" {
					t.Fatalf("delta = %+v", delta)
				}
			},
		},
		{
			name:  "text done",
			frame: `{"type":"text.done","item_id":"a1","text":"Bonjour !"}`,
			check: func(t *testing.T, ev ServerEvent) {
				done := ev.(TextDone)
				if done.Text != "Bonjour !" {
					t.Fatalf("done = %+v", done)
				}
			},
		},
		{
			name: "audio delta",
			frame: `{"type":"audio.delta","item_id":"a1","audio_b64":"` +
				base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) + `"}`,
			check: func(t *testing.T, ev ServerEvent) {
				delta := ev.(AudioDelta)
				if delta.ItemID != "a1" || len(delta.Data) != 4 {
					t.Fatalf("delta = %+v", delta)
				}
			},
		},
		{
			name:  "audio done",
			frame: `{"type":"audio.done","item_id":"a1","duration_ms":900}`,
			check: func(t *testing.T, ev ServerEvent) {
				done := ev.(AudioDone)
				if done.DurationMS != 900 {
					t.Fatalf("done = %+v", done)
				}
			},
		},
		{
			name:  "transcript completed",
			frame: `{"type":"transcript.completed","item_id":"a1","text":"Un café"}`,
			check: func(t *testing.T, ev ServerEvent) {
				tr := ev.(TranscriptCompleted)
				if tr.Text != "Un café" {
					t.Fatalf("transcript = %+v", tr)
				}
			},
		},
		{
			name:  "server error",
			frame: `{"type":"error","code":"rate_limited","message":"slow down"}`,
			check: func(t *testing.T, ev ServerEvent) {
				se := ev.(ServerError)
				if se.Code != "rate_limited" {
					t.Fatalf("error = %+v", se)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeServerEvent([]byte(tc.frame))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tc.check(t, ev)
		})
	}
}

func TestDecodeServerEvent_UnknownTypePreserved(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"vendor.extension","payload":42}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	unknown, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("got %T, want UnknownEvent", ev)
	}
	if unknown.Type() != "vendor.extension" {
		t.Fatalf("type = %q", unknown.Type())
	}
	if !strings.Contains(string(unknown.Raw), "payload") {
		t.Fatalf("raw frame not preserved: %s", unknown.Raw)
	}
}

func TestDecodeServerEvent_Malformed(t *testing.T) {
	if _, err := DecodeServerEvent([]byte(`{`)); err == nil {
		t.Fatal("want error for malformed JSON")
	}
	if _, err := DecodeServerEvent([]byte(`{"item_id":"a1"}`)); err == nil {
		t.Fatal("want error for missing type")
	}
	if _, err := DecodeServerEvent([]byte(`{"type":"audio.delta","audio_b64":"!!"}`)); err == nil {
		t.Fatal("want error for invalid base64 payload")
	}
}

func TestEncodeClientEvent(t *testing.T) {
	data, err := EncodeClientEvent(SessionUpdate{Session: SessionConfig{
		Model:         "parlo-speech-1",
		Voice:         "amelie",
		TurnDetection: "none",
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame["type"] != "session.update" {
		t.Fatalf("type = %v", frame["type"])
	}
	session := frame["session"].(map[string]any)
	if session["turn_detection"] != "none" {
		t.Fatalf("turn_detection = %v", session["turn_detection"])
	}

	data, err = EncodeClientEvent(InputAudioAppend{Data: []byte{9, 9}})
	if err != nil {
		t.Fatalf("encode append: %v", err)
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal append: %v", err)
	}
	if frame["type"] != "input_audio.append" || frame["audio_b64"] == "" {
		t.Fatalf("frame = %v", frame)
	}

	for _, ev := range []ClientEvent{InputBufferClear{}, InputBufferCommit{}, ResponseCreate{}, ResponseCancel{}} {
		data, err := EncodeClientEvent(ev)
		if err != nil {
			t.Fatalf("encode %T: %v", ev, err)
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal %T: %v", ev, err)
		}
		if frame["type"] == "" {
			t.Fatalf("missing type for %T", ev)
		}
	}
}
