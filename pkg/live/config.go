package live

import (
	"time"

	"github.com/parlo-app/parlo/pkg/catalog"
	"github.com/parlo-app/parlo/pkg/realtime"
)

// Role identifies which party produced a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SessionConfig holds all configuration for a conversation session.
type SessionConfig struct {
	// Model is the speech-conversation model identifier.
	Model string

	// Voice is the output voice identifier.
	Voice string

	// Instructions is the tutoring scenario prompt sent at connect.
	Instructions string

	// TranscriptionLanguage is the language hint for input transcription.
	TranscriptionLanguage string

	// TranscriptionModel selects the input transcription model.
	TranscriptionModel string

	// Output is the negotiated output audio format.
	Output AudioConfig

	// SettleDelay is the debounce window before a turn is finalized,
	// absorbing near-simultaneous partial/final notifications.
	// Default: 250ms.
	SettleDelay time.Duration

	// TrailingDelay is how long stop() keeps capture open to admit
	// trailing audio before committing. Default: 300ms.
	TrailingDelay time.Duration

	// DuplicateStopWindow is the guard window within which a second
	// stop() is treated as a duplicate signal. Default: 200ms.
	DuplicateStopWindow time.Duration

	// ReconnectMargin is how long before session expiry a reconnect is
	// scheduled. Default: 1 minute.
	ReconnectMargin time.Duration

	// MaxActiveCommits caps the pending commit set; the oldest entry is
	// evicted on overflow. Default: 3.
	MaxActiveCommits int

	// Word timing estimation knobs. A short token gets
	// WordBaseDuration; tokens longer than WordBaseChars gain
	// WordPerCharDuration per extra character.
	WordBaseDuration    time.Duration
	WordPerCharDuration time.Duration
	WordBaseChars       int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:               "parlo-speech-1",
		Voice:               "amelie",
		Output:              DefaultAudioConfig(),
		SettleDelay:         250 * time.Millisecond,
		TrailingDelay:       300 * time.Millisecond,
		DuplicateStopWindow: 200 * time.Millisecond,
		ReconnectMargin:     time.Minute,
		MaxActiveCommits:    3,
		WordBaseDuration:    220 * time.Millisecond,
		WordPerCharDuration: 55 * time.Millisecond,
		WordBaseChars:       4,
	}
}

// ScenarioConfig derives a SessionConfig from catalog records: the target
// language, the tutoring scenario, and the learner's preferences.
func ScenarioConfig(lang catalog.Language, scenario catalog.Scenario, prefs catalog.Preferences) SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Instructions = scenario.Instructions
	cfg.TranscriptionLanguage = lang.Code
	if prefs.TranscriptionLanguage != "" {
		cfg.TranscriptionLanguage = prefs.TranscriptionLanguage
	}
	return cfg
}

func (c SessionConfig) withDefaults() SessionConfig {
	def := DefaultSessionConfig()
	if c.SettleDelay <= 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.TrailingDelay <= 0 {
		c.TrailingDelay = def.TrailingDelay
	}
	if c.DuplicateStopWindow <= 0 {
		c.DuplicateStopWindow = def.DuplicateStopWindow
	}
	if c.ReconnectMargin <= 0 {
		c.ReconnectMargin = def.ReconnectMargin
	}
	if c.MaxActiveCommits <= 0 {
		c.MaxActiveCommits = def.MaxActiveCommits
	}
	if c.WordBaseDuration <= 0 {
		c.WordBaseDuration = def.WordBaseDuration
	}
	if c.WordPerCharDuration <= 0 {
		c.WordPerCharDuration = def.WordPerCharDuration
	}
	if c.WordBaseChars <= 0 {
		c.WordBaseChars = def.WordBaseChars
	}
	if c.Output.SampleRate == 0 {
		c.Output = DefaultAudioConfig()
	}
	return c
}

// wireConfig maps the session configuration to the protocol shape sent
// in session.update at connect.
func (c SessionConfig) wireConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		Model:                 c.Model,
		Voice:                 c.Voice,
		Instructions:          c.Instructions,
		TranscriptionLanguage: c.TranscriptionLanguage,
		TranscriptionModel:    c.TranscriptionModel,
		OutputFormat: realtime.AudioFormat{
			Encoding:     c.Output.Encoding,
			SampleRateHz: c.Output.SampleRate,
			Channels:     c.Output.Channels,
		},
		TurnDetection: "none",
	}
}

// AudioConfig specifies output audio format parameters.
type AudioConfig struct {
	Encoding      string
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultAudioConfig returns the standard output audio configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		Encoding:      "pcm_s16le",
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMS returns the duration in milliseconds of the given byte count.
func (c AudioConfig) DurationMS(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}
