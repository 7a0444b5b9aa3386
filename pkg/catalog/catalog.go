// Package catalog provides read access to the tutoring content catalog:
// supported languages, scenario prompts, and per-learner preferences.
// Sessions consume these records at configuration time; the catalog is
// never written from the realtime path.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a catalog record does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Language is a supported target language.
type Language struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Script string `json:"script,omitempty"`
}

// Scenario is a tutoring scenario: the prompt the assistant runs and the
// objectives shown to the learner.
type Scenario struct {
	ID           string   `json:"id"`
	LanguageCode string   `json:"language_code"`
	Title        string   `json:"title"`
	Instructions string   `json:"instructions"`
	Objectives   []string `json:"objectives,omitempty"`
}

// Preferences holds a learner's session preferences.
type Preferences struct {
	UserID                string `json:"user_id"`
	TranscriptionLanguage string `json:"transcription_language,omitempty"`
	TargetLevel           string `json:"target_level,omitempty"`
}

// Store is the read interface sessions use to build their configuration.
type Store interface {
	Language(ctx context.Context, code string) (Language, error)
	Languages(ctx context.Context) ([]Language, error)
	Scenario(ctx context.Context, id string) (Scenario, error)
	Scenarios(ctx context.Context, languageCode string) ([]Scenario, error)
	Preferences(ctx context.Context, userID string) (Preferences, error)
}
