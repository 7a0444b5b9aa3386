package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for demos and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	languages map[string]Language
	scenarios map[string]Scenario
	prefs     map[string]Preferences
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		languages: make(map[string]Language),
		scenarios: make(map[string]Scenario),
		prefs:     make(map[string]Preferences),
	}
}

// PutLanguage adds or replaces a language.
func (s *MemoryStore) PutLanguage(l Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.languages[l.Code] = l
}

// PutScenario adds or replaces a scenario.
func (s *MemoryStore) PutScenario(sc Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[sc.ID] = sc
}

// PutPreferences adds or replaces a learner's preferences.
func (s *MemoryStore) PutPreferences(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = p
}

func (s *MemoryStore) Language(ctx context.Context, code string) (Language, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.languages[code]
	if !ok {
		return Language{}, ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) Languages(ctx context.Context) ([]Language, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Language, 0, len(s.languages))
	for _, l := range s.languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) Scenario(ctx context.Context, id string) (Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return Scenario{}, ErrNotFound
	}
	return sc, nil
}

func (s *MemoryStore) Scenarios(ctx context.Context, languageCode string) ([]Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Scenario
	for _, sc := range s.scenarios {
		if languageCode == "" || sc.LanguageCode == languageCode {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Preferences(ctx context.Context, userID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return Preferences{}, ErrNotFound
	}
	return p, nil
}
