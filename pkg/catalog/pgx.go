package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool the catalog reads through.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

// PGStore reads the catalog from Postgres.
type PGStore struct {
	db Querier
}

// NewPGStore creates a Postgres-backed catalog store.
func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Language(ctx context.Context, code string) (Language, error) {
	var l Language
	err := s.db.QueryRow(ctx,
		`SELECT code, name, COALESCE(script, '') FROM languages WHERE code = $1`,
		code,
	).Scan(&l.Code, &l.Name, &l.Script)
	if errors.Is(err, pgx.ErrNoRows) {
		return Language{}, ErrNotFound
	}
	if err != nil {
		return Language{}, fmt.Errorf("query language %q: %w", code, err)
	}
	return l, nil
}

func (s *PGStore) Languages(ctx context.Context) ([]Language, error) {
	rows, err := s.db.Query(ctx,
		`SELECT code, name, COALESCE(script, '') FROM languages ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query languages: %w", err)
	}
	defer rows.Close()

	var out []Language
	for rows.Next() {
		var l Language
		if err := rows.Scan(&l.Code, &l.Name, &l.Script); err != nil {
			return nil, fmt.Errorf("scan language: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PGStore) Scenario(ctx context.Context, id string) (Scenario, error) {
	var sc Scenario
	err := s.db.QueryRow(ctx,
		`SELECT id, language_code, title, instructions, COALESCE(objectives, '{}')
		   FROM scenarios WHERE id = $1`,
		id,
	).Scan(&sc.ID, &sc.LanguageCode, &sc.Title, &sc.Instructions, &sc.Objectives)
	if errors.Is(err, pgx.ErrNoRows) {
		return Scenario{}, ErrNotFound
	}
	if err != nil {
		return Scenario{}, fmt.Errorf("query scenario %q: %w", id, err)
	}
	return sc, nil
}

func (s *PGStore) Scenarios(ctx context.Context, languageCode string) ([]Scenario, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, language_code, title, instructions, COALESCE(objectives, '{}')
		   FROM scenarios WHERE $1 = '' OR language_code = $1 ORDER BY id`,
		languageCode,
	)
	if err != nil {
		return nil, fmt.Errorf("query scenarios: %w", err)
	}
	defer rows.Close()

	var out []Scenario
	for rows.Next() {
		var sc Scenario
		if err := rows.Scan(&sc.ID, &sc.LanguageCode, &sc.Title, &sc.Instructions, &sc.Objectives); err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PGStore) Preferences(ctx context.Context, userID string) (Preferences, error) {
	var p Preferences
	err := s.db.QueryRow(ctx,
		`SELECT user_id, COALESCE(transcription_language, ''), COALESCE(target_level, '')
		   FROM learner_preferences WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.TranscriptionLanguage, &p.TargetLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("query preferences %q: %w", userID, err)
	}
	return p, nil
}
