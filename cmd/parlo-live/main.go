// Package main provides a terminal demo for live tutoring sessions.
//
// Usage:
//
//	go run ./cmd/parlo-live --gateway wss://host/realtime
//
// Environment variables:
//
//	PARLO_API_KEY - Realtime gateway API key
//	DATABASE_URL  - Optional Postgres catalog; a built-in scenario is
//	                used when unset
//
// Controls:
//
//	<enter>  - Toggle push-to-talk (press to speak, press again to stop)
//	q        - Quit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/parlo-app/parlo/pkg/catalog"
	"github.com/parlo-app/parlo/pkg/live"
	"github.com/parlo-app/parlo/pkg/realtime"
)

type options struct {
	gateway  string
	apiKey   string
	scenario string
	lang     string
	user     string
	debug    bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = godotenv.Load()

	var opt options
	flag.StringVar(&opt.gateway, "gateway", "", "Realtime gateway URL (ws(s):// or http(s)://); required")
	flag.StringVar(&opt.apiKey, "api-key", strings.TrimSpace(os.Getenv("PARLO_API_KEY")), "Gateway API key (also reads PARLO_API_KEY)")
	flag.StringVar(&opt.scenario, "scenario", "cafe-ordering", "Scenario identifier")
	flag.StringVar(&opt.lang, "lang", "fr", "Target language code")
	flag.StringVar(&opt.user, "user", "demo", "Learner identifier for preferences lookup")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if opt.debug {
		logLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(logLevel).With().Timestamp().Logger()

	if opt.gateway == "" {
		logger.Error().Msg("--gateway is required")
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	store, cleanup, err := openCatalog(ctx, logger)
	if err != nil {
		logger.Error().Err(err).Msg("open catalog")
		return 1
	}
	defer cleanup()

	cfg, err := sessionConfig(ctx, store, opt)
	if err != nil {
		logger.Error().Err(err).Msg("build session config")
		return 1
	}

	dial := func(ctx context.Context) (realtime.Transport, error) {
		return realtime.Dial(ctx, opt.gateway, realtime.DialOptions{
			APIKey: opt.apiKey,
			Logger: logger,
		})
	}

	session := live.NewSession(cfg, dial, live.Options{Logger: logger})
	defer session.Close()

	go printEvents(session.Events())

	if err := session.Connect(ctx); err != nil {
		logger.Error().Err(err).Msg("connect")
		return 1
	}

	fmt.Println("Connected. Press <enter> to talk, <enter> again to stop, q to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	recording := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "q" {
			break
		}
		if recording {
			session.StopRecording()
			fmt.Println("[stopped]")
		} else {
			session.StartRecording()
			fmt.Println("[recording]")
		}
		recording = !recording
	}

	session.Disconnect()
	return 0
}

// openCatalog uses Postgres when DATABASE_URL is set and falls back to a
// seeded in-memory catalog otherwise.
func openCatalog(ctx context.Context, logger zerolog.Logger) (catalog.Store, func(), error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		logger.Debug().Msg("DATABASE_URL unset, using built-in catalog")
		return seedCatalog(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect catalog database: %w", err)
	}
	return catalog.NewPGStore(pool), pool.Close, nil
}

func seedCatalog() *catalog.MemoryStore {
	store := catalog.NewMemoryStore()
	store.PutLanguage(catalog.Language{Code: "fr", Name: "French", Script: "Latin"})
	store.PutLanguage(catalog.Language{Code: "es", Name: "Spanish", Script: "Latin"})
	store.PutScenario(catalog.Scenario{
		ID:           "cafe-ordering",
		LanguageCode: "fr",
		Title:        "Ordering at a café",
		Instructions: "You are a friendly café waiter in Paris. Speak French at a beginner level. Keep replies short, correct the learner gently, and stay in character.",
		Objectives:   []string{"Greet the waiter", "Order a drink", "Ask for the bill"},
	})
	store.PutScenario(catalog.Scenario{
		ID:           "market-haggling",
		LanguageCode: "es",
		Title:        "Haggling at a market",
		Instructions: "You are a market vendor in Oaxaca. Speak Spanish at a beginner level. Keep replies short and encourage the learner to negotiate.",
		Objectives:   []string{"Ask the price", "Make a counteroffer", "Close the deal"},
	})
	return store
}

func sessionConfig(ctx context.Context, store catalog.Store, opt options) (live.SessionConfig, error) {
	scenario, err := store.Scenario(ctx, opt.scenario)
	if err != nil {
		return live.SessionConfig{}, fmt.Errorf("scenario %q: %w", opt.scenario, err)
	}
	lang, err := store.Language(ctx, opt.lang)
	if err != nil {
		return live.SessionConfig{}, fmt.Errorf("language %q: %w", opt.lang, err)
	}
	prefs, err := store.Preferences(ctx, opt.user)
	if err != nil {
		// First-time learners have no stored preferences.
		prefs = catalog.Preferences{UserID: opt.user}
	}
	return live.ScenarioConfig(lang, scenario, prefs), nil
}

func printEvents(events <-chan live.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case *live.StateChangedEvent:
			fmt.Printf("-- %s\n", e.To)
		case *live.MessageFragmentEvent:
			if e.IsDelta {
				fmt.Print(e.Text)
			}
		case *live.TurnFinalizedEvent:
			fmt.Printf("\n[%s] %s\n", e.Turn.Role, e.Turn.Text)
			for _, w := range e.Turn.Timings {
				fmt.Printf("    %6d-%6dms  %s\n", w.StartMS, w.EndMS, w.Word)
			}
		case *live.ResponseRequestedEvent:
			fmt.Printf("[thinking... commit %d]\n", e.CommitSeq)
		case *live.ErrorEvent:
			fmt.Printf("[error %s] %s\n", e.Code, e.Message)
		}
	}
}
