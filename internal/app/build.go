package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mentora/tutorvoice/internal/config"
	"github.com/mentora/tutorvoice/internal/httpapi"
	"github.com/mentora/tutorvoice/internal/observability"
	"github.com/mentora/tutorvoice/internal/orchestrator"
	"github.com/mentora/tutorvoice/internal/records"
	"github.com/mentora/tutorvoice/internal/session"
	"github.com/mentora/tutorvoice/internal/speech"
	"github.com/mentora/tutorvoice/internal/tutor"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics

	// Detail names the wired backends for startup logging.
	Detail string

	// Cleanup should be called on shutdown to release external resources
	// (record store, snapshot store).
	Cleanup func() error
}

// Build wires the full service from configuration: completion client,
// speech provider, record store, snapshot store, session manager,
// orchestrator and HTTP API.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var client tutor.CompletionClient
	completionDetail := "mock completions"
	if strings.TrimSpace(cfg.CompletionURL) != "" {
		client = tutor.NewHTTPClient(cfg.CompletionURL, cfg.CompletionAPIKey, cfg.CompletionTimeout)
		completionDetail = "http completions at " + cfg.CompletionURL
	} else {
		client = tutor.NewMockClient("")
	}
	engine := tutor.NewEngine(client, tutor.Options{
		Model:       cfg.CompletionModel,
		MaxTokens:   cfg.CompletionMaxTokens,
		Temperature: cfg.CompletionTemperature,
	})

	provider, speechDetail, err := resolveSpeechProvider(cfg)
	if err != nil {
		return nil, err
	}

	recordStore, err := records.NewStore(ctx, cfg.SupabaseURL, cfg.SupabaseKey, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}

	snapshots := session.NewSnapshotStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SnapshotTTL)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	orch := orchestrator.New(sessions, engine, provider, recordStore, snapshots, metrics, orchestrator.Config{
		ConversationCap:    cfg.ConversationCap,
		SpeechRestartDelay: cfg.SpeechRestartDelay,
		VoiceLevelInterval: cfg.VoiceLevelInterval,
		LinkProbeInterval:  cfg.LinkProbeInterval,
	})

	api := httpapi.New(cfg, sessions, orch, engine, metrics)

	cleanup := func() error {
		var errs []string
		if err := snapshots.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := recordStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orch,
		Metrics:      metrics,
		Detail:       completionDetail + ", " + speechDetail,
		Cleanup:      cleanup,
	}, nil
}

func resolveSpeechProvider(cfg config.Config) (speech.Provider, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SpeechProvider)) {
	case "", "mock":
		return speech.NewMockProvider(), "mock speech provider", nil
	default:
		return nil, "", fmt.Errorf("unknown SPEECH_PROVIDER %q", cfg.SpeechProvider)
	}
}
