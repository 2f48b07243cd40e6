// Package app wires configuration, storage, audio capture, the processing
// pipeline and the HTTP API into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mbecker/potline/internal/capture"
	"github.com/mbecker/potline/internal/costs"
	"github.com/mbecker/potline/internal/eventlog"
	"github.com/mbecker/potline/internal/format"
	"github.com/mbecker/potline/internal/httpapi"
	"github.com/mbecker/potline/internal/notifications"
	"github.com/mbecker/potline/internal/pipeline"
	"github.com/mbecker/potline/internal/session"
	"github.com/mbecker/potline/internal/store"
	"github.com/mbecker/potline/internal/stt"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger
	discord  *notifications.Discord
	apns     *notifications.APNsClient

	bridge  *capture.Bridge // nil when capturing from a local device
	session *session.Controller
	queue   *pipeline.Queue
	sink    *pipeline.Sink
	feeds   *httpapi.FeedRegistry

	httpClient *http.Client // Shared HTTP client with connection pooling for the external calls
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	// Shared HTTP client with connection pooling. Keeps TCP connections alive
	// to reduce latency for repeated Deepgram/OpenAI calls.
	httpClient := &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // two hosts, one per external service
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	apns, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      store.New(db),
		eventLog:   eventlog.New(db),
		discord:    notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		apns:       apns,
		feeds:      httpapi.NewFeedRegistry(),
		httpClient: httpClient,
	}

	var device capture.Device
	switch cfg.CaptureSource {
	case "portaudio":
		device = capture.NewPortAudioDevice(cfg.SampleRate, 0, logger)
	case "bridge", "":
		a.bridge = capture.NewBridge(cfg.SampleRate, logger)
		device = a.bridge
	default:
		db.Close()
		return nil, fmt.Errorf("unknown CAPTURE_SOURCE %q", cfg.CaptureSource)
	}

	a.sink = pipeline.NewSink()
	a.queue = pipeline.New(pipeline.Config{
		STT: stt.NewDeepgramClient(stt.DeepgramConfig{
			Model:      cfg.STTModel,
			BaseURL:    cfg.STTBaseURL,
			HTTPClient: httpClient,
		}),
		Formatter: format.NewOpenAIClient(format.OpenAIConfig{
			Model:      cfg.FormatModel,
			BaseURL:    cfg.FormatBaseURL,
			HTTPClient: httpClient,
		}),
		Sink:         a.sink,
		Logger:       logger,
		CallTimeout:  cfg.PipelineCallTimeout,
		AfterPublish: a.afterPublish,
	})

	a.session = session.NewController(session.Config{
		Device:      device,
		Queue:       a.queue,
		Credentials: &serviceCredentials{store: a.store, fallback: cfg.ServiceAPIKey},
		SampleRate:  cfg.SampleRate,
		Channels:    1,
		Logger:      logger,
		Settings:    a.formatSettings,
		OnEvent:     a.onSessionEvent,
	})

	return a, nil
}

// Queue exposes the pipeline worker so main can run it.
func (a *App) Queue() *pipeline.Queue {
	return a.queue
}

// Feeds exposes the audio feed registry for graceful shutdown.
func (a *App) Feeds() *httpapi.FeedRegistry {
	return a.feeds
}

func (a *App) Router() http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		JWTSecret:   a.cfg.JWTSecret,
		JWTExpiry:   a.cfg.JWTExpiry,
		DefaultMode: session.Mode(a.cfg.DefaultMode),
	}, a.logger, httpapi.Deps{
		Store:   a.store,
		Discord: a.discord,
		APNs:    a.apns,
		Session: a.session,
		Queue:   a.queue,
		Sink:    a.sink,
		Bridge:  a.bridge,
		Feeds:   a.feeds,
	})
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}

// serviceCredentials resolves the capability token for the external calls.
// The database row wins so the token can be rotated without a redeploy; the
// env value is the bootstrap fallback.
type serviceCredentials struct {
	store    *store.Store
	fallback string
}

func (c *serviceCredentials) Token() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	token, err := c.store.GetServiceToken(ctx)
	if err == nil && token != "" {
		return token, nil
	}
	if c.fallback != "" {
		return c.fallback, nil
	}
	if err != nil {
		return "", err
	}
	return "", errors.New("no service credential configured")
}

// formatSettings snapshots the owner's game settings for one segment. A
// lookup failure degrades to defaults rather than blocking the enqueue.
func (a *App) formatSettings(owner string) format.Options {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gs, err := a.store.GetGameSettings(ctx, owner)
	if err != nil {
		a.logger.Printf("settings: using defaults for user %s: %v", owner, err)
		return format.Options{}
	}
	return format.Options{Context: gs.Context, Model: gs.Model}
}

func (a *App) onSessionEvent(owner, event string, fields map[string]any) {
	a.eventLog.LogAsync(owner, eventlog.EventType(event), fields)
}

// afterPublish runs on the pipeline worker goroutine after each result is
// appended to the sink, so hands land in the database in publish order.
func (a *App) afterPublish(res pipeline.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case res.Artifact != nil:
		a.publishArtifact(ctx, res.Artifact)
	case res.Failure != nil:
		a.publishFailure(ctx, res.Failure)
	}
}

func (a *App) publishArtifact(ctx context.Context, art *pipeline.Artifact) {
	audioSeconds := (art.SegmentEnd - art.SegmentStart).Seconds()
	hand := store.Hand{
		ID:             art.EntryID.String(),
		UserID:         art.Owner,
		Status:         "completed",
		Transcript:     &art.Transcript,
		Formatted:      &art.Formatted,
		SegmentStartMs: art.SegmentStart.Milliseconds(),
		SegmentEndMs:   art.SegmentEnd.Milliseconds(),
		AudioSeconds:   audioSeconds,
		CreatedAt:      art.CompletedAt,
	}
	if err := a.store.InsertHand(ctx, hand); err != nil {
		a.logger.Printf("store: failed to persist hand %s: %v", hand.ID, err)
	}

	a.eventLog.LogAsync(art.Owner, eventlog.EventTranscriptionCompleted, map[string]any{
		"entry_id": hand.ID,
		"chars":    len(art.Transcript),
	})
	a.eventLog.LogAsync(art.Owner, eventlog.EventFormattingCompleted, map[string]any{
		"entry_id": hand.ID,
		"chars":    len(art.Formatted),
	})

	// Token counts are estimated from character length; the external APIs
	// report exact usage but the pipeline does not surface it.
	c := costs.CalculateHandCosts(costs.HandMetrics{
		AudioSeconds:    audioSeconds,
		LLMInputTokens:  len(art.Transcript) / 4,
		LLMOutputTokens: len(art.Formatted) / 4,
	})
	a.logger.Printf("hand %s processed (%.1fs audio, ~%d cents)", hand.ID, audioSeconds, c.TotalCostCents)

	a.notifyHandReady(ctx, art)
}

func (a *App) notifyHandReady(ctx context.Context, art *pipeline.Artifact) {
	if a.apns == nil {
		return
	}
	tokens, err := a.store.GetUserPushTokens(ctx, art.Owner)
	if err != nil {
		a.logger.Printf("push: failed to load tokens for user %s: %v", art.Owner, err)
		return
	}

	preview := art.Formatted
	if i := strings.IndexByte(preview, '\n'); i >= 0 {
		preview = preview[:i]
	}
	notif := notifications.HandNotification{
		HandID:  art.EntryID.String(),
		Preview: preview,
	}
	for _, t := range tokens {
		if t.Platform != "ios" {
			continue
		}
		go func(deviceToken string) {
			_ = a.apns.SendHandNotification(deviceToken, notif)
		}(t.Token)
	}
}

func (a *App) publishFailure(ctx context.Context, f *pipeline.Failure) {
	stage := string(f.Stage)
	reason := f.Reason
	hand := store.Hand{
		ID:             f.EntryID.String(),
		UserID:         f.Owner,
		Status:         "failed",
		FailureStage:   &stage,
		FailureReason:  &reason,
		SegmentStartMs: f.SegmentStart.Milliseconds(),
		SegmentEndMs:   f.SegmentEnd.Milliseconds(),
		AudioSeconds:   (f.SegmentEnd - f.SegmentStart).Seconds(),
		CreatedAt:      f.FailedAt,
	}
	if err := a.store.InsertHand(ctx, hand); err != nil {
		a.logger.Printf("store: failed to persist failed hand %s: %v", hand.ID, err)
	}

	a.eventLog.LogAsync(f.Owner, eventlog.EventProcessingFailed, map[string]any{
		"entry_id": hand.ID,
		"stage":    stage,
		"reason":   reason,
	})

	a.discord.NotifyProcessingFailure(context.WithoutCancel(ctx), hand.ID, stage, reason)
	if reason == "invalid_credential" {
		// Every later segment fails the same way until the token is rotated.
		a.discord.NotifyCredentialFailure(context.WithoutCancel(ctx), stage)
	}

	if a.apns == nil {
		return
	}
	tokens, err := a.store.GetUserPushTokens(ctx, f.Owner)
	if err != nil {
		a.logger.Printf("push: failed to load tokens for user %s: %v", f.Owner, err)
		return
	}
	for _, t := range tokens {
		if t.Platform != "ios" {
			continue
		}
		go func(deviceToken string) {
			_ = a.apns.SendProcessingFailureNotification(deviceToken, hand.ID, reason)
		}(t.Token)
	}
}
