// Package app wires Hana together: store, interaction state, inference
// guard, prompt assembly, the reply engine, maintenance jobs and the Matrix
// transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bdobrica/Hana/common/retry"
	"github.com/bdobrica/Hana/common/trace"
	"github.com/bdobrica/Hana/common/version"
	"github.com/bdobrica/Hana/internal/hana/config"
	"github.com/bdobrica/Hana/internal/hana/conversation"
	"github.com/bdobrica/Hana/internal/hana/jobs"
	"github.com/bdobrica/Hana/internal/hana/matrix"
	"github.com/bdobrica/Hana/internal/hana/memory"
	"github.com/bdobrica/Hana/internal/hana/nlp"
	"github.com/bdobrica/Hana/internal/hana/report"
	"github.com/bdobrica/Hana/internal/hana/state"
	"github.com/bdobrica/Hana/internal/hana/store"
)

const (
	weatherTTL    = 30 * time.Minute
	typingTimeout = 30 * time.Second
)

// responder produces replies for inbound messages.
type responder interface {
	Respond(ctx context.Context, in conversation.Inbound) conversation.Reply
}

// chat is the outbound half of the transport.
type chat interface {
	SendText(ctx context.Context, roomID, message string) error
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
}

// App is a running Hana deployment.
type App struct {
	config   *config.Config
	logger   *slog.Logger
	reporter report.Reporter

	store     *store.Store
	machine   *state.Machine
	cache     *nlp.ResponseCache
	engine    responder
	scheduler *jobs.Scheduler
	matrix    *matrix.Client
	chat      chat
	health    *HealthServer
	registry  *prometheus.Registry

	retry retry.Config
	now   func() time.Time
}

// New builds every component from cfg. A store that cannot be opened is
// fatal; the caller is expected to exit.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		config: cfg,
		logger: logger,
		retry:  retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Logger: logger},
		now:    time.Now,
	}
	a.reporter = report.New(cfg.SentryDSN, cfg.Environment, version.Version, logger)

	s, err := store.New(cfg.DatabasePath, store.Options{
		HistoryCacheTTL: cfg.HistoryCacheTTL,
		DeleteBatchSize: cfg.DeleteBatchSize,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	a.store = s

	if err := a.initState(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := nlp.NewMetrics(a.registry)

	a.cache, err = nlp.NewResponseCache(cfg.CacheSize, metrics)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: response cache: %w", err)
	}
	limiter := nlp.NewRateLimiter(cfg.RateLimit, cfg.RateWindow).WithMetrics(metrics)

	provider, err := nlp.NewGemini(ctx, nlp.GeminiConfig{
		APIKey:          cfg.Gemini.APIKey,
		Model:           cfg.Gemini.Model,
		Temperature:     float32(cfg.Gemini.Temperature),
		MaxOutputTokens: int32(cfg.Gemini.MaxOutputTokens),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	ambient := []memory.AmbientSource{memory.ClockSource{Location: cfg.Location}}
	if cfg.WeatherURL != "" {
		ambient = append(ambient, memory.NewWeatherSource(cfg.WeatherURL, cfg.Latitude, cfg.Longitude, weatherTTL, logger))
	}
	assembler := &memory.Assembler{
		History:       s,
		Ambient:       ambient,
		Persona:       cfg.Persona,
		HistoryWindow: cfg.HistoryWindow,
		FactLimit:     cfg.FactLimit,
		Logger:        logger,
	}

	opts := conversation.Options{
		State:            a.machine,
		History:          s,
		Limiter:          limiter,
		Cache:            a.cache,
		Provider:         provider,
		Assembler:        assembler,
		Persona:          cfg.Persona,
		Sleep:            memory.SleepWindow{StartHour: cfg.SleepStartHour, EndHour: cfg.SleepEndHour, Location: cfg.Location},
		Vision:           cfg.Features.Vision,
		MaxMessageRunes:  cfg.MaxMessageRunes,
		InferenceTimeout: cfg.Gemini.Timeout,
		MoodDuration:     cfg.MoodDuration,
		Metrics:          metrics,
		Reporter:         a.reporter,
		Logger:           logger,
	}
	if cfg.Features.LongTermMemory {
		assembler.Facts = s
		opts.Facts = s
		opts.Extractor = memory.KeywordExtractor{}
	}
	a.engine = conversation.New(opts)

	a.matrix, err = matrix.New(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		OwnerRoom:   cfg.Matrix.OwnerRoom,
		OwnerUserID: cfg.Matrix.OwnerUserID,
		DB:          s.DB(),
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: matrix client: %w", err)
	}
	a.chat = a.matrix

	if err := a.initJobs(); err != nil {
		a.close()
		return nil, err
	}

	if cfg.HTTPAddr != "" {
		a.health = NewHealthServer(cfg.HTTPAddr, a, a.registry, logger)
	}
	return a, nil
}

// initState restores the persisted snapshot or, on first run, applies the
// configured personality.
func (a *App) initState(ctx context.Context) error {
	cfg := a.config
	persister := &state.PreferencePersister{Store: a.store, NotFound: store.ErrNotFound}
	a.machine = state.New(state.Config{
		Features: state.Features{
			Sulk:         cfg.Features.Sulk,
			Romance:      cfg.Features.Romance,
			Relationship: cfg.Features.Relationship,
		},
		Location:          cfg.Location,
		SulkEnterDays:     cfg.SulkEnterDays,
		SulkExitDays:      cfg.SulkExitDays,
		SulkMinDailyChats: cfg.SulkMinDailyChats,
		MoodDuration:      cfg.MoodDuration,
		Logger:            a.logger,
	}, persister)

	snap, found, err := persister.LoadSnapshot(ctx)
	if err != nil {
		// A corrupt snapshot costs the counters, not the deployment.
		a.logger.Warn("app: discarding unreadable state snapshot", "err", err)
		a.reporter.ReportException(ctx, err, map[string]any{"stage": "load_snapshot"})
	}
	if found {
		a.machine.Restore(ctx, snap)
		a.logger.Info("app: restored interaction state", "mood", snap.Mood, "sulking", snap.Sulking)
		return nil
	}

	p, err := state.ParsePersonality(cfg.Personality)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := a.machine.SetPersonality(ctx, p); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.machine.ApplyFeatures(ctx)
	return nil
}

func (a *App) initJobs() error {
	cfg := a.config
	sched, err := jobs.NewScheduler(cfg.Location, a.reporter, a.logger)
	if err != nil {
		return fmt.Errorf("app: scheduler: %w", err)
	}
	notifier := &RoomNotifier{
		Sender:  a.matrix,
		RoomID:  cfg.Matrix.OwnerRoom,
		Persona: cfg.Persona,
		Retry:   a.retry,
		Logger:  a.logger,
	}
	persister := &state.PreferencePersister{Store: a.store, NotFound: store.ErrNotFound}

	for _, j := range []struct {
		name, expr string
		job        jobs.Job
	}{
		{jobs.NameSulk, cfg.Schedules.Sulk, jobs.SulkJob(a.machine, notifier, a.now, a.logger)},
		{jobs.NameHistoryTrim, cfg.Schedules.HistoryTrim, jobs.HistoryTrimJob(a.store, cfg.MaxHistory, cfg.HistorySlack, a.logger)},
		{jobs.NameLTMCleanup, cfg.Schedules.LTMCleanup, jobs.LTMCleanupJob(a.store, cfg.Retention.Policy(), a.now, a.logger)},
		{jobs.NameCompaction, cfg.Schedules.Compaction, jobs.CompactionJob(a.machine, persister, a.store, a.logger)},
	} {
		if err := sched.Register(j.name, j.expr, j.job); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	a.scheduler = sched
	return nil
}

// Run starts the background parts and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	a.scheduler.Start()
	// Catch up on sulk and romance transitions missed while offline.
	if err := a.scheduler.RunNow(ctx, jobs.NameSulk); err != nil {
		a.logger.Warn("app: initial sulk evaluation failed", "err", err)
	}

	a.logger.Info("starting Matrix sync", "room", a.config.Matrix.OwnerRoom)
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("app: start matrix: %w", err)
	}

	a.logger.Info("hana is running", "version", version.Version)
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Stop releases everything New and Run acquired. It persists a final state
// snapshot before closing the store.
func (a *App) Stop() {
	if a.matrix != nil {
		a.logger.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Warn("app: scheduler shutdown", "err", err)
		}
	}
	if a.health != nil {
		a.health.Stop()
	}
	if a.machine != nil && a.store != nil {
		persister := &state.PreferencePersister{Store: a.store, NotFound: store.ErrNotFound}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := persister.SaveSnapshot(ctx, a.machine.Snapshot()); err != nil {
			a.logger.Warn("app: final snapshot", "err", err)
		}
		cancel()
	}
	a.close()
}

func (a *App) close() {
	if a.machine != nil {
		a.machine.Close()
	}
	if a.store != nil {
		a.logger.Info("closing database")
		if err := a.store.Close(); err != nil {
			a.logger.Warn("app: close store", "err", err)
		}
	}
}

// Reporter exposes the error reporter so main can flush it on exit.
func (a *App) Reporter() report.Reporter { return a.reporter }

// handleMessage answers one owner message. Typing notifications are best
// effort; a reply that cannot be delivered is reported.
func (a *App) handleMessage(ctx context.Context, msg matrix.Message) {
	ctx, traceID := trace.Ensure(ctx)
	logger := a.logger.With("trace_id", traceID, "event_id", msg.EventID)

	if err := a.chat.SetTyping(ctx, msg.RoomID, true, typingTimeout); err != nil {
		logger.Debug("app: typing on", "err", err)
	}
	reply := a.engine.Respond(ctx, conversation.Inbound{
		RequesterID: msg.Sender,
		Text:        msg.Text,
		Image:       msg.Image,
	})
	if err := a.chat.SetTyping(ctx, msg.RoomID, false, 0); err != nil {
		logger.Debug("app: typing off", "err", err)
	}
	if reply.Text == "" {
		return
	}

	err := retry.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.chat.SendText(ctx, msg.RoomID, reply.Text)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("app: reply not delivered", "err", err, "outcome", reply.Outcome)
		a.reporter.ReportException(ctx, err, map[string]any{"stage": "send_reply", "outcome": string(reply.Outcome)})
		return
	}
	logger.Info("replied", "outcome", reply.Outcome)
}

// Status implements statusProvider for GET /status.
func (a *App) Status(ctx context.Context) RuntimeStatus {
	v := a.machine.View(a.now())
	rs := RuntimeStatus{
		Mood:        v.Mood.Key,
		MoodLabel:   v.Mood.String(),
		Personality: v.Personality.Key(),
		Sulking:     v.Sulking,
		DeepTalk:    v.DeepTalk,
		Romance:     v.Romance,
		TodayCount:  v.TodayCount,
		Jobs:        []jobs.Status{},
	}
	if v.RelationshipEnabled {
		score := v.Relationship
		rs.Relationship = &score
		rs.RelationshipLevel = v.RelationshipLevel()
	}
	if !v.LastInteraction.IsZero() {
		last := v.LastInteraction
		rs.LastInteraction = &last
	}
	if a.cache != nil {
		rs.CacheSize = a.cache.Len()
	}
	if a.store != nil {
		if st, err := a.store.Stats(ctx); err != nil {
			a.logger.Warn("app: store stats", "err", err)
		} else {
			rs.Store = &st
		}
	}
	if a.scheduler != nil {
		rs.Jobs = a.scheduler.Status()
	}
	return rs
}
