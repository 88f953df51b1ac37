package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/arcframe/reelforge/internal/config"
	"github.com/arcframe/reelforge/internal/executor"
	"github.com/arcframe/reelforge/internal/ffmpeg"
	"github.com/arcframe/reelforge/internal/httpapi"
	"github.com/arcframe/reelforge/internal/orchestrator"
	"github.com/arcframe/reelforge/internal/planner"
	"github.com/arcframe/reelforge/internal/providers"
	"github.com/arcframe/reelforge/internal/stages"
	"github.com/arcframe/reelforge/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	artifacts, err := store.NewArtifactStore(cfg.ProjectsDir, cfg.BadgerDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("open artifact store")
	}
	defer artifacts.Close()
	states := store.NewStateStore(cfg.ProjectsDir)

	critiques, err := store.NewCritiqueCache(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect critique cache")
	}

	registry := prometheus.NewRegistry()
	metrics := providers.NewMetrics(registry)

	llm := providers.NewOpenAILLM(cfg.OpenAIKey, "gpt-4o", metrics)
	plan := planner.New(llm)

	image := providers.NewGeminiImage(cfg.GeminiKey, metrics)
	critic := providers.NewOpenAICritic(cfg.OpenAIKey, "gpt-4o", metrics)

	var tts providers.TTS
	if cfg.ElevenLabsKey != "" {
		tts = providers.NewElevenLabsTTS(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, metrics)
		logger.Info().Str("voice_id", cfg.ElevenLabsVoiceID).Msg("TTS provider: ElevenLabs")
	} else {
		tts = providers.NewCartesiaTTS(cfg.CartesiaKey, cfg.CartesiaURL, cfg.CartesiaVoiceID, metrics)
		logger.Info().Str("voice_id", cfg.CartesiaVoiceID).Msg("TTS provider: Cartesia")
	}
	sfxMusic := providers.NewElevenLabsSFX(cfg.ElevenLabsKey, metrics)

	var motionProviders []providers.Motion
	if cfg.XAIEnabled && cfg.XAIAPIKey != "" {
		motionProviders = append(motionProviders, providers.NewRESTMotion("primary", "https://api.x.ai/v1", cfg.XAIAPIKey, "grok-imagine-video", metrics))
	}
	if cfg.VeoEnabled {
		motionProviders = append(motionProviders, providers.NewVeoMotion(cfg.GeminiKey, cfg.VeoModel))
	}

	ffmpegSvc, err := ffmpeg.NewService(os.TempDir())
	if err != nil {
		logger.Fatal().Err(err).Msg("init ffmpeg service")
	}

	imageStage := &stages.ImageStage{
		Image:       image,
		Critic:      critic,
		Artifacts:   artifacts,
		Critiques:   critiques,
		Pool:        executor.New(cfg.ImageConcurrency),
		RetryBudget: cfg.ImageRetryBudget,
	}
	audioStage := &stages.AudioStage{
		TTS:            tts,
		SFX:            sfxMusic,
		Artifacts:      artifacts,
		Pool:           executor.New(cfg.AudioConcurrency),
		DefaultVoiceID: cfg.ElevenLabsVoiceID,
	}
	motionStage := &stages.MotionStage{
		Providers: motionProviders,
		Artifacts: artifacts,
		Pool:      executor.New(cfg.MotionConcurrency),
		Backoff:   executor.DefaultBackoff,
	}
	composer := &stages.Composer{
		FFmpeg:    ffmpegSvc,
		Artifacts: artifacts,
		TempDir:   os.TempDir(),
	}

	supervisor := suture.NewSimple("reelforge-dispatch")
	dispatch := &orchestrator.SutureDispatcher{Supervisor: supervisor}

	orch := orchestrator.New(states, artifacts, plan, imageStage, audioStage, motionStage, composer, dispatch, logger)

	handler := httpapi.NewHandler(orch, artifacts)
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	if cfg.BackendAPIKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Warn().Msg("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	supervisorCtx, stopSupervisor := context.WithCancel(context.Background())
	go func() {
		if err := supervisor.Serve(supervisorCtx); err != nil {
			logger.Error().Err(err).Msg("dispatch supervisor exited")
		}
	}()

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	stopSupervisor()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exited")
}
