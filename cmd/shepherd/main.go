package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eleni-ai/shepherd/internal/config"
	"github.com/eleni-ai/shepherd/internal/convo"
	"github.com/eleni-ai/shepherd/internal/endpointing"
	"github.com/eleni-ai/shepherd/internal/gateway"
	"github.com/eleni-ai/shepherd/internal/httpapi"
	"github.com/eleni-ai/shepherd/internal/observability"
	"github.com/eleni-ai/shepherd/internal/realtime"
	"github.com/eleni-ai/shepherd/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := convo.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer store.Close()

	switch {
	case strings.TrimSpace(cfg.RedisAddr) != "":
		log.Printf("session store: redis at %s", cfg.RedisAddr)
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		log.Printf("session store: postgres")
	default:
		log.Printf("session store: in-memory (single instance only)")
	}

	// Each provider gateway falls back to a deterministic mock when no base
	// URL is configured, so the server always comes up.
	var stt gateway.Transcriber
	if cfg.STTBaseURL != "" {
		stt = gateway.NewHTTPTranscriber(cfg.STTBaseURL, cfg.STTAPIKey, cfg.STTTimeout)
		log.Printf("transcription gateway: %s", cfg.STTBaseURL)
	} else {
		stt = gateway.NewMockTranscriber()
		log.Printf("transcription gateway: mock")
	}

	var tts gateway.Synthesizer
	if cfg.TTSBaseURL != "" {
		tts = gateway.NewHTTPSynthesizer(cfg.TTSBaseURL, cfg.TTSAPIKey, cfg.TTSTimeout)
		log.Printf("synthesis gateway: %s", cfg.TTSBaseURL)
	} else {
		tts = gateway.NewMockSynthesizer()
		log.Printf("synthesis gateway: mock")
	}

	var llm gateway.Completer
	if cfg.LLMBaseURL != "" {
		llm = gateway.NewHTTPCompleter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
		log.Printf("completion gateway: %s (%s)", cfg.LLMBaseURL, cfg.LLMModel)
	} else {
		llm = gateway.NewMockCompleter()
		log.Printf("completion gateway: mock")
	}

	visionClient := vision.NewClient(cfg.VisionBaseURL, cfg.VisionTimeout)

	buffers := endpointing.NewManager(endpointing.Config{
		SilenceThreshold:  cfg.SilenceThreshold,
		MinUtteranceBytes: cfg.MinUtteranceBytes,
		VADEnergy:         cfg.VADEnergy,
		TapWindow:         cfg.TapToListenWindow,
	}, stt, metrics)

	conversations := convo.NewService(store, llm, metrics)
	orchestrator := realtime.NewOrchestrator(conversations, buffers, tts, metrics, cfg.TTSVoice)

	api := httpapi.New(cfg, conversations, buffers, stt, tts, llm, visionClient, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	buffers.StartJanitor(runCtx, 30*time.Second, cfg.BufferIdleTimeout)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
