package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/audio"
	"github.com/agentplexus/voicebridge/booking"
	"github.com/agentplexus/voicebridge/config"
	"github.com/agentplexus/voicebridge/convo"
	"github.com/agentplexus/voicebridge/dialogue"
	"github.com/agentplexus/voicebridge/internal/client"
	"github.com/agentplexus/voicebridge/internal/logger"
	"github.com/agentplexus/voicebridge/metrics"
	"github.com/agentplexus/voicebridge/orchestrator"
	"github.com/agentplexus/voicebridge/session"
	"github.com/agentplexus/voicebridge/stt"
	"github.com/agentplexus/voicebridge/tts"
	"github.com/agentplexus/voicebridge/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	m := metrics.New(prometheus.DefaultRegisterer)

	codec := audio.New(
		audio.WithLogger(zlog),
		audio.WithObserver(func(d time.Duration) {
			m.TranscodeTime.Observe(d.Seconds())
		}),
	)

	store := booking.NewStore(
		booking.WithSeatCeiling(cfg.SeatCeiling),
		booking.WithLogger(zlog),
		booking.WithOutcomeObserver(func(outcome string) {
			m.BookingsTotal.WithLabelValues(outcome).Inc()
		}),
	)
	engine := dialogue.NewEngine(store,
		dialogue.WithRestaurantName(cfg.RestaurantName),
		dialogue.WithLogger(zlog),
	)

	// Calls go to the embedded engine unless a remote conversation
	// service is configured.
	var respond dialogue.Responder = engine
	if cfg.ConversationURL != "" {
		respond = convo.NewClient(cfg.ConversationURL, convo.WithLogger(zlog))
		zlog.Info("using remote conversation service", zap.String("url", cfg.ConversationURL))
	}

	registry := session.NewRegistry()

	orchOpts := []orchestrator.Option{
		orchestrator.WithCodec(codec),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(zlog),
		orchestrator.WithGreeting("Thank you for calling " + cfg.RestaurantName + "! How can I help you today?"),
		orchestrator.WithDebounceWindow(cfg.DebounceWindow),
		orchestrator.WithIdleTimeout(cfg.IdleTimeout),
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilio, err := client.New(&client.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		})
		if err != nil {
			zlog.Fatal("twilio client", zap.Error(err))
		}
		orchOpts = append(orchOpts, orchestrator.WithHangup(func(ctx context.Context, callSID string) error {
			_, err := twilio.HangupCall(ctx, callSID)
			return err
		}))
	} else {
		zlog.Warn("no Twilio credentials, idle calls are closed without REST hangup")
	}

	orch := orchestrator.New(
		registry,
		orchestrator.NewSTTDialer(stt.NewClient(cfg.STTURL, stt.WithLogger(zlog))),
		tts.NewClient(cfg.TTSURL, tts.WithVoice(cfg.Voice), tts.WithLogger(zlog)),
		respond,
		orchOpts...,
	)

	server := webhook.New(orch, respond, store, registry, cfg.PublicURL, webhook.WithLogger(zlog))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}

	go func() {
		zlog.Info("listening",
			zap.String("port", cfg.Port),
			zap.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("shutdown", zap.Error(err))
	}
}
