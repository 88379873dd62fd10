package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/ai"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/channel"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/dlqworker"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/healthcheck"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/keylock"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/locale"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/presence"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/usecase"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting conversation router",
		zap.String("environment", cfg.Environment),
		zap.String("company_id", cfg.Company.ID),
		zap.String("nats_url", cfg.NATS.URL),
	)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	companyCtx := logger.WithLogger(tenant.WithCompanyID(mainCtx, cfg.Company.ID), logger.Log)

	repo, err := initPostgresRepo(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	jsClient, err := jetstream.NewClient(mainCtx, cfg.NATS.URL, cfg.NATS.ConnectTimeout)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	clock := scheduler.RealClock{}
	notifier := realtime.NewNATSNotifier(jsClient, cfg.NATS.RealtimePrefix)

	transport, closeTransports := initTransports(companyCtx, cfg, jsClient, clock)

	catalog, err := locale.NewCatalog(cfg.Chatbot.DefaultLanguage)
	if err != nil {
		logger.Log.Fatal("Failed to load message catalog", zap.Error(err))
	}

	var completer ai.Completer = ai.Disabled{}
	if client, err := ai.NewClient(cfg.AI, &http.Client{Timeout: cfg.Chatbot.AITimeout}); err != nil {
		logger.Log.Warn("AI completions disabled", zap.Error(err))
	} else {
		completer = client
	}

	hours, err := usecase.NewBusinessHours(cfg.Routing.BusinessHours)
	if err != nil {
		logger.Log.Fatal("Invalid business hours", zap.Error(err))
	}

	tracker := presence.NewTracker(cfg.Presence.Shards)
	resolver := usecase.NewContactResolver(repo)
	conversations := usecase.NewConversationService(repo, notifier)
	chatbot := usecase.NewChatbotPipeline(repo, completer, transport, notifier, catalog, cfg.Chatbot, clock)
	routing := usecase.NewRoutingEngine(keylock.New(), cfg.Routing.LockTimeout, repo, repo, repo, conversations, tracker, chatbot, hours, clock)
	messages := usecase.NewMessageProcessor(resolver, conversations, repo, routing, notifier)
	sessions := usecase.NewSessionService(repo, repo, repo, repo, conversations, tracker, transport, notifier, clock)

	dispatcher, err := usecase.NewCampaignDispatcher(cfg.Campaign, repo, repo, repo, resolver, conversations, transport, notifier, clock, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize campaign dispatcher", zap.Error(err))
	}
	sweeper := usecase.NewCampaignSweeper(dispatcher, repo, clock, cfg.Campaign.SweepInterval)

	service := usecase.NewEventService(messages, sessions, conversations, dispatcher, repo)

	processor := usecase.NewProcessor(service, jsClient, cfg, cfg.Company.ID)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	dlqWorker, err := dlqworker.NewWorker(cfg, logger.Log, jsClient, processor.GetRouter(), repo, cfg.Company.ID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ worker", zap.Error(err))
	}

	healthServer := healthcheck.NewServer(cfg.Server.Port, logger.Log)
	healthServer.AddReadinessCheck("postgres", repo.Ping)
	healthServer.AddReadinessCheck("nats", func(context.Context) error {
		if nc := jsClient.NatsConn(); nc == nil || !nc.IsConnected() {
			return errors.New("nats not connected")
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
	}
	healthServer.Start()

	if n, err := dispatcher.Resume(companyCtx); err != nil {
		logger.Log.Error("Failed to resume sending campaigns", zap.Error(err))
	} else if n > 0 {
		logger.Log.Info("Resumed sending campaigns", zap.Int("count", n))
	}

	var bgWg sync.WaitGroup
	bgWg.Add(1)
	utils.SafeGo(func() {
		defer bgWg.Done()
		sweeper.Run(companyCtx)
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[panic] campaign sweeper stopped", zap.Any("panic", r), zap.ByteString("stack", stack))
		bgWg.Done()
	})

	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ worker failed, initiating shutdown", zap.Error(err))
			select {
			case sigChan <- syscall.SIGTERM:
			default:
			}
		}
	}()

	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	var wg sync.WaitGroup
	stop := func(name string, fn func()) {
		wg.Add(1)
		utils.SafeGo(func() {
			defer wg.Done()
			start := time.Now()
			logger.Log.Info("[shutdown] Stopping " + name)
			fn()
			logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
		}, func(r interface{}, stack []byte) {
			logger.Log.Error("[shutdown] Panic while stopping "+name, zap.Any("panic", r), zap.ByteString("stack", stack))
			wg.Done()
		})
	}

	stop("event processor", func() {
		processor.Stop()
		sessions.DropSessions()
	})
	stop("DLQ worker", dlqWorker.Stop)
	stop("campaign dispatcher", func() {
		dispatcher.Stop()
		bgWg.Wait()
	})
	stop("health check server", func() {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		}
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	closeTransports()
	if err := repo.Close(shutdownCtx); err != nil {
		logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
	}
	jsClient.Close()

	logger.Log.Info("Conversation router shutdown complete")
}

func initPostgresRepo(cfg *config.Config) (*storage.PostgresRepo, error) {
	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Company.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}
	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initTransports binds every channel to a transport. Channels without an
// in-process client are published to their NATS gateway. All sends share
// one rate limiter keyed by channel and account.
func initTransports(ctx context.Context, cfg *config.Config, pub channel.Publisher, clock scheduler.Clock) (channel.Transport, func()) {
	gateway := channel.NewNATSTransport(pub, cfg.NATS.OutboundPrefix)
	registry := channel.NewRegistry()
	for _, ch := range []model.Channel{
		model.ChannelWhatsApp,
		model.ChannelInstagram,
		model.ChannelTelegram,
		model.ChannelFacebook,
		model.ChannelSMS,
		model.ChannelEmail,
		model.ChannelWebChat,
	} {
		registry.Register(ch, gateway)
	}

	closeFn := func() {}
	if cfg.WhatsApp.Enabled {
		wa, err := channel.OpenWhatsApp(ctx, cfg.WhatsApp, logger.Log)
		if err != nil {
			logger.Log.Error("WhatsApp transport unavailable, using NATS gateway", zap.Error(err))
		} else {
			registry.Register(model.ChannelWhatsApp, wa)
			closeFn = wa.Close
		}
	}
	if cfg.Twilio.Enabled {
		registry.Register(model.ChannelSMS, channel.NewSMSTransport(channel.NewTwilioClient(cfg.Twilio), cfg.Twilio))
		logger.Log.Info("Twilio SMS transport enabled")
	}

	return channel.NewRateLimited(registry, cfg.RateLimit, clock), closeFn
}
