package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwoot-formbricks-sync/config"
	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/adapters/formbricks"
	"chatwoot-formbricks-sync/internal/archive"
	"chatwoot-formbricks-sync/internal/db"
	"chatwoot-formbricks-sync/internal/handlers"
	"chatwoot-formbricks-sync/internal/jobs"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/notify"
	"chatwoot-formbricks-sync/internal/services"
	"chatwoot-formbricks-sync/internal/store"
	"chatwoot-formbricks-sync/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	vendorTimeout   = 30 * time.Second
	inboxCacheTTL   = time.Hour
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	log.Info().Str("driver", cfg.DatabaseDriver).Msg("Initializing database...")
	database, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := database.Migrate(models.All()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	st := store.New(database)

	connections := map[string]handlers.ConnectionTester{
		"database": func(ctx context.Context) error { return database.SQL.PingContext(ctx) },
	}

	var cwClient *chatwoot.Client
	var cwAPI services.ChatwootAPI
	if cfg.Chatwoot.Enabled {
		cwClient, err = chatwoot.NewClient(cfg.Chatwoot.BaseURL, cfg.Chatwoot.AccessToken, cfg.Chatwoot.AccountID, cfg.Chatwoot.InboxID, vendorTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Chatwoot client")
		}
		cwAPI = cwClient
		connections["chatwoot"] = func(ctx context.Context) error {
			_, err := cwClient.TestConnection(ctx)
			return err
		}
	}

	var fbClient *formbricks.Client
	if cfg.Formbricks.Enabled {
		fbClient, err = formbricks.NewClient(cfg.Formbricks.BaseURL, cfg.Formbricks.APIKey, cfg.Formbricks.EnvironmentID, vendorTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Formbricks client")
		}
		connections["formbricks"] = fbClient.TestConnection
	}

	var publisher services.Publisher = notify.NoopPublisher{}
	var rabbit *notify.RabbitPublisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err = notify.NewRabbitPublisher(cfg.RabbitMQ)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ unavailable, outcomes will not be published")
		} else {
			publisher = rabbit
		}
	}

	var archiver jobs.Archiver
	if cfg.S3.Bucket != "" {
		s3Archiver, err := archive.NewS3Archiver(cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 archiver")
		}
		archiver = s3Archiver
		connections["s3"] = s3Archiver.TestConnection
	}

	customerDefaults := store.CustomerDefaults{CustomerGroup: cfg.Chatwoot.CustomerGroup}

	contactService, err := services.NewContactSyncService(st, services.ContactOptions{
		AutoCreateLead:     cfg.Chatwoot.AutoCreateLead,
		AutoCreateCustomer: cfg.Chatwoot.AutoCreateCustomer,
		Customer:           customerDefaults,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ContactSyncService")
	}
	inboxes := services.NewInboxDirectory(cwAPI, inboxCacheTTL)
	conversationService, err := services.NewConversationSyncService(st, contactService, inboxes, cwAPI, services.ConversationOptions{
		SyncAsIssues: cfg.Chatwoot.SyncConversationsAsIssues,
		IssueType:    cfg.Chatwoot.IssueType,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ConversationSyncService")
	}
	messageService, err := services.NewMessageSyncService(st, conversationService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MessageSyncService")
	}
	responseService, err := services.NewResponseSyncService(st, contactService, services.ResponseOptions{
		AutoCreateLead: cfg.Formbricks.AutoCreateLead,
		LeadSurveyIDs:  cfg.Formbricks.LeadSurveyIDs,
		LeadSource:     cfg.Formbricks.LeadSource,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ResponseSyncService")
	}
	reconciler, err := services.NewReconciler(contactService, conversationService, messageService, responseService, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Reconciler")
	}
	surveyService := services.NewSurveySyncService(st)
	outboundService := services.NewOutboundService(st, cwAPI)
	conversionService := services.NewLeadConversionService(st, customerDefaults, publisher)
	log.Info().Msg("Services initialized successfully")

	// Jobs
	var registered []jobs.Job
	if cwClient != nil {
		registered = append(registered, jobs.NewContactPoller(cwClient, reconciler, st))
	}
	if fbClient != nil {
		registered = append(registered, jobs.NewSurveyPoller(fbClient, surveyService, reconciler, st))
	}
	registered = append(registered, jobs.NewRetentionJob(st, archiver, cfg.Chatwoot.RetentionDays))
	tracker := jobs.NewTracker(registered...)

	var scheduler *jobs.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = jobs.NewScheduler(tracker)
		for _, job := range registered {
			schedule := cfg.SyncSchedule
			if job.Name() == jobs.JobRetention {
				schedule = cfg.RetentionSchedule
			}
			if err := scheduler.Schedule(job.Name(), schedule); err != nil {
				log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to schedule job")
			}
		}
		scheduler.Start()
	}

	// Routes
	base := handlers.BaseChain(log.Logger)
	r := mux.NewRouter()
	r.Handle(cfg.Chatwoot.WebhookPath, base.Then(handlers.NewChatwootWebhookHandler(reconciler, cfg.Chatwoot.Enabled, cfg.Chatwoot.WebhookSecret))).Methods(http.MethodPost)
	r.Handle(cfg.Formbricks.WebhookPath, base.Then(handlers.NewFormbricksWebhookHandler(reconciler, cfg.Formbricks.Enabled, cfg.Formbricks.WebhookSecret))).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	if cfg.AdminToken != "" {
		admin := handlers.NewAdminHandler(st, outboundService, conversionService, tracker, connections)
		admin.Register(r, base.Append(handlers.RequireToken(cfg.AdminToken)))
		log.Info().Msg("Admin API enabled")
	} else {
		log.Warn().Msg("ADMIN_TOKEN is not set, admin API disabled")
	}

	if cfg.RegisterWebhooks {
		registerWebhooks(cfg, cwClient, fbClient)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("port", cfg.Port).Msgf("Server starting on port %s...", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if rabbit != nil {
		if err := rabbit.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ publisher")
		}
	}
	if err := database.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
	log.Info().Msg("Shutdown complete")
}

// registerWebhooks makes sure both vendors deliver events to this service. Failures are logged and
// do not stop startup.
func registerWebhooks(cfg *config.Config, cw *chatwoot.Client, fb *formbricks.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), vendorTimeout)
	defer cancel()

	if cw != nil {
		if _, err := services.EnsureChatwootWebhook(ctx, cw, cfg.PublicURL+cfg.Chatwoot.WebhookPath); err != nil {
			log.Error().Err(err).Msg("Chatwoot webhook registration failed")
		}
	}
	if fb != nil {
		if _, err := services.EnsureFormbricksWebhook(ctx, fb, cfg.PublicURL+cfg.Formbricks.WebhookPath, nil); err != nil {
			log.Error().Err(err).Msg("Formbricks webhook registration failed")
		}
	}
}
