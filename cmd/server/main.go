package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"smartlead/internal/adapters"
	"smartlead/internal/config"
	"smartlead/internal/crypto"
	"smartlead/internal/database"
	"smartlead/internal/handlers"
	"smartlead/internal/health"
	"smartlead/internal/jobs"
	"smartlead/internal/logging"
	"smartlead/internal/middleware"
	"smartlead/internal/services"
	"smartlead/internal/store"
	"smartlead/pkg/auth"
)

func main() {
	logging.Init()

	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️  No .env file found, using environment variables")
	}

	cfg := config.Load()

	// Database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	st := store.New(db)

	// Redis is optional; without it the service runs single-instance.
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, continuing without it: %v", err)
			redisService = nil
		}
	}

	// Encryption for credentials at rest
	encryption, err := crypto.NewEncryptionService(cfg.EncryptionMasterKey)
	if err != nil {
		log.Fatalf("❌ Failed to initialize encryption: %v", err)
	}

	// Metrics
	services.InitMetrics()

	// Credential store with transparent refresh
	credentialService := services.NewCredentialService(st, encryption, redisService, services.RefreshConfig{
		TokenURL:     cfg.GoogleTokenURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		ExpirySkew:   cfg.ExpirySkew,
	})

	// Dispatch policy, hot-reloaded when the file changes
	policyService, err := services.NewPolicyService(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("❌ Failed to load dispatch policy: %v", err)
	}
	if cfg.PolicyFile != "" {
		go watchPolicyFile(cfg.PolicyFile, policyService)
	}

	// Adapters
	aiAdapter := adapters.NewAIAdapter(cfg.AIBaseURL, cfg.AIModel, cfg.AITimeout)
	calendarAdapter := adapters.NewCalendarAdapter("", cfg.CalendarTimeout)
	messagingAdapter := adapters.NewMessagingAdapter("", cfg.TwilioAccountSID, cfg.TwilioFromNumber, cfg.MessagingTimeout)
	emailAdapter := adapters.NewEmailAdapter("", cfg.EmailTimeout)

	// Domain services
	conversationService := services.NewConversationService(st)
	leadService := services.NewLeadService(st, credentialService, aiAdapter)
	orchestrator := services.NewOrchestrator(
		st, credentialService, policyService, conversationService, leadService,
		[]adapters.Adapter{aiAdapter, calendarAdapter, messagingAdapter, emailAdapter},
		cfg.RetryMaxAttempts, cfg.RetryBaseDelay,
	)
	healthTracker := health.NewTracker(0, 0)
	orchestrator.SetHealthTracker(healthTracker)

	recurrenceService, err := services.NewRecurrenceService(orchestrator, redisService)
	if err != nil {
		log.Fatalf("❌ Failed to create recurrence service: %v", err)
	}
	recurrenceService.Start()

	// Background jobs
	jobScheduler := jobs.NewJobScheduler()
	jobScheduler.Register("retention_cleanup", jobs.NewRetentionCleanupJob(conversationService, cfg.RetentionMaxAge, cfg.RetentionKeepTurns))
	jobScheduler.Register("store_health", jobs.NewStoreHealthJob(st, redisService))
	if cfg.EmailIngestInterval > 0 {
		jobScheduler.Register("email_ingest", jobs.NewEmailIngestJob(st, credentialService, leadService, "", cfg.EmailIngestInterval))
	}
	jobScheduler.Start()

	// Auth
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
	}

	// Handlers
	intentHandler := handlers.NewIntentHandler(orchestrator, recurrenceService, st, redisService, cfg.SyncWaitBudget)
	credentialHandler := handlers.NewCredentialHandler(credentialService, handlers.GoogleOAuthConfig{
		ClientID:    cfg.GoogleClientID,
		RedirectURL: cfg.GoogleRedirectURL,
	})
	leadHandler := handlers.NewLeadHandler(leadService)
	webhookHandler := handlers.NewWebhookHandler(leadService, cfg.TwilioAuthToken, os.Getenv("PUBLIC_BASE_URL"))
	healthHandler := handlers.NewHealthHandler(st, redisService, healthTracker)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Smartlead v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("smartlead")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use(middleware.GlobalAPIRateLimiter(rateLimitConfig))

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	// Routes
	app.Get("/health", healthHandler.Handle)

	// Provider webhooks are source-verified, not JWT-authenticated
	webhooks := app.Group("/webhooks", middleware.WebhookRateLimiter(rateLimitConfig))
	webhooks.Post("/messaging/:owner", webhookHandler.InboundMessage)

	// OAuth callback arrives from Google without our bearer token
	app.Get("/api/credentials/google/callback", credentialHandler.GoogleCallback)

	api := app.Group("/api", middleware.AuthMiddleware(jwtAuth), middleware.AuthenticatedRateLimiter(rateLimitConfig))

	api.Post("/intents", intentHandler.Create)
	api.Get("/intents/:id", intentHandler.Get)
	api.Delete("/intents/:id", intentHandler.Cancel)

	api.Get("/credentials", credentialHandler.List)
	api.Get("/credentials/google/connect", credentialHandler.GoogleConnect)
	api.Put("/credentials/:provider", credentialHandler.Upsert)
	api.Delete("/credentials/:provider", credentialHandler.Delete)

	api.Post("/leads", leadHandler.Create)
	api.Get("/leads", leadHandler.List)
	api.Get("/leads/:id", leadHandler.Get)
	api.Patch("/leads/:id", leadHandler.UpdateStatus)
	api.Patch("/leads/:id/status", leadHandler.UpdateStatus)
	api.Get("/leads/:id/activities", leadHandler.Timeline)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()

		if err := recurrenceService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping recurrence service: %v", err)
		}

		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	log.Printf("🚀 Smartlead listening on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// watchPolicyFile hot-reloads the dispatch policy when the file changes.
func watchPolicyFile(filePath string, policyService *services.PolicyService) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	// Debounce to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := policyService.Reload(filePath); err != nil {
						log.Printf("❌ Failed to reload dispatch policy: %v", err)
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
