package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"kalem/internal/config"
	"kalem/internal/database"
	"kalem/internal/handlers"
	"kalem/internal/logging"
	"kalem/internal/middleware"
	"kalem/internal/services"
	"kalem/pkg/auth"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	logging.Init()

	// MongoDB powers content retrieval and analytics. The chatbot core runs
	// without it, so a missing database degrades rather than aborts.
	var mongoDB *database.MongoDB
	if cfg.MongoURI != "" {
		db, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Printf("⚠️  MongoDB unavailable, retrieval and analytics disabled: %v", err)
		} else {
			mongoDB = db
			if err := mongoDB.Initialize(context.Background()); err != nil {
				log.Printf("⚠️  MongoDB index setup failed: %v", err)
			}
			log.Println("✅ Connected to MongoDB")
		}
	} else {
		log.Println("⚠️  MONGODB_URI not set, retrieval and analytics disabled")
	}

	// Redis backs the shared chat rate limit window
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		rs, err := services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, using in-memory rate limiting: %v", err)
		} else {
			redisService = rs
			log.Println("✅ Connected to Redis")
		}
	} else {
		log.Println("⚠️  REDIS_URL not set, using in-memory rate limiting")
	}

	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		ja, err := auth.NewLocalJWTAuth(cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			log.Printf("⚠️  JWT auth setup failed, all chat actors will be guests: %v", err)
		} else {
			jwtAuth = ja
		}
	} else {
		log.Println("⚠️  JWT_SECRET not set, all chat actors will be guests")
	}

	sessionStore := services.NewSessionStore(cfg.ChatHistoryCap, cfg.ChatIdleTTL, cfg.ChatSweepInterval, cfg.DefaultLanguage)
	sessionStore.StartSweeper()

	analytics := services.NewAnalyticsService(mongoDB)

	var retriever services.ContentRetriever
	if mongoDB != nil {
		retriever = services.NewPostSearchService(mongoDB)
	}

	if cfg.ProviderAPIKey == "" {
		log.Println("⚠️  PROVIDER_API_KEY not set, completion calls will fail")
	}
	provider := services.NewCompletionService(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderModel, cfg.ProviderTimeout)

	chatService := services.NewChatService(sessionStore, retriever, provider, analytics, cfg.ChatMaxMessageLen)
	metrics := services.InitMetrics(sessionStore)
	chatService.SetMetrics(metrics)

	chatHandler := handlers.NewChatHandler(chatService, analytics)
	healthHandler := handlers.NewHealthHandler(sessionStore, mongoDB, redisService)

	app := fiber.New(fiber.Config{
		AppName:      "Kalem Server v1.0",
		ErrorHandler: globalErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))

	prometheus := fiberprometheus.New("kalem")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	app.Get("/health", healthHandler.Handle)

	rateLimits := middleware.LoadRateLimitConfig()
	api := app.Group("/api", middleware.GlobalAPIRateLimiter(rateLimits))

	chat := api.Group("/chat", middleware.ActorResolver(jwtAuth))
	chat.Post("/", middleware.ChatRateLimiter(rateLimits, redisService, analytics), chatHandler.SendMessage)
	chat.Delete("/", chatHandler.ClearHistory)
	chat.Get("/analytics", middleware.AdminMiddleware(cfg), chatHandler.GetAnalytics)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")
		sessionStore.Stop()
		if mongoDB != nil {
			if err := mongoDB.Close(context.Background()); err != nil {
				log.Printf("⚠️  MongoDB close failed: %v", err)
			}
		}
		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️  Redis close failed: %v", err)
			}
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️  Server shutdown failed: %v", err)
		}
	}()

	log.Printf("🚀 Kalem server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server failed to start: %v", err)
	}

	log.Println("👋 Server stopped")
}

func globalErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
