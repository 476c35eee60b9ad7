package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"story-server/internal/auth"
	"story-server/internal/config"
	"story-server/internal/generation"
	"story-server/internal/handler"
	"story-server/internal/logger"
	"story-server/internal/service"
	"story-server/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Файл .env не найден, используются переменные окружения")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting story server",
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("generation_backend", cfg.GenerationBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	var objectStore storage.ObjectStore

	switch strings.ToLower(cfg.StorageBackend) {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		objectStore = storage.NewRedisObjectStore(redisClient, log)

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.GetDSN())
		if err != nil {
			log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pool.Close()
		objectStore, err = storage.NewPgObjectStore(ctx, pool, log)
		if err != nil {
			log.Fatal("Failed to prepare PostgreSQL storage", zap.Error(err))
		}

	case "memory":
		log.Warn("Using in-memory storage: data will not survive a restart")
		objectStore = storage.NewMemoryObjectStore()

	default:
		log.Fatal("Unknown storage backend", zap.String("backend", cfg.StorageBackend))
	}

	repo := storage.NewStoryRepository(objectStore, log)

	doc, err := repo.LoadOrDefault(ctx)
	if err != nil {
		log.Fatal("Failed to load story document", zap.Error(err))
	}

	var generator generation.Generator
	switch strings.ToLower(cfg.GenerationBackend) {
	case "gemini":
		generator = generation.NewGeminiClient(generation.GeminiConfig{
			APIKey:  cfg.GenerationAPIKey,
			Model:   cfg.GenerationModel,
			BaseURL: cfg.GenerationBaseURL,
			Timeout: cfg.GenerationTimeout,
		}, log)
	case "openai":
		generator = generation.NewOpenAIClient(generation.OpenAIConfig{
			APIKey: cfg.GenerationAPIKey,
			Model:  cfg.GenerationModel,
		}, log)
	default:
		log.Fatal("Unknown generation backend", zap.String("backend", cfg.GenerationBackend))
	}

	var tokenStore auth.TokenStore
	if redisClient != nil {
		tokenStore = auth.NewRedisTokenStore(redisClient)
	} else {
		tokenStore = auth.NewMemoryTokenStore()
	}
	authSvc := auth.NewService(auth.Config{
		JWTSecret:         cfg.JWTSecret,
		AdminPasswordHash: cfg.AdminPasswordHash,
		TokenTTL:          cfg.AdminTokenTTL,
	}, tokenStore, log)

	assembler := service.NewPromptAssembler(service.AspectRatio(cfg.AspectRatio))
	authoring := service.NewAuthoringService(doc, repo, generator, assembler, nil, log)

	playbackOpts := service.Options{
		StartNodeID:     cfg.StartNodeID,
		WordDelay:       cfg.WordDelay,
		ChunkPause:      cfg.ChunkPause,
		TransitionDelay: cfg.TransitionDelay,
		FadeDelay:       cfg.FadeDelay,
		FlashbackDelay:  cfg.FlashbackDelay,
		AspectRatio:     service.AspectRatio(cfg.AspectRatio),
		ContextStrategy: service.ContextStrategy(cfg.ContextStrategy),
		PreloadLimit:    cfg.PreloadLimit,
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Admin-Token", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	prom := ginprometheus.NewPrometheus("story_server")
	prom.Use(router)

	h := handler.New(repo, authoring, authSvc, generator, playbackOpts, log)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}
