package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pixelguess-backend/internal/config"
	"pixelguess-backend/internal/database"
	"pixelguess-backend/internal/dataset"
	"pixelguess-backend/internal/handlers"
	"pixelguess-backend/internal/lock"
	"pixelguess-backend/internal/middleware"
	"pixelguess-backend/internal/models"
	"pixelguess-backend/internal/repository"
	"pixelguess-backend/internal/router"
	"pixelguess-backend/internal/services"
	"pixelguess-backend/internal/websocket"
)

type gameStore interface {
	CreateGame(ctx context.Context, g *models.Game) error
	AppendTurn(ctx context.Context, t *models.Turn) error
	FinalizeGame(ctx context.Context, res *models.GameResult) (*models.Game, error)
	GetGame(ctx context.Context, id int64) (*models.Game, error)
	ListTurns(ctx context.Context, gameID int64) ([]*models.Turn, error)
}

func main() {
	log.Println("🚀 Starting PixelGuess Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Open the Game Store ────
	store, closeStore, err := openStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ Game store setup failed: %v", err)
	}
	defer closeStore()

	// ──── Step 3: Initialize Redis (optional) ────
	var redisClient *redis.Client
	var locker lock.Locker
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.LockTTL)
		log.Println("✓ Redis connected (distributed locks, pub/sub events)")
	} else {
		locker = lock.NewLocalLocker()
		log.Println("✓ Redis not configured, using in-process locks and events")
	}

	// ──── Step 4: Load Image Dataset ────
	// A missing dataset does not stop the server; start_game reports DATA_UNAVAILABLE.
	var images services.ImageProvider
	collection, err := dataset.Load(dataset.Options{
		Dir:        cfg.DatasetDir,
		Resolution: cfg.ImageResolution,
		NumClasses: cfg.NumClasses,
		NumImages:  cfg.NumImages,
		Shuffle:    cfg.DatasetShuffle,
		Seed:       cfg.DatasetSeed,
	})
	if err != nil {
		log.Printf("✗ Dataset load failed: %v", err)
	} else {
		images = collection
		log.Printf("✓ Dataset loaded (%d images, %dx%d px)", collection.Len(), collection.Resolution(), collection.Resolution())
	}

	// ──── Step 5: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClient)
	log.Println("✓ WebSocket hub started")

	// ──── Initialize Services & Handlers ────
	gameService := services.NewGameService(images, store, locker, wsHub, services.GameOptions{
		ExposeLabel:      cfg.ExposeLabel,
		StrictValidation: cfg.StrictValidation,
		LockWait:         cfg.LockWait,
	})
	gameHandler := handlers.NewGameHandler(gameService)

	startLimiter := middleware.NewRateLimiter(cfg.StartRateLimitPerMin, time.Minute)
	defer startLimiter.Stop()

	// ──── Step 6: Start HTTP Server ────
	r := router.New(gameHandler, wsHub, startLimiter, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ PixelGuess Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/games/{id}/watch", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// openStore picks the backend from the URL scheme and makes sure the schema exists.
func openStore(databaseURL string) (gameStore, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if path, ok := database.SQLitePath(databaseURL); ok {
		db, err := database.NewSQLiteDB(path)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Printf("✓ SQLite ready (%s)", path)
		return repository.NewSQLiteGameRepo(db), func() { db.Close() }, nil
	}

	pool, err := database.NewPostgresPool(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Println("✓ PostgreSQL connected, schema ready")
	return repository.NewGameRepo(pool), pool.Close, nil
}
