package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/turtton/kmnlib-sub000/config"
	"github.com/turtton/kmnlib-sub000/internal/api"
	"github.com/turtton/kmnlib-sub000/internal/book"
	"github.com/turtton/kmnlib-sub000/internal/command"
	"github.com/turtton/kmnlib-sub000/internal/database"
	"github.com/turtton/kmnlib-sub000/internal/rent"
	"github.com/turtton/kmnlib-sub000/internal/user"
	"github.com/turtton/kmnlib-sub000/pkg/eventlog"
	"github.com/turtton/kmnlib-sub000/pkg/logger"
	"github.com/turtton/kmnlib-sub000/pkg/queue"
	"github.com/turtton/kmnlib-sub000/pkg/stream"
)

func main() {
	if err := logger.Init(logger.GetEnv()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	var cfg config.ApiConfig
	if err := loadConfig(&cfg); err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := stream.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to queue broker", zap.Error(err))
	}
	defer broker.Close()

	log, err := eventlog.Connect(ctx, cfg.EventStoreURL)
	if err != nil {
		logger.Fatal("Failed to connect to event log", zap.Error(err))
	}
	defer log.Close()

	db, err := database.NewDB(database.Config{
		URL:             cfg.PostgresURL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	books := book.NewService(db, log, database.NewBookRepository())
	users := user.NewService(db, log, database.NewUserRepository())
	rents := rent.NewService(db, log, database.NewRentRepository())

	commands, err := command.NewQueue(broker, command.Module{Books: books, Users: users}, queue.Config{
		WorkerCount: cfg.Queue.WorkerCount,
		MaxRetry:    cfg.Queue.MaxRetry,
		RetryDelay:  cfg.Queue.RetryDelay,
	})
	if err != nil {
		logger.Fatal("Failed to build command queue", zap.Error(err))
	}
	if err := commands.StartWorkers(ctx); err != nil {
		logger.Fatal("Failed to start queue workers", zap.Error(err))
	}

	server := api.NewServer(books, users, rents, commands)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}

	// Workers finish their in-flight messages; anything unacknowledged is
	// reclaimed after the retry delay on the next start.
	commands.Wait()
	logger.Info("Shutdown complete")
}

// loadConfig reads a TOML file when CONFIG_PATH is set, with environment
// variables taking precedence either way.
func loadConfig(cfg *config.ApiConfig) error {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return config.Load(config.Path(path), cfg)
	}
	return config.LoadEnv(cfg)
}
