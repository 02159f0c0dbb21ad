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

	"coin_market/internal/app"
	"coin_market/internal/config"
	"coin_market/internal/pkg/auth"
	"coin_market/internal/pkg/combination"
	"coin_market/internal/pkg/fingerprint"
	"coin_market/internal/pkg/logger"
	"coin_market/internal/service"
	"coin_market/internal/storage"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	var l *logger.Logger
	var err error
	if l, err = logger.CreateLogger(config.LogLevel); err != nil {
		log.Fatal("Failed to create logger:", err)
	}

	combinations := combination.Range{Min: config.CombinationMin, Max: config.CombinationMax}
	if err = combinations.Validate(); err != nil {
		l.Fatal("Invalid combination range", zap.Error(err))
	}

	storage, err := storage.NewPostgreSQL(config.DatabaseURI, l)
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()

	const schemaTimeout = 30 * time.Second
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), schemaTimeout)
	err = storage.EnsureSchema(schemaCtx)
	cancelSchema()
	if err != nil {
		log.Fatal(err)
	}

	var remote fingerprint.Store
	if config.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: config.RedisAddress})
		defer redisClient.Close()
		remote = fingerprint.NewRedisStore(redisClient)
		l.Info("Shared fingerprint cache enabled", zap.String("redis", config.RedisAddress))
	}

	if config.SessionSecret == "" {
		l.Warn("SESSION_SECRET is not set; logins will fail until it is configured")
	}
	sessions := auth.NewAuthority([]byte(config.SessionSecret), config.SessionTTL)

	app := app.NewApp(storage, sessions, fingerprint.NewCache(remote, l), combinations, l)
	service := service.NewService(app, sessions, config.ServerRunAddress, l)

	const readHeaderTimeout = 5 * time.Second
	server := &http.Server{Addr: config.ServerRunAddress, Handler: service.NewRouter(), ReadHeaderTimeout: readHeaderTimeout}

	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		const shutdownTimeout = 30 * time.Second
		shutdownCtx, cancel := context.WithTimeout(serverCtx, shutdownTimeout)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	l.Info("Starting coin market", zap.String("address", config.ServerRunAddress),
		zap.Int("combination_min", combinations.Min), zap.Int("combination_max", combinations.Max))

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	<-serverCtx.Done()
}
