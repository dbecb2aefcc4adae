package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hfdash/internal/chat"
	"hfdash/internal/config"
	"hfdash/internal/httpserver"
	"hfdash/internal/inference"
	"hfdash/internal/middleware"
	"hfdash/internal/settings"
	"hfdash/internal/storage"
	"hfdash/internal/transport"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg.Store, logger)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer closeStore()

	history := chat.NewHistoryStore(store)
	requestCount, err := history.LoadRequestCount(ctx)
	if err != nil {
		logger.Warn("request count unavailable", slog.String("error", err.Error()))
	}

	httpClient := transport.NewHTTPClient(cfg.RequestTimeout)
	client := inference.NewClient(cfg.HuggingFace, httpClient, logger,
		inference.WithRequestCount(requestCount),
		inference.WithStatusObserver(func(connected bool) {
			logger.Debug("connection status changed", slog.Bool("connected", connected))
		}),
	)

	prefs := settings.NewService(store, client, logger)
	current, err := prefs.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	logger.Info("settings loaded",
		slog.String("model", current.Model),
		slog.Bool("api_key_set", current.APIKey != ""),
	)

	controller := chat.NewController(chat.ControllerConfig{
		Client:   client,
		Settings: prefs,
		History:  history,
		Logger:   logger,
	})
	if err := controller.Load(ctx); err != nil {
		log.Fatalf("failed to load chat history: %v", err)
	}

	api := httpserver.NewAPI(httpserver.APIDeps{
		Client:   client,
		Settings: prefs,
		Chat:     controller,
		Logger:   logger,
	})
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Logger:  logger,
		API:     api,
		Limiter: middleware.NewClientLimiter(cfg.API.RateLimit, cfg.API.RateBurst),
	})

	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Отправка сообщения ждёт ответ модели.
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Monitor.Enabled {
		go client.Watch(ctx, cfg.Monitor.Interval)
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	controller.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// newStore выбирает бэкенд хранилища по STORE_TYPE. Второе значение закрывает хранилище.
func newStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (storage.Store, func(), error) {
	switch strings.ToLower(cfg.Type) {
	case "memory":
		return storage.NewMemoryStore(), func() {}, nil
	case "sqlite":
		s, err := storage.NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s, logger), nil
	default:
		s, err := storage.NewFileStore(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func closer(c io.Closer, logger *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Error("close store", slog.String("error", err.Error()))
		}
	}
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
