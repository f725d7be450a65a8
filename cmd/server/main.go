package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/api"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/config"
)

// Env carries process-level settings read with cleanenv; service-level
// configuration comes from config.WithEnv.
type Env struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
}

func main() {
	var env Env
	if err := cleanenv.ReadEnv(&env); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(env.LogLevel)
	slog.SetDefault(logger)

	serverConfig, err := config.Load(config.WithEnv(""))
	if err != nil {
		logger.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	// Without an external prefix, serve local files from this process so
	// filesystem-backed images still resolve to working URLs.
	if serverConfig.LocalURLPrefix == "" {
		serverConfig.LocalURLPrefix = "/files"
	}

	svc, err := serverConfig.BuildService()
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", env.Port),
		Handler: routes(svc, serverConfig),
	}

	go func() {
		logger.Info("pixelmill server starting",
			"port", env.Port,
			"env", serverConfig.Environment,
			"remote_storage", serverConfig.S3.Enabled(),
			"providers", len(serverConfig.Generators))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
		os.Exit(1)
	}

	// Let running generation jobs and indexing tasks settle before exit.
	svc.Drain()

	logger.Info("Server exiting")
}

func routes(svc pixelmill.Service, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS for development
	if cfg.Environment == "development" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

				if r.Method == "OPTIONS" {
					w.WriteHeader(http.StatusOK)
					return
				}

				next.ServeHTTP(w, r)
			})
		})
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{
			"status":  "ok",
			"service": "pixelmill",
		})
	})

	r.Mount("/api/v1", api.NewHandler(svc).Routes())

	// When the URL prefix points back at this server, mount the local
	// storage directory behind it.
	if p := cfg.LocalURLPrefix; strings.HasPrefix(p, "/") {
		p = strings.TrimSuffix(p, "/")
		r.Handle(p+"/*", http.StripPrefix(p+"/", http.FileServer(http.Dir(cfg.LocalStorageDir))))
	}

	return r
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
