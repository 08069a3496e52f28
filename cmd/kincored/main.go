// Command kincored starts the family graph API server.
//
// Usage:
//
//	go run ./cmd/kincored
//	KINCORE_HTTP_ADDR=:9090 go run ./cmd/kincored
//
// Storage selection:
//
//	KINCORE_STORAGE_DRIVER=memory|sqlite|postgres (default sqlite)
//	KINCORE_SQLITE_PATH=./kincore.db
//	KINCORE_POSTGRES_DSN=postgres://localhost/kincore?sslmode=disable
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kincore/internal/core"
	"kincore/internal/httpapi"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if os.Getenv("KINCORE_DEBUG") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		logger.Error("open persistent store", "error", err)
		os.Exit(1)
	}

	metrics, err := core.NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("register metrics", "error", err)
		os.Exit(1)
	}

	svc := core.NewService(store,
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithMetricsRecorder(metrics),
		core.WithTracer(core.NewJSONTracer(os.Stderr)),
	)

	router := httpapi.NewRouter(svc)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := os.Getenv("KINCORE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
