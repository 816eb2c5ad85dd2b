package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/project-million/scanner-cli/internal/monitoring"
	"github.com/project-million/scanner-cli/internal/scanner"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scanner API server",
	Long:  "Serves the scan trigger endpoint, run progress queries, the business pipeline API, a live event stream, and Prometheus metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			store:   env.Store,
			scanner: env.Scanner,
			baseCtx: ctx,
		}

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))

		r.Get("/health", api.handleHealth)
		r.Post("/api/scanner", api.handleScanner)
		r.Get("/api/runs", api.handleListRuns)
		r.Get("/api/runs/current", api.handleCurrentRun)
		r.Get("/api/runs/last", api.handleLastRun)
		r.Get("/api/runs/{id}", api.handleGetRun)
		r.Get("/api/businesses", api.handleListBusinesses)
		r.Get("/api/businesses/{id}", api.handleGetBusiness)
		r.Get("/api/businesses/{id}/enrichment", api.handleGetEnrichment)
		r.Get("/api/events", api.handleEvents)
		r.Method("GET", "/metrics", promhttp.Handler())

		if cfg.Scanner.Schedule != "" {
			c := cron.New()
			_, err := c.AddFunc(cfg.Scanner.Schedule, func() {
				run, err := env.Scanner.Start(ctx, ctx)
				if err != nil {
					if eris.Is(err, scanner.ErrScanInProgress) {
						zap.L().Warn("scheduled scan skipped, previous still running")
						return
					}
					zap.L().Error("scheduled scan failed to start", zap.Error(err))
					return
				}
				monitoring.ScansStarted.WithLabelValues("cron").Inc()
				zap.L().Info("scheduled scan started", zap.String("run_id", run.ID))
			})
			if err != nil {
				return eris.Wrapf(err, "invalid scan schedule %q", cfg.Scanner.Schedule)
			}
			c.Start()
			defer c.Stop()
			zap.L().Info("scan schedule active", zap.String("spec", cfg.Scanner.Schedule))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
