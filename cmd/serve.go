package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	Long:  "Exposes catalog and index statistics over HTTP and lets a run be triggered remotely.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		writeJSON := func(w http.ResponseWriter, status int, v any) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(v)
		}

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := env.Catalog.Stats(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		r.Get("/api/index", func(w http.ResponseWriter, _ *http.Request) {
			partitions := make(map[string]int)
			for _, year := range env.Index.Years() {
				label := fmt.Sprintf("%d", year)
				if year == 0 {
					label = "unknown"
				}
				partitions[label] = env.Index.Size(year)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"partitions": partitions,
				"total":      env.Index.TotalSize(),
			})
		})

		// One run at a time; a second trigger while busy gets a 409.
		var running atomic.Bool
		r.Post("/api/run", func(w http.ResponseWriter, _ *http.Request) {
			if !running.CompareAndSwap(false, true) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress"})
				return
			}
			go func() {
				defer running.Store(false)
				report, err := env.Pipeline.Run(ctx)
				if err != nil {
					zap.L().Error("serve: triggered run failed", zap.Error(err))
					return
				}
				zap.L().Info("serve: triggered run complete",
					zap.Int("filled", report.FilledCells),
					zap.Int("not_found", report.NotFoundCells),
				)
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
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
