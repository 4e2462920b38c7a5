package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auctionintel/leadfinder/internal/export"
	"github.com/auctionintel/leadfinder/internal/lead"
	"github.com/auctionintel/leadfinder/internal/orchestrator"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP research API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		e, err := initEnv(ctx, nil, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		// Expired jobs are swept in the background so completed results
		// stay fetchable for the retention window and no longer.
		retention := time.Duration(cfg.Orchestrator.JobRetentionHours) * time.Hour
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if removed := e.Orchestrator.Jobs().Cleanup(retention); removed > 0 {
						zap.L().Info("swept expired jobs", zap.Int("removed", removed))
					}
				}
			}
		}()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, e.Orchestrator),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API routes. jobsCtx bounds background jobs: they
// survive the submitting request but die with the server.
func newRouter(jobsCtx context.Context, orch *orchestrator.Orchestrator) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", handleSearch(jobsCtx, orch))
		r.Get("/status/{id}", handleStatus(orch))
		r.Get("/results/{id}", handleResults(orch))
		r.Post("/resume/{id}", handleResume(jobsCtx, orch))
	})
	return r
}

type searchRequest struct {
	Identifiers []string `json:"identifiers"`

	// Raw is an alternative free-form input: comma or newline separated
	// identifiers, same as the run command's file format.
	Raw string `json:"raw,omitempty"`
}

func handleSearch(jobsCtx context.Context, orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		identifiers := req.Identifiers
		if len(identifiers) == 0 && req.Raw != "" {
			identifiers = parseInput(req.Raw)
		}
		if len(identifiers) == 0 {
			writeError(w, http.StatusBadRequest, "identifiers are required")
			return
		}

		job, err := orch.Start(jobsCtx, identifiers)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		zap.L().Info("job submitted",
			zap.String("job_id", job.ID),
			zap.Int("identifiers", len(identifiers)),
		)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"id":     job.ID,
			"total":  len(job.Identifiers),
			"status": orchestrator.JobStatusRunning,
		})
	}
}

func handleStatus(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := orch.Jobs().Get(chi.URLParam(r, "id"))
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		view := job.Snapshot()
		view.Results = nil // status is the lightweight endpoint
		writeJSON(w, http.StatusOK, view)
	}
}

func handleResults(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := orch.Jobs().Get(chi.URLParam(r, "id"))
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		view := job.Snapshot()
		if view.Status == orchestrator.JobStatusRunning {
			writeError(w, http.StatusConflict, "job still running")
			return
		}

		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}
		var err error
		switch format {
		case "json":
			meta := export.Meta{JobID: view.ID, TotalIdentifiers: view.Total}
			if view.FinishedAt != nil {
				meta.ProcessingSeconds = view.FinishedAt.Sub(view.StartedAt).Seconds()
			}
			w.Header().Set("Content-Type", "application/json")
			err = export.WriteJSON(w, meta, view.Results)
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", view.ID))
			err = export.WriteCSV(w, view.Results)
		case "xlsx":
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", view.ID))
			err = export.WriteXLSX(w, view.Results)
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
			return
		}
		if err != nil {
			zap.L().Error("results export failed",
				zap.String("job_id", view.ID),
				zap.String("format", format),
				zap.Error(err),
			)
		}
	}
}

func handleResume(jobsCtx context.Context, orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := orch.Jobs().Get(chi.URLParam(r, "id"))
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		view := job.Snapshot()
		if view.Status == orchestrator.JobStatusRunning {
			writeError(w, http.StatusConflict, "job still running")
			return
		}

		remaining := unprocessedIdentifiers(view)
		if len(remaining) == 0 {
			writeError(w, http.StatusConflict, "nothing to resume")
			return
		}

		resumed, err := orch.Start(jobsCtx, remaining)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		zap.L().Info("job resumed",
			zap.String("job_id", view.ID),
			zap.String("resumed_job_id", resumed.ID),
			zap.Int("identifiers", len(remaining)),
		)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"id":      resumed.ID,
			"resumes": view.ID,
			"total":   len(remaining),
			"status":  orchestrator.JobStatusRunning,
		})
	}
}

// unprocessedIdentifiers picks out the identifiers a cancelled or aborted
// job never researched: empty slots and dispatch-skipped error records.
// Genuine research errors are excluded; the cache already holds those and
// they age out on their own schedule.
func unprocessedIdentifiers(view orchestrator.JobView) []string {
	var out []string
	for i, rec := range view.Results {
		if rec.Status == "" || (rec.Status == lead.StatusError && rec.APICalls == 0) {
			out = append(out, view.Identifiers[i])
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
