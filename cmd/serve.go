package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/config"
	"github.com/sells-group/speclens/internal/job"
	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis job API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Orchestrator.Start(ctx)
		go env.Sweeper.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env.Orchestrator, cfg.Consensus),
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

		env.Orchestrator.Wait()
		return nil
	},
}

// submitRequest is the POST /jobs body. Omitted expert_required and
// min_support fall back to the configured consensus defaults.
type submitRequest struct {
	CategoryID     string           `json:"category_id"`
	Sources        []model.SourceID `json:"sources,omitempty"`
	ExpertRequired *bool            `json:"expert_required,omitempty"`
	MinSupport     *int             `json:"min_support,omitempty"`
}

func newRouter(o *job.Orchestrator, defaults config.ConsensusConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var body submitRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		params := model.JobParams{
			CategoryID:     body.CategoryID,
			Sources:        body.Sources,
			ExpertRequired: defaults.ExpertRequired,
			MinSupport:     defaults.MinSupport,
		}
		if body.ExpertRequired != nil {
			params.ExpertRequired = *body.ExpertRequired
		}
		if body.MinSupport != nil {
			params.MinSupport = *body.MinSupport
		}

		rec, err := o.Submit(req.Context(), params)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id": rec.JobID,
			"status": rec.Status,
		})
	})

	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.JobFilter{
			Status:     model.JobStatus(q.Get("status")),
			CategoryID: q.Get("category_id"),
		}
		fmt.Sscanf(q.Get("limit"), "%d", &filter.Limit)

		jobs, err := o.List(req.Context(), filter)
		if err != nil {
			zap.L().Error("list jobs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list jobs failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	})

	r.Get("/jobs/{jobID}/status", func(w http.ResponseWriter, req *http.Request) {
		rec, err := o.Status(req.Context(), chi.URLParam(req, "jobID"))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":       rec.JobID,
			"status":       rec.Status,
			"progress":     rec.Progress,
			"current_step": rec.CurrentStep,
			"error":        rec.Error,
			"updated_at":   rec.UpdatedAt,
		})
	})

	r.Get("/jobs/{jobID}/results", func(w http.ResponseWriter, req *http.Request) {
		rec, err := o.Results(req.Context(), chi.URLParam(req, "jobID"))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	r.Delete("/jobs/{jobID}", func(w http.ResponseWriter, req *http.Request) {
		jobID := chi.URLParam(req, "jobID")
		if err := o.Cancel(req.Context(), jobID); err != nil {
			writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": "cancellation_requested",
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrInvalidParameters):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "job queue full, retry later")
	default:
		zap.L().Error("submit job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job submission failed")
	}
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	zap.L().Error("job lookup", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "job lookup failed")
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
