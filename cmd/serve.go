package main

import (
	"encoding/json"
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

	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for enqueuing and polling tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st),
		}

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

func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string         `json:"type"`
			Args map[string]any `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		taskType := model.TaskType(req.Type)
		if !knownTaskType(taskType) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown task type: " + req.Type})
			return
		}
		if err := validateArgs(taskType, req.Args); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		task, err := st.CreateTask(r.Context(), taskType, req.Args)
		if err != nil {
			zap.L().Error("api: create task failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create task"})
			return
		}
		writeJSON(w, http.StatusAccepted, task)
	})

	r.Get("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		task, err := st.GetTask(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			zap.L().Error("api: get task failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load task"})
			return
		}
		if task == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, task)
	})

	return r
}

// validateArgs applies per-type argument validation before the task is
// accepted, so malformed requests never reach the worker.
func validateArgs(taskType model.TaskType, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	switch taskType {
	case model.TaskResearch:
		var a model.ResearchArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		return a.Validate()
	case model.TaskMergeEntities:
		var a model.MergeArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		return a.Validate()
	case model.TaskGenerateReply, model.TaskSendArchive, model.TaskIgnoreArchive:
		var a model.CompanyIDArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		return a.Validate()
	default:
		return nil
	}
}

func knownTaskType(t model.TaskType) bool {
	for _, known := range model.KnownTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
