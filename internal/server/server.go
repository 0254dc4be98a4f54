// Package server exposes stored evaluation runs over a read-only HTTP API
// for audit tooling.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/facts"
	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/provenance"
	"github.com/sells-group/credit-core/internal/store"
)

// Config controls the HTTP listener.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server serves the audit API.
type Server struct {
	store  store.Store
	port   int
	router chi.Router
}

// New builds the router over st.
func New(st store.Store, cfg Config) *Server {
	s := &Server{store: st, port: cfg.Port}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/facts", s.handleListFacts)
			r.Get("/metrics", s.handleListMetrics)
			r.Get("/rating", s.handleGetRating)
			r.Post("/provenance", s.handleProvenance)
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on cfg.Port until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	port := s.port
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Target: q.Get("target"),
		Status: model.RunStatus(q.Get("status")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	switch filter.Status {
	case "", model.RunStatusCurrent, model.RunStatusSuperseded:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListFacts(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListMetrics(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	rating, err := s.store.GetRating(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

// ProvenanceRequest is the body of POST /runs/{id}/provenance.
type ProvenanceRequest struct {
	Citations []model.SectionCitation `json:"citations"`
}

type missingLinkBody struct {
	Error   string                       `json:"error"`
	Missing *provenance.MissingLinkError `json:"missing"`
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runID")

	var req ProvenanceRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Citations) == 0 {
		writeError(w, http.StatusBadRequest, "citations are required")
		return
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	factList, err := s.store.ListFacts(ctx, runID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	metrics, err := s.store.ListMetrics(ctx, runID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	fs, err := facts.New(factList)
	if err != nil {
		zap.L().Error("server: rebuild fact store", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stored facts are inconsistent")
		return
	}

	bundle, err := provenance.Assemble(req.Citations, metrics, fs, run.Versions)
	var mle *provenance.MissingLinkError
	if errors.As(err, &mle) {
		writeJSON(w, http.StatusUnprocessableEntity, missingLinkBody{Error: mle.Error(), Missing: mle})
		return
	}
	if err != nil {
		zap.L().Error("server: assemble provenance", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("server: store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("server: invalid integer %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
