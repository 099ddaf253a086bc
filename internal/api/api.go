// Package api exposes the dashboard core over local HTTP/JSON. Handlers are
// thin: parse, delegate, map errors. All domain decisions live in the store,
// sync, and analysis packages.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"rundash/internal/ai"
	"rundash/internal/logging"
	"rundash/internal/store"
	"rundash/internal/sync"
)

// Repository is the storage surface the handlers need.
type Repository interface {
	GetSummary(ctx context.Context, r store.DateRange) (*store.SummaryMetrics, error)
	GetWeeklyTrends(ctx context.Context, r store.DateRange) ([]store.WeeklyTrendPoint, error)
	ListActivities(ctx context.Context, q store.ListQuery) (*store.ListResult, error)
	GetActivityByID(ctx context.Context, externalID int64) (*store.Activity, error)
	GetCalendarFilterOptions(ctx context.Context) (*store.CalendarFilterOptions, error)
	GetDailySummary(ctx context.Context, year, month int) ([]store.DailySummary, error)
	CreateTrainingPlan(ctx context.Context, date, content string) (*store.TrainingPlan, error)
	GetTrainingPlanByDate(ctx context.Context, date string) (*store.TrainingPlan, error)
	UpdateTrainingPlan(ctx context.Context, date, content string) (*store.TrainingPlan, error)
	DeleteTrainingPlan(ctx context.Context, date string) (bool, error)
}

// Analyzer is the analysis surface the handlers need.
type Analyzer interface {
	Get(ctx context.Context, externalID int64) (*store.ActivityAnalysis, bool, error)
	Generate(ctx context.Context, externalID int64) (*store.ActivityAnalysis, error)
}

// Syncer is the sync orchestrator surface the handlers need.
type Syncer interface {
	Run(ctx context.Context, opts sync.Options) (*sync.Result, error)
	Status() sync.Status
}

// Server holds the HTTP layer's dependencies.
type Server struct {
	repo     Repository
	analyzer Analyzer
	syncer   Syncer
}

// NewServer creates the HTTP layer over the given services.
func NewServer(repo Repository, analyzer Analyzer, syncer Syncer) *Server {
	return &Server{repo: repo, analyzer: analyzer, syncer: syncer}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/trends/weekly", s.handleWeeklyTrends)

		r.Route("/activities", func(r chi.Router) {
			r.Get("/", s.handleListActivities)
			r.Get("/{id}", s.handleGetActivity)
			r.Get("/{id}/analysis", s.handleGetAnalysis)
			r.Post("/{id}/analysis", s.handleGenerateAnalysis)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Post("/", s.handleCreatePlan)
			r.Get("/{date}", s.handleGetPlan)
			r.Put("/{date}", s.handleUpdatePlan)
			r.Delete("/{date}", s.handleDeletePlan)
		})

		r.Get("/calendar/options", s.handleCalendarOptions)
		r.Get("/calendar/daily", s.handleDailySummary)

		r.Post("/sync", s.handleSync)
		r.Get("/sync/status", s.handleSyncStatus)
	})

	return r
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("encoding response", "error", err.Error())
	}
}

// writeError maps domain errors onto HTTP statuses: missing resources to
// 404, conflicts to 409, an unconfigured generator to 503, everything else
// to 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, store.ErrPlanExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a plan already exists for this date"})
	case errors.Is(err, sync.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "sync already in progress"})
	case errors.Is(err, ai.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "analysis generator not configured"})
	default:
		logging.Error("request failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
