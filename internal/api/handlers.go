package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"rundash/internal/store"
	"rundash/internal/sync"
	"rundash/internal/units"
)

// parseDateRange reads optional from/to query params as calendar dates.
func parseDateRange(r *http.Request) (store.DateRange, bool) {
	var dr store.DateRange
	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"from", &dr.From},
		{"to", &dr.To},
	} {
		v := r.URL.Query().Get(p.name)
		if v == "" {
			continue
		}
		if _, err := time.Parse(units.DateLayout, v); err != nil {
			return dr, false
		}
		*p.dst = v
	}
	return dr, true
}

func parseActivityID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r)
	if !ok {
		writeBadRequest(w, "invalid date filter (want YYYY-MM-DD)")
		return
	}
	summary, err := s.repo.GetSummary(r.Context(), dr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleWeeklyTrends(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r)
	if !ok {
		writeBadRequest(w, "invalid date filter (want YYYY-MM-DD)")
		return
	}
	trends, err := s.repo.GetWeeklyTrends(r.Context(), dr)
	if err != nil {
		writeError(w, err)
		return
	}
	if trends == nil {
		trends = []store.WeeklyTrendPoint{}
	}
	writeJSON(w, http.StatusOK, trends)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r)
	if !ok {
		writeBadRequest(w, "invalid date filter (want YYYY-MM-DD)")
		return
	}

	q := store.ListQuery{Range: dr}
	query := r.URL.Query()

	switch sortBy := query.Get("sortBy"); sortBy {
	case "", store.SortByStartTime:
		q.SortBy = store.SortByStartTime
	case store.SortByDistance, store.SortByPace:
		q.SortBy = sortBy
	default:
		writeBadRequest(w, "invalid sortBy (want start_time, distance, or pace)")
		return
	}

	switch order := query.Get("order"); order {
	case "", "desc":
	case "asc":
		q.SortAsc = true
	default:
		writeBadRequest(w, "invalid order (want asc or desc)")
		return
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"page", &q.Page},
		{"pageSize", &q.PageSize},
	} {
		v := query.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "invalid "+p.name)
			return
		}
		*p.dst = n
	}

	result, err := s.repo.ListActivities(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseActivityID(r)
	if !ok {
		writeBadRequest(w, "invalid activity id")
		return
	}
	activity, err := s.repo.GetActivityByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

type analysisResponse struct {
	*store.ActivityAnalysis
	Stale bool `json:"stale"`
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := parseActivityID(r)
	if !ok {
		writeBadRequest(w, "invalid activity id")
		return
	}
	cached, stale, err := s.analyzer.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{ActivityAnalysis: cached, Stale: stale})
}

func (s *Server) handleGenerateAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := parseActivityID(r)
	if !ok {
		writeBadRequest(w, "invalid activity id")
		return
	}
	generated, err := s.analyzer.Generate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{ActivityAnalysis: generated})
}

type planRequest struct {
	Date    string `json:"date"`
	Content string `json:"content"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := time.Parse(units.DateLayout, req.Date); err != nil {
		writeBadRequest(w, "invalid date (want YYYY-MM-DD)")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeBadRequest(w, "content must not be empty")
		return
	}
	plan, err := s.repo.CreateTrainingPlan(r.Context(), req.Date, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func planDate(r *http.Request) (string, bool) {
	date := chi.URLParam(r, "date")
	_, err := time.Parse(units.DateLayout, date)
	return date, err == nil
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	date, ok := planDate(r)
	if !ok {
		writeBadRequest(w, "invalid date (want YYYY-MM-DD)")
		return
	}
	plan, err := s.repo.GetTrainingPlanByDate(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	date, ok := planDate(r)
	if !ok {
		writeBadRequest(w, "invalid date (want YYYY-MM-DD)")
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeBadRequest(w, "content must not be empty")
		return
	}
	plan, err := s.repo.UpdateTrainingPlan(r.Context(), date, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	date, ok := planDate(r)
	if !ok {
		writeBadRequest(w, "invalid date (want YYYY-MM-DD)")
		return
	}
	deleted, err := s.repo.DeleteTrainingPlan(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleCalendarOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.repo.GetCalendarFilterOptions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	year, err := strconv.Atoi(query.Get("year"))
	if err != nil || year < 1 || year > 9999 {
		writeBadRequest(w, "invalid year")
		return
	}
	month, err := strconv.Atoi(query.Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeBadRequest(w, "invalid month")
		return
	}
	summaries, err := s.repo.GetDailySummary(r.Context(), year, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

type syncRequest struct {
	Full bool   `json:"full"`
	From string `json:"from,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	if req.From != "" {
		if _, err := time.Parse(units.DateLayout, req.From); err != nil {
			writeBadRequest(w, "invalid from date (want YYYY-MM-DD)")
			return
		}
	}
	result, err := s.syncer.Run(r.Context(), sync.Options{Full: req.Full, From: req.From})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.syncer.Status())
}
