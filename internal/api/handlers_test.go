package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"rundash/internal/ai"
	"rundash/internal/store"
	"rundash/internal/sync"
)

type fakeRepo struct {
	plans      map[string]*store.TrainingPlan
	activities map[int64]*store.Activity
	lastQuery  store.ListQuery
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans:      make(map[string]*store.TrainingPlan),
		activities: make(map[int64]*store.Activity),
	}
}

func (r *fakeRepo) GetSummary(_ context.Context, _ store.DateRange) (*store.SummaryMetrics, error) {
	return &store.SummaryMetrics{TotalRuns: len(r.activities)}, nil
}

func (r *fakeRepo) GetWeeklyTrends(_ context.Context, _ store.DateRange) ([]store.WeeklyTrendPoint, error) {
	return nil, nil
}

func (r *fakeRepo) ListActivities(_ context.Context, q store.ListQuery) (*store.ListResult, error) {
	r.lastQuery = q
	return &store.ListResult{Page: 1, PageSize: 20, Items: []store.Activity{}}, nil
}

func (r *fakeRepo) GetActivityByID(_ context.Context, id int64) (*store.Activity, error) {
	a, ok := r.activities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (r *fakeRepo) GetCalendarFilterOptions(_ context.Context) (*store.CalendarFilterOptions, error) {
	return &store.CalendarFilterOptions{MonthsByYear: map[int][]int{}}, nil
}

func (r *fakeRepo) GetDailySummary(_ context.Context, year, month int) ([]store.DailySummary, error) {
	return []store.DailySummary{}, nil
}

func (r *fakeRepo) CreateTrainingPlan(_ context.Context, date, content string) (*store.TrainingPlan, error) {
	if _, ok := r.plans[date]; ok {
		return nil, store.ErrPlanExists
	}
	p := &store.TrainingPlan{ID: int64(len(r.plans) + 1), Date: date, Content: content}
	r.plans[date] = p
	return p, nil
}

func (r *fakeRepo) GetTrainingPlanByDate(_ context.Context, date string) (*store.TrainingPlan, error) {
	p, ok := r.plans[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) UpdateTrainingPlan(_ context.Context, date, content string) (*store.TrainingPlan, error) {
	p, ok := r.plans[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.Content = content
	return p, nil
}

func (r *fakeRepo) DeleteTrainingPlan(_ context.Context, date string) (bool, error) {
	if _, ok := r.plans[date]; !ok {
		return false, nil
	}
	delete(r.plans, date)
	return true, nil
}

type fakeAnalyzer struct {
	cached *store.ActivityAnalysis
	stale  bool
	genErr error
}

func (a *fakeAnalyzer) Get(_ context.Context, id int64) (*store.ActivityAnalysis, bool, error) {
	if a.cached == nil || a.cached.ActivityExternalID != id {
		return nil, false, store.ErrNotFound
	}
	return a.cached, a.stale, nil
}

func (a *fakeAnalyzer) Generate(_ context.Context, id int64) (*store.ActivityAnalysis, error) {
	if a.genErr != nil {
		return nil, a.genErr
	}
	return &store.ActivityAnalysis{ActivityExternalID: id, Content: "fresh"}, nil
}

type fakeSyncer struct {
	inProgress bool
	lastOpts   sync.Options
}

func (s *fakeSyncer) Run(_ context.Context, opts sync.Options) (*sync.Result, error) {
	if s.inProgress {
		return nil, sync.ErrSyncInProgress
	}
	s.lastOpts = opts
	return &sync.Result{Mode: "full"}, nil
}

func (s *fakeSyncer) Status() sync.Status {
	state := sync.StateIdle
	if s.inProgress {
		state = sync.StateSyncing
	}
	return sync.Status{State: state}
}

func newTestServer(repo *fakeRepo, analyzer *fakeAnalyzer, syncer *fakeSyncer) http.Handler {
	if repo == nil {
		repo = newFakeRepo()
	}
	if analyzer == nil {
		analyzer = &fakeAnalyzer{}
	}
	if syncer == nil {
		syncer = &fakeSyncer{}
	}
	return NewServer(repo, analyzer, syncer).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPlanLifecycle(t *testing.T) {
	h := newTestServer(nil, nil, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/plans/", `{"date":"2026-03-10","content":"10k easy"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// duplicate date conflicts
	rec = doRequest(t, h, http.MethodPost, "/api/plans/", `{"date":"2026-03-10","content":"again"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create: expected 409, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/plans/2026-03-10", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPut, "/api/plans/2026-03-10", `{"content":"12k steady"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("update: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/plans/2026-03-10", "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/plans/2026-03-10", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestPlanValidation(t *testing.T) {
	h := newTestServer(nil, nil, nil)

	for name, tc := range map[string]struct {
		method, path, body string
	}{
		"bad date":        {http.MethodPost, "/api/plans/", `{"date":"03/10/2026","content":"x"}`},
		"empty content":   {http.MethodPost, "/api/plans/", `{"date":"2026-03-10","content":"  "}`},
		"malformed body":  {http.MethodPost, "/api/plans/", `{`},
		"bad update date": {http.MethodPut, "/api/plans/not-a-date", `{"content":"x"}`},
	} {
		rec := doRequest(t, h, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestUpdateMissingPlanIs404(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := doRequest(t, h, http.MethodPut, "/api/plans/2026-03-10", `{"content":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteMissingPlanIsIdempotent(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := doRequest(t, h, http.MethodDelete, "/api/plans/2026-03-10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["deleted"] {
		t.Error("expected deleted=false for a missing plan")
	}
}

func TestListActivitiesQueryParsing(t *testing.T) {
	repo := newFakeRepo()
	h := newTestServer(repo, nil, nil)

	rec := doRequest(t, h, http.MethodGet,
		"/api/activities/?from=2026-01-01&to=2026-01-31&sortBy=pace&order=asc&page=2&pageSize=50", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	q := repo.lastQuery
	if q.SortBy != store.SortByPace || !q.SortAsc || q.Page != 2 || q.PageSize != 50 {
		t.Errorf("unexpected query %+v", q)
	}
	if q.Range.From != "2026-01-01" || q.Range.To != "2026-01-31" {
		t.Errorf("unexpected range %+v", q.Range)
	}

	for _, path := range []string{
		"/api/activities/?sortBy=name",
		"/api/activities/?order=up",
		"/api/activities/?page=0",
		"/api/activities/?from=yesterday",
	} {
		if rec := doRequest(t, h, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestGetActivityNotFound(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	if rec := doRequest(t, h, http.MethodGet, "/api/activities/12345", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/api/activities/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", rec.Code)
	}
}

func TestAnalysisEndpoints(t *testing.T) {
	analyzer := &fakeAnalyzer{
		cached: &store.ActivityAnalysis{
			ActivityExternalID: 7,
			Content:            "cached take",
			GeneratedAt:        time.Now(),
		},
		stale: true,
	}
	h := newTestServer(nil, analyzer, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/activities/7/analysis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Content string `json:"content"`
		Stale   bool   `json:"stale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Content != "cached take" || !resp.Stale {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := doRequest(t, h, http.MethodGet, "/api/activities/8/analysis", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing analysis: expected 404, got %d", rec.Code)
	}

	if rec := doRequest(t, h, http.MethodPost, "/api/activities/7/analysis", ""); rec.Code != http.StatusOK {
		t.Errorf("generate: expected 200, got %d", rec.Code)
	}
}

func TestGenerateWithoutAPIKeyIs503(t *testing.T) {
	h := newTestServer(nil, &fakeAnalyzer{genErr: ai.ErrNotConfigured}, nil)
	rec := doRequest(t, h, http.MethodPost, "/api/activities/7/analysis", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestSyncEndpoints(t *testing.T) {
	syncer := &fakeSyncer{}
	h := newTestServer(nil, nil, syncer)

	rec := doRequest(t, h, http.MethodPost, "/api/sync", `{"full":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !syncer.lastOpts.Full {
		t.Error("full option not propagated")
	}

	syncer.inProgress = true
	if rec := doRequest(t, h, http.MethodPost, "/api/sync", ""); rec.Code != http.StatusConflict {
		t.Errorf("in-flight sync: expected 409, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/sync/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var status sync.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.State != sync.StateSyncing {
		t.Errorf("unexpected state %s", status.State)
	}

	if rec := doRequest(t, h, http.MethodPost, "/api/sync", `{"from":"soon"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad from date: expected 400, got %d", rec.Code)
	}
}

func TestDailySummaryValidation(t *testing.T) {
	h := newTestServer(nil, nil, nil)

	if rec := doRequest(t, h, http.MethodGet, "/api/calendar/daily?year=2026&month=3", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	for _, path := range []string{
		"/api/calendar/daily",
		"/api/calendar/daily?year=2026&month=13",
		"/api/calendar/daily?year=0&month=3",
	} {
		if rec := doRequest(t, h, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}
