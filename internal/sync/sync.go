// Package sync drives one batch of ingestion: list pages from the
// provider, filter to runs, fetch per-activity enrichments, normalize, and
// upsert. At most one batch runs at a time; concurrent requests are
// rejected, not queued.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rundash/internal/logging"
	"rundash/internal/normalize"
	"rundash/internal/store"
	"rundash/internal/strava"
	"rundash/internal/units"
)

// ErrSyncInProgress reports that a batch is already running. Callers should
// treat it as a conflict and try again later.
var ErrSyncInProgress = errors.New("sync already in progress")

// Fetcher is the provider surface the orchestrator needs.
type Fetcher interface {
	FetchActivityPage(ctx context.Context, page int, afterEpoch int64) ([]strava.SummaryActivity, error)
	FetchActivityDetail(ctx context.Context, activityID int64) (*strava.DetailedActivity, []byte, error)
	FetchActivityZones(ctx context.Context, activityID int64) ([]strava.ActivityZone, error)
	FetchActivityStreams(ctx context.Context, activityID int64) ([]byte, error)
}

// Repository is the storage surface the orchestrator needs.
type Repository interface {
	UpsertRunActivity(ctx context.Context, a *store.Activity) (store.UpsertOutcome, error)
	LatestActivityStart(ctx context.Context) (time.Time, error)
}

// State is the orchestrator's single-flight guard state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// Options controls one sync batch.
type Options struct {
	// Full ignores the stored high-water mark and re-ingests everything.
	Full bool
	// From overrides the lower bound with a calendar date (YYYY-MM-DD) in
	// the fixed timezone. Ignored when Full is set.
	From string
}

// Result summarizes one completed batch.
type Result struct {
	TotalFetchedRuns int       `json:"totalFetchedRuns"`
	Created          int       `json:"created"`
	Updated          int       `json:"updated"`
	SkippedNonRun    int       `json:"skippedNonRun"`
	Failed           int       `json:"failed"`
	Mode             string    `json:"mode"`  // "full" or "incremental"
	Since            string    `json:"since"` // resolved lower bound, RFC3339; empty for full
	FinishedAt       time.Time `json:"finishedAt"`
}

// Status is the externally visible orchestrator state.
type Status struct {
	State      State   `json:"state"`
	LastResult *Result `json:"lastResult,omitempty"`
}

// Service is the sync orchestrator. The guard is instance state, not a
// package variable, so independent instances (e.g. in tests) never
// interfere.
type Service struct {
	fetcher Fetcher
	repo    Repository
	loc     *time.Location

	mu         stdsync.Mutex
	state      State
	lastResult *Result
}

// NewService creates a sync orchestrator. loc is the dashboard's fixed
// calendar timezone, used to resolve From dates.
func NewService(fetcher Fetcher, repo Repository, loc *time.Location) *Service {
	return &Service{
		fetcher: fetcher,
		repo:    repo,
		loc:     loc,
		state:   StateIdle,
	}
}

// Status reports the guard state and the last completed batch.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, LastResult: s.lastResult}
}

// Run executes one sync batch. A second call while a batch is in flight
// fails immediately with ErrSyncInProgress. The guard is released
// unconditionally, including when the batch errors.
func (s *Service) Run(ctx context.Context, opts Options) (*Result, error) {
	if !s.tryBegin() {
		return nil, ErrSyncInProgress
	}

	result := &Result{}
	defer func() {
		result.FinishedAt = time.Now()
		s.finish(result)
	}()

	since, err := s.resolveLowerBound(ctx, opts, result)
	if err != nil {
		return nil, err
	}

	log := logging.Logger
	log.Info().
		Str("mode", result.Mode).
		Str("since", result.Since).
		Msg("starting sync")

	var afterEpoch int64
	if !since.IsZero() {
		afterEpoch = since.Unix()
	}

	// Activities are processed one at a time so rate-limit accounting on
	// the shared provider budget stays predictable; only the three
	// per-activity reads fan out.
	for page := 1; ; page++ {
		summaries, err := s.fetcher.FetchActivityPage(ctx, page, afterEpoch)
		if err != nil {
			return result, fmt.Errorf("fetching activity page %d: %w", page, err)
		}
		if len(summaries) == 0 {
			break
		}

		for _, summary := range summaries {
			if !summary.IsRun() {
				result.SkippedNonRun++
				continue
			}
			result.TotalFetchedRuns++

			if err := s.ingestOne(ctx, summary, result); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Failed++
				log.Warn().
					Err(err).
					Int64("activity_id", summary.ID).
					Str("name", summary.Name).
					Msg("activity sync failed, continuing batch")
			}
		}
	}

	log.Info().
		Int("fetched", result.TotalFetchedRuns).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped_non_run", result.SkippedNonRun).
		Int("failed", result.Failed).
		Msg("sync finished")
	return result, nil
}

// ingestOne fetches detail plus optional enrichments for a single run,
// normalizes and upserts it. Zone and stream failures degrade to absent;
// only a missing detail payload fails the activity.
func (s *Service) ingestOne(ctx context.Context, summary strava.SummaryActivity, result *Result) error {
	detail, raw, err := s.fetcher.FetchActivityDetail(ctx, summary.ID)
	if err != nil {
		return fmt.Errorf("fetching detail: %w", err)
	}
	if detail == nil {
		return fmt.Errorf("provider has no detail for activity %d", summary.ID)
	}

	// zones and streams are independent reads for the same activity
	var zones []strava.ActivityZone
	var streamPayload []byte
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		z, err := s.fetcher.FetchActivityZones(gCtx, summary.ID)
		if err != nil {
			logging.Debug("zones unavailable", "activity_id", summary.ID, "error", err.Error())
			return nil
		}
		zones = z
		return nil
	})
	g.Go(func() error {
		p, err := s.fetcher.FetchActivityStreams(gCtx, summary.ID)
		if err != nil {
			logging.Debug("streams unavailable", "activity_id", summary.ID, "error", err.Error())
			return nil
		}
		streamPayload = p
		return nil
	})
	_ = g.Wait()

	activity, err := normalize.BuildActivity(detail, raw, zones, streamPayload)
	if err != nil {
		return fmt.Errorf("normalizing: %w", err)
	}

	outcome, err := s.repo.UpsertRunActivity(ctx, activity)
	if err != nil {
		return fmt.Errorf("upserting: %w", err)
	}
	switch outcome {
	case store.OutcomeCreated:
		result.Created++
	case store.OutcomeUpdated:
		result.Updated++
	}
	return nil
}

// resolveLowerBound picks the batch's sync window start: none for a full
// sync, an explicit From date when given, otherwise the start of the most
// recently stored activity (epoch zero when the store is empty).
func (s *Service) resolveLowerBound(ctx context.Context, opts Options, result *Result) (time.Time, error) {
	if opts.Full {
		result.Mode = "full"
		return time.Time{}, nil
	}

	result.Mode = "incremental"
	if opts.From != "" {
		day, err := time.ParseInLocation(units.DateLayout, opts.From, s.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid from date %q: %w", opts.From, err)
		}
		result.Since = day.UTC().Format(time.RFC3339)
		return day, nil
	}

	latest, err := s.repo.LatestActivityStart(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolving sync window: %w", err)
	}
	if !latest.IsZero() {
		result.Since = latest.UTC().Format(time.RFC3339)
	}
	return latest, nil
}

func (s *Service) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSyncing {
		return false
	}
	s.state = StateSyncing
	return true
}

func (s *Service) finish(result *Result) {
	s.mu.Lock()
	s.state = StateIdle
	s.lastResult = result
	s.mu.Unlock()
}
