// Package analysis generates and caches per-activity coaching feedback. The
// text generator is pluggable; the service owns prompt construction and the
// cache staleness rule.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rundash/internal/store"
	"rundash/internal/units"
)

// Generator produces text from a system+user prompt pair.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Repository is the storage surface the analysis service needs.
type Repository interface {
	GetActivityByID(ctx context.Context, externalID int64) (*store.Activity, error)
	GetTrainingPlanByDate(ctx context.Context, date string) (*store.TrainingPlan, error)
	GetActivityAnalysis(ctx context.Context, externalID int64) (*store.ActivityAnalysis, error)
	SaveActivityAnalysis(ctx context.Context, externalID int64, content string) (*store.ActivityAnalysis, error)
}

const systemPrompt = `You are an experienced running coach reviewing a single
training run. Give concise, specific feedback on execution, pacing, and heart
rate response. When a plan for the day is provided, judge the run against it.
Answer in a few short paragraphs, no headings.`

// Service coordinates activity lookup, prompt construction, generation, and
// caching.
type Service struct {
	repo Repository
	gen  Generator
	loc  *time.Location
}

// NewService creates an analysis service. loc is the dashboard's fixed
// calendar timezone, used to find the plan matching an activity's day.
func NewService(repo Repository, gen Generator, loc *time.Location) *Service {
	return &Service{repo: repo, gen: gen, loc: loc}
}

// Get returns the cached analysis for an activity plus whether it is stale.
// An analysis goes stale when the plan for the activity's day was edited
// after the analysis was generated. Returns store.ErrNotFound when no
// analysis has been generated yet.
func (s *Service) Get(ctx context.Context, externalID int64) (*store.ActivityAnalysis, bool, error) {
	cached, err := s.repo.GetActivityAnalysis(ctx, externalID)
	if err != nil {
		return nil, false, err
	}

	activity, err := s.repo.GetActivityByID(ctx, externalID)
	if err != nil {
		return nil, false, err
	}

	plan, err := s.planForActivity(ctx, activity)
	if err != nil {
		return nil, false, err
	}
	stale := plan != nil && plan.UpdatedAt.After(cached.GeneratedAt)
	return cached, stale, nil
}

// Generate builds a fresh analysis for the activity and overwrites any
// cached one. Fails with ai.ErrNotConfigured (passed through) when the
// generator has no credentials.
func (s *Service) Generate(ctx context.Context, externalID int64) (*store.ActivityAnalysis, error) {
	activity, err := s.repo.GetActivityByID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	plan, err := s.planForActivity(ctx, activity)
	if err != nil {
		return nil, err
	}

	content, err := s.gen.Generate(ctx, systemPrompt, s.buildUserPrompt(activity, plan))
	if err != nil {
		return nil, fmt.Errorf("generating analysis for %d: %w", externalID, err)
	}

	return s.repo.SaveActivityAnalysis(ctx, externalID, content)
}

// planForActivity finds the training plan for the activity's calendar day,
// if any. Absence is not an error.
func (s *Service) planForActivity(ctx context.Context, activity *store.Activity) (*store.TrainingPlan, error) {
	date := units.ToCalendarDate(activity.StartDate, s.loc)
	plan, err := s.repo.GetTrainingPlanByDate(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading plan for %s: %w", date, err)
	}
	return plan, nil
}

// buildUserPrompt renders the activity's metrics, splits, and zone
// distribution as plain text the generator can reason over. The date is
// rendered in the calendar timezone so it agrees with the plan's day.
func (s *Service) buildUserPrompt(a *store.Activity, plan *store.TrainingPlan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", a.Name)
	fmt.Fprintf(&b, "Date: %s\n", a.StartDate.In(s.loc).Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Distance: %.2f km\n", a.DistanceM/1000)
	fmt.Fprintf(&b, "Moving time: %s\n", formatDuration(a.MovingTimeS))
	if a.PaceSecPerKm != nil {
		fmt.Fprintf(&b, "Average pace: %s/km\n", formatPace(*a.PaceSecPerKm))
	}
	if a.AverageHeartRate != nil {
		fmt.Fprintf(&b, "Average heart rate: %.0f bpm", *a.AverageHeartRate)
		if a.MaxHeartRate != nil {
			fmt.Fprintf(&b, " (max %.0f)", *a.MaxHeartRate)
		}
		b.WriteString("\n")
	}
	if a.ElevationGainM != nil {
		fmt.Fprintf(&b, "Elevation gain: %.0f m\n", *a.ElevationGainM)
	}
	if a.AverageCadence != nil {
		fmt.Fprintf(&b, "Average cadence: %.0f\n", *a.AverageCadence)
	}

	if len(a.Splits) > 0 {
		b.WriteString("\nKilometer splits:\n")
		for _, s := range a.Splits {
			fmt.Fprintf(&b, "  %d: %.2f km", s.SplitIndex, s.DistanceM/1000)
			if s.PaceSecPerKm != nil {
				fmt.Fprintf(&b, " at %s/km", formatPace(*s.PaceSecPerKm))
			}
			if s.AverageHeartRate != nil {
				fmt.Fprintf(&b, ", %.0f bpm", *s.AverageHeartRate)
			}
			if s.ElevationDiffM != nil {
				fmt.Fprintf(&b, ", %+.0f m elevation", *s.ElevationDiffM)
			}
			b.WriteString("\n")
		}
	}

	if len(a.HeartRateZones) > 0 {
		b.WriteString("\nTime in heart rate zones:\n")
		for _, z := range a.HeartRateZones {
			fmt.Fprintf(&b, "  %s: %s", z.Label, formatDuration(int(z.TimeS)))
			if z.Percentage != nil {
				fmt.Fprintf(&b, " (%.0f%%)", *z.Percentage*100)
			}
			b.WriteString("\n")
		}
	}

	if plan != nil {
		fmt.Fprintf(&b, "\nPlanned workout for this day:\n%s\n", plan.Content)
	} else {
		b.WriteString("\nNo workout was planned for this day.\n")
	}

	return b.String()
}

func formatPace(secPerKm float64) string {
	total := int(secPerKm + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func formatDuration(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
