package store

import (
	"context"
	"fmt"

	"rundash/internal/units"
)

// GetDailySummary derives the training-calendar view for one month: one
// entry per calendar date (respecting days-in-month and leap years), each
// joining that day's plan and activities with a completion status.
//
// Plans and activities are fetched in one batch each and joined in memory;
// a per-day query loop would be O(days) round trips for no benefit.
func (s *Store) GetDailySummary(ctx context.Context, year, month int) ([]DailySummary, error) {
	if year < 1 || year > 9999 {
		return nil, fmt.Errorf("invalid year %d", year)
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month %d", month)
	}

	days := units.DaysInMonth(year, month)
	from := fmt.Sprintf("%04d-%02d-01", year, month)
	to := fmt.Sprintf("%04d-%02d-%02d", year, month, days)

	plans, err := s.GetTrainingPlansByRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading plans: %w", err)
	}
	plansByDate := make(map[string]*TrainingPlan, len(plans))
	for i := range plans {
		plansByDate[plans[i].Date] = &plans[i]
	}

	activities, err := s.activitiesInRange(ctx, DateRange{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("loading activities: %w", err)
	}
	activitiesByDate := make(map[string][]Activity)
	for _, a := range activities {
		day := units.ToCalendarDate(a.StartDate, s.loc)
		activitiesByDate[day] = append(activitiesByDate[day], a)
	}

	summaries := make([]DailySummary, 0, days)
	for day := 1; day <= days; day++ {
		date := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		entry := DailySummary{
			Date:       date,
			Plan:       plansByDate[date],
			Activities: activitiesByDate[date],
		}
		if entry.Activities == nil {
			entry.Activities = []Activity{}
		}

		switch {
		case entry.Plan == nil:
			entry.Status = StatusNoPlan
		case len(entry.Activities) > 0:
			entry.Status = StatusCompleted
		default:
			entry.Status = StatusMissed
		}
		summaries = append(summaries, entry)
	}
	return summaries, nil
}

func (s *Store) activitiesInRange(ctx context.Context, r DateRange) ([]Activity, error) {
	whereClause, args, err := s.rangeWhere(r)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+activityColumns+" FROM activities"+whereClause+" ORDER BY start_date", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		a, err := scanActivityRows(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}
