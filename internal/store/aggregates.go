package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"rundash/internal/units"
)

// GetSummary aggregates all activities in the (optional) range. Average pace
// comes from the summed distance and summed time so short outlier runs do
// not dominate; best pace is the minimum of per-activity average paces.
func (s *Store) GetSummary(ctx context.Context, r DateRange) (*SummaryMetrics, error) {
	whereClause, args, err := s.rangeWhere(r)
	if err != nil {
		return nil, err
	}

	var (
		count                  int
		distance, elevation    sql.NullFloat64
		movingTime             sql.NullInt64
		bestPace, avgHeartRate sql.NullFloat64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(distance_m),
			SUM(moving_time_s),
			SUM(COALESCE(elevation_gain_m, 0)),
			MIN(`+paceExpr+`),
			AVG(average_heart_rate)
		FROM activities`+whereClause, args...).
		Scan(&count, &distance, &movingTime, &elevation, &bestPace, &avgHeartRate)
	if err != nil {
		return nil, fmt.Errorf("aggregating summary: %w", err)
	}

	m := &SummaryMetrics{
		TotalRuns:          count,
		TotalDistanceM:     distance.Float64,
		TotalMovingTimeS:   int(movingTime.Int64),
		TotalElevationGain: elevation.Float64,
		BestPaceSecPerKm:   nullableFloat(bestPace),
		AverageHeartRate:   nullableFloat(avgHeartRate),
	}
	m.AveragePaceSecPerKm = units.PaceFromDistanceAndTime(m.TotalDistanceM, float64(m.TotalMovingTimeS))
	return m, nil
}

// GetWeeklyTrends groups activities in the range by Monday-anchored week
// start, ascending. Weekly pace uses the same summed-distance/summed-time
// rule as the overall summary.
func (s *Store) GetWeeklyTrends(ctx context.Context, r DateRange) ([]WeeklyTrendPoint, error) {
	whereClause, args, err := s.rangeWhere(r)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT start_date, distance_m, moving_time_s FROM activities"+whereClause, args...)
	if err != nil {
		return nil, fmt.Errorf("querying weekly trends: %w", err)
	}
	defer rows.Close()

	byWeek := make(map[string]*WeeklyTrendPoint)
	for rows.Next() {
		var startDate string
		var distance float64
		var movingTime int
		if err := rows.Scan(&startDate, &distance, &movingTime); err != nil {
			return nil, err
		}
		start, err := time.Parse(time.RFC3339, startDate)
		if err != nil {
			return nil, fmt.Errorf("parsing start_date %q: %w", startDate, err)
		}

		week := units.WeekStart(start, s.loc)
		p, ok := byWeek[week]
		if !ok {
			p = &WeeklyTrendPoint{WeekStart: week}
			byWeek[week] = p
		}
		p.TotalDistanceM += distance
		p.TotalTimeS += movingTime
		p.RunCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trends := make([]WeeklyTrendPoint, 0, len(byWeek))
	for _, p := range byWeek {
		p.PaceSecPerKm = units.PaceFromDistanceAndTime(p.TotalDistanceM, float64(p.TotalTimeS))
		trends = append(trends, *p)
	}
	sort.Slice(trends, func(i, j int) bool {
		return trends[i].WeekStart < trends[j].WeekStart
	})
	return trends, nil
}

// GetCalendarFilterOptions returns the distinct years, and months per year,
// that actually contain activities, evaluated in the fixed timezone.
func (s *Store) GetCalendarFilterOptions(ctx context.Context) (*CalendarFilterOptions, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT start_date FROM activities")
	if err != nil {
		return nil, fmt.Errorf("querying activity dates: %w", err)
	}
	defer rows.Close()

	monthSets := make(map[int]map[int]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing start_date %q: %w", raw, err)
		}
		local := start.In(s.loc)
		year, month := local.Year(), int(local.Month())
		if monthSets[year] == nil {
			monthSets[year] = make(map[int]bool)
		}
		monthSets[year][month] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	opts := &CalendarFilterOptions{MonthsByYear: make(map[int][]int)}
	for year, months := range monthSets {
		opts.Years = append(opts.Years, year)
		for m := range months {
			opts.MonthsByYear[year] = append(opts.MonthsByYear[year], m)
		}
		sort.Ints(opts.MonthsByYear[year])
	}
	sort.Sort(sort.Reverse(sort.IntSlice(opts.Years)))
	return opts, nil
}

func (s *Store) rangeWhere(r DateRange) (string, []any, error) {
	lower, upper, err := s.rangeBounds(r)
	if err != nil {
		return "", nil, err
	}
	var where []string
	var args []any
	if lower != "" {
		where = append(where, "start_date >= ?")
		args = append(args, lower)
	}
	if upper != "" {
		where = append(where, "start_date < ?")
		args = append(args, upper)
	}
	if len(where) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(where, " AND "), args, nil
}
