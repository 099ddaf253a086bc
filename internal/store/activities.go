package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"rundash/internal/units"
)

// UpsertOutcome reports whether an upsert created a new row or refreshed an
// existing one.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// paceExpr is the computed sort key for pace; NULL when distance is zero so
// pace-less activities sort last.
const paceExpr = "CASE WHEN distance_m > 0 THEN moving_time_s * 1000.0 / distance_m END"

const activityColumns = `external_id, name, device_name, start_date, start_date_local,
	distance_m, moving_time_s, elapsed_time_s, elevation_gain_m,
	average_speed_mps, max_speed_mps, average_heart_rate, max_heart_rate,
	average_cadence, calories, suffer_score, summary_polyline, full_polyline,
	hr_zones, trend_points`

// UpsertRunActivity atomically writes the activity row and replaces its
// entire split set. Re-ingesting the same external ID never duplicates the
// row; a mid-operation failure rolls everything back so no half-updated
// activity is ever observable.
func (s *Store) UpsertRunActivity(ctx context.Context, a *Activity) (UpsertOutcome, error) {
	if a.ExternalID == 0 {
		return "", fmt.Errorf("activity has no external id")
	}
	if a.StartDate.IsZero() {
		return "", fmt.Errorf("activity %d has no start date", a.ExternalID)
	}

	zonesJSON, err := marshalSubDoc(a.HeartRateZones)
	if err != nil {
		return "", fmt.Errorf("marshaling heart rate zones: %w", err)
	}
	trendJSON, err := marshalSubDoc(a.TrendPoints)
	if err != nil {
		return "", fmt.Errorf("marshaling trend points: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM activities WHERE external_id = ?", a.ExternalID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checking existing activity: %w", err)
	}
	outcome := OutcomeUpdated
	if errors.Is(err, sql.ErrNoRows) {
		outcome = OutcomeCreated
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO activities (
			external_id, name, device_name, start_date, start_date_local,
			distance_m, moving_time_s, elapsed_time_s, elevation_gain_m,
			average_speed_mps, max_speed_mps, average_heart_rate, max_heart_rate,
			average_cadence, calories, suffer_score, summary_polyline, full_polyline,
			hr_zones, trend_points, raw_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			device_name = excluded.device_name,
			start_date = excluded.start_date,
			start_date_local = excluded.start_date_local,
			distance_m = excluded.distance_m,
			moving_time_s = excluded.moving_time_s,
			elapsed_time_s = excluded.elapsed_time_s,
			elevation_gain_m = excluded.elevation_gain_m,
			average_speed_mps = excluded.average_speed_mps,
			max_speed_mps = excluded.max_speed_mps,
			average_heart_rate = excluded.average_heart_rate,
			max_heart_rate = excluded.max_heart_rate,
			average_cadence = excluded.average_cadence,
			calories = excluded.calories,
			suffer_score = excluded.suffer_score,
			summary_polyline = excluded.summary_polyline,
			full_polyline = excluded.full_polyline,
			hr_zones = excluded.hr_zones,
			trend_points = excluded.trend_points,
			raw_json = excluded.raw_json,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`,
		a.ExternalID, a.Name, a.DeviceName,
		a.StartDate.UTC().Format(time.RFC3339), a.StartDateLocal,
		a.DistanceM, a.MovingTimeS, a.ElapsedTimeS, a.ElevationGainM,
		a.AverageSpeedMps, a.MaxSpeedMps, a.AverageHeartRate, a.MaxHeartRate,
		a.AverageCadence, a.Calories, a.SufferScore, a.SummaryPolyline, a.FullPolyline,
		zonesJSON, trendJSON, nullableBytes(a.RawJSON),
	)
	if err != nil {
		return "", fmt.Errorf("writing activity %d: %w", a.ExternalID, err)
	}

	// Splits are always deleted and reinserted, never partially updated.
	if _, err := tx.ExecContext(ctx, "DELETE FROM activity_splits WHERE activity_external_id = ?", a.ExternalID); err != nil {
		return "", fmt.Errorf("deleting splits for %d: %w", a.ExternalID, err)
	}
	for _, sp := range a.Splits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activity_splits (
				activity_external_id, split_index, distance_m, moving_time_s,
				elapsed_time_s, elevation_diff_m, average_speed_mps,
				average_heart_rate, average_cadence, calories, pace_sec_per_km
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ExternalID, sp.SplitIndex, sp.DistanceM, sp.MovingTimeS,
			sp.ElapsedTimeS, sp.ElevationDiffM, sp.AverageSpeedMps,
			sp.AverageHeartRate, sp.AverageCadence, sp.Calories, sp.PaceSecPerKm,
		)
		if err != nil {
			return "", fmt.Errorf("inserting split %d of activity %d: %w", sp.SplitIndex, a.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing activity %d: %w", a.ExternalID, err)
	}
	return outcome, nil
}

// GetActivityByID returns the full activity including splits, or ErrNotFound.
func (s *Store) GetActivityByID(ctx context.Context, externalID int64) (*Activity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+activityColumns+" FROM activities WHERE external_id = ?", externalID)

	a, err := scanActivity(row)
	if err != nil {
		return nil, err
	}

	splits, err := s.getSplits(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("loading splits for %d: %w", externalID, err)
	}
	a.Splits = splits
	return a, nil
}

// LatestActivityStart returns the start instant of the most recently started
// stored activity, or the zero time when the store is empty.
func (s *Store) LatestActivityStart(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(start_date) FROM activities").Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest start: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing latest start %q: %w", raw.String, err)
	}
	return t, nil
}

// ListActivities returns one page of activities matching the query. Page
// size is clamped to 100; ties on the primary sort key break by start time
// descending so ordering is stable across pages.
func (s *Store) ListActivities(ctx context.Context, q ListQuery) (*ListResult, error) {
	lower, upper, err := s.rangeBounds(q.Range)
	if err != nil {
		return nil, err
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
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities"+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting activities: %w", err)
	}

	dir := "DESC"
	if q.SortAsc {
		dir = "ASC"
	}
	var orderClause string
	switch q.SortBy {
	case SortByDistance:
		orderClause = "distance_m " + dir + ", start_date DESC"
	case SortByPace:
		// NULL paces (zero distance) always sort last
		orderClause = paceExpr + " IS NULL, " + paceExpr + " " + dir + ", start_date DESC"
	case SortByStartTime, "":
		orderClause = "start_date " + dir
	default:
		return nil, fmt.Errorf("invalid sort key %q", q.SortBy)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := "SELECT " + activityColumns + " FROM activities" + whereClause +
		" ORDER BY " + orderClause + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	items := []Activity{}
	for rows.Next() {
		a, err := scanActivityRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListResult{Page: page, PageSize: pageSize, Total: total, Items: items}, nil
}

func (s *Store) getSplits(ctx context.Context, externalID int64) ([]Split, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT split_index, distance_m, moving_time_s, elapsed_time_s,
			elevation_diff_m, average_speed_mps, average_heart_rate,
			average_cadence, calories, pace_sec_per_km
		FROM activity_splits
		WHERE activity_external_id = ?
		ORDER BY split_index
	`, externalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var splits []Split
	for rows.Next() {
		var sp Split
		var elevDiff, avgSpeed, avgHR, avgCad, cal, pace sql.NullFloat64
		err := rows.Scan(&sp.SplitIndex, &sp.DistanceM, &sp.MovingTimeS, &sp.ElapsedTimeS,
			&elevDiff, &avgSpeed, &avgHR, &avgCad, &cal, &pace)
		if err != nil {
			return nil, err
		}
		sp.ElevationDiffM = nullableFloat(elevDiff)
		sp.AverageSpeedMps = nullableFloat(avgSpeed)
		sp.AverageHeartRate = nullableFloat(avgHR)
		sp.AverageCadence = nullableFloat(avgCad)
		sp.Calories = nullableFloat(cal)
		sp.PaceSecPerKm = nullableFloat(pace)
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row *sql.Row) (*Activity, error) {
	a, err := scanActivityFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanActivityRows(rows *sql.Rows) (*Activity, error) {
	return scanActivityFrom(rows)
}

func scanActivityFrom(r rowScanner) (*Activity, error) {
	var a Activity
	var startDate string
	var deviceName, summaryPolyline, fullPolyline, zonesJSON, trendJSON sql.NullString
	var elevGain, avgSpeed, maxSpeed, avgHR, maxHR, avgCad, cal, suffer sql.NullFloat64

	err := r.Scan(
		&a.ExternalID, &a.Name, &deviceName, &startDate, &a.StartDateLocal,
		&a.DistanceM, &a.MovingTimeS, &a.ElapsedTimeS, &elevGain,
		&avgSpeed, &maxSpeed, &avgHR, &maxHR,
		&avgCad, &cal, &suffer, &summaryPolyline, &fullPolyline,
		&zonesJSON, &trendJSON,
	)
	if err != nil {
		return nil, err
	}

	a.StartDate, err = time.Parse(time.RFC3339, startDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start_date %q: %w", startDate, err)
	}
	a.DeviceName = nullableString(deviceName)
	a.ElevationGainM = nullableFloat(elevGain)
	a.AverageSpeedMps = nullableFloat(avgSpeed)
	a.MaxSpeedMps = nullableFloat(maxSpeed)
	a.AverageHeartRate = nullableFloat(avgHR)
	a.MaxHeartRate = nullableFloat(maxHR)
	a.AverageCadence = nullableFloat(avgCad)
	a.Calories = nullableFloat(cal)
	a.SufferScore = nullableFloat(suffer)
	a.SummaryPolyline = nullableString(summaryPolyline)
	a.FullPolyline = nullableString(fullPolyline)

	if zonesJSON.Valid && zonesJSON.String != "" {
		if err := json.Unmarshal([]byte(zonesJSON.String), &a.HeartRateZones); err != nil {
			return nil, fmt.Errorf("unmarshaling heart rate zones for %d: %w", a.ExternalID, err)
		}
	}
	if trendJSON.Valid && trendJSON.String != "" {
		if err := json.Unmarshal([]byte(trendJSON.String), &a.TrendPoints); err != nil {
			return nil, fmt.Errorf("unmarshaling trend points for %d: %w", a.ExternalID, err)
		}
	}

	// Pace is derived, never stored.
	a.PaceSecPerKm = units.PaceFromDistanceAndTime(a.DistanceM, float64(a.MovingTimeS))
	return &a, nil
}

func marshalSubDoc(v any) (*string, error) {
	switch val := v.(type) {
	case []HeartRateZone:
		if len(val) == 0 {
			return nil, nil
		}
	case []TrendPoint:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullableBytes(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
