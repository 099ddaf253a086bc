package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rundash/internal/units"
)

const planColumns = "id, plan_date, content, created_at, updated_at"

// CreateTrainingPlan creates the plan for a date. The date is a uniqueness
// key: a second plan for an already-used date reports ErrPlanExists and
// leaves the first untouched.
func (s *Store) CreateTrainingPlan(ctx context.Context, date, content string) (*TrainingPlan, error) {
	if err := validatePlanDate(date); err != nil {
		return nil, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM training_plans WHERE plan_date = ?", date).Scan(&exists)
	if err == nil {
		return nil, ErrPlanExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking existing plan: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO training_plans (plan_date, content) VALUES (?, ?)", date, content)
	if err != nil {
		return nil, fmt.Errorf("creating plan for %s: %w", date, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.getPlanByID(ctx, id)
}

// GetTrainingPlanByDate returns the plan for a date, or ErrNotFound.
func (s *Store) GetTrainingPlanByDate(ctx context.Context, date string) (*TrainingPlan, error) {
	if err := validatePlanDate(date); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+planColumns+" FROM training_plans WHERE plan_date = ?", date)
	return scanPlan(row)
}

// UpdateTrainingPlan replaces the content of an existing plan in place.
// Returns ErrNotFound when no plan exists for the date.
func (s *Store) UpdateTrainingPlan(ctx context.Context, date, content string) (*TrainingPlan, error) {
	if err := validatePlanDate(date); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE training_plans
		SET content = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE plan_date = ?
	`, content, date)
	if err != nil {
		return nil, fmt.Errorf("updating plan for %s: %w", date, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetTrainingPlanByDate(ctx, date)
}

// DeleteTrainingPlan removes the plan for a date. Deleting a non-existent
// plan is not an error; the bool reports whether a row was removed.
func (s *Store) DeleteTrainingPlan(ctx context.Context, date string) (bool, error) {
	if err := validatePlanDate(date); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM training_plans WHERE plan_date = ?", date)
	if err != nil {
		return false, fmt.Errorf("deleting plan for %s: %w", date, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetTrainingPlansByRange returns all plans with dates in [from, to]
// inclusive, ascending by date.
func (s *Store) GetTrainingPlansByRange(ctx context.Context, from, to string) ([]TrainingPlan, error) {
	if err := validatePlanDate(from); err != nil {
		return nil, err
	}
	if err := validatePlanDate(to); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM training_plans
		WHERE plan_date >= ? AND plan_date <= ?
		ORDER BY plan_date
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var plans []TrainingPlan
	for rows.Next() {
		var p TrainingPlan
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Date, &p.Content, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseStoredTime(createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *Store) getPlanByID(ctx context.Context, id int64) (*TrainingPlan, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+planColumns+" FROM training_plans WHERE id = ?", id)
	return scanPlan(row)
}

func scanPlan(row *sql.Row) (*TrainingPlan, error) {
	var p TrainingPlan
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Date, &p.Content, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func parseStoredTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", raw, err)
	}
	return t, nil
}

func validatePlanDate(date string) error {
	if _, err := time.Parse(units.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}
	return nil
}
