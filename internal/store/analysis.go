package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetActivityAnalysis returns the cached generated feedback for an activity,
// or ErrNotFound when none has been generated.
func (s *Store) GetActivityAnalysis(ctx context.Context, externalID int64) (*ActivityAnalysis, error) {
	var a ActivityAnalysis
	var generatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT activity_external_id, content, generated_at
		FROM activity_analyses
		WHERE activity_external_id = ?
	`, externalID).Scan(&a.ActivityExternalID, &a.Content, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying analysis for %d: %w", externalID, err)
	}
	if a.GeneratedAt, err = parseStoredTime(generatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveActivityAnalysis stores generated feedback for an activity, replacing
// any previous generation. At most one row exists per activity.
func (s *Store) SaveActivityAnalysis(ctx context.Context, externalID int64, content string) (*ActivityAnalysis, error) {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_analyses (activity_external_id, content, generated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(activity_external_id) DO UPDATE SET
			content = excluded.content,
			generated_at = excluded.generated_at
	`, externalID, content, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("saving analysis for %d: %w", externalID, err)
	}
	return &ActivityAnalysis{
		ActivityExternalID: externalID,
		Content:            content,
		GeneratedAt:        now,
	}, nil
}
