package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AuthConfig is the single-row provider credential record: API client
// credentials plus the current token set.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  *string
	RefreshToken *string
	ExpiresAt    *int64
}

// GetAuthConfig returns the stored credential record, or ErrNotFound when
// the user has never authenticated.
func (s *Store) GetAuthConfig(ctx context.Context) (*AuthConfig, error) {
	var c AuthConfig
	var access, refresh sql.NullString
	var expires sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, client_secret, access_token, refresh_token, expires_at
		FROM auth_config WHERE id = 1
	`).Scan(&c.ClientID, &c.ClientSecret, &access, &refresh, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying auth config: %w", err)
	}
	c.AccessToken = nullableString(access)
	c.RefreshToken = nullableString(refresh)
	if expires.Valid {
		v := expires.Int64
		c.ExpiresAt = &v
	}
	return &c, nil
}

// SaveAuthConfig writes the full credential record, replacing any previous
// one.
func (s *Store) SaveAuthConfig(ctx context.Context, c *AuthConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_config (id, client_id, client_secret, access_token, refresh_token, expires_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at
	`, c.ClientID, c.ClientSecret, c.AccessToken, c.RefreshToken, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("saving auth config: %w", err)
	}
	return nil
}

// UpdateTokens refreshes just the token fields, preserving the client
// credentials. Fails with ErrNotFound when no config row exists yet.
func (s *Store) UpdateTokens(ctx context.Context, accessToken, refreshToken string, expiresAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_config
		SET access_token = ?, refresh_token = ?, expires_at = ?
		WHERE id = 1
	`, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAuthConfig removes the stored credentials (used by forced
// re-authentication).
func (s *Store) DeleteAuthConfig(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_config WHERE id = 1"); err != nil {
		return fmt.Errorf("deleting auth config: %w", err)
	}
	return nil
}
