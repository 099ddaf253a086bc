package auth

import (
	"context"
	"errors"
	"fmt"

	"rundash/internal/store"
)

// ErrNotAuthenticated reports that no usable credentials are stored; the
// user has to run the authorization flow.
var ErrNotAuthenticated = errors.New("not authenticated: run with --force-reauth to authorize")

// Storage persists provider credentials in the dashboard database.
type Storage struct {
	store *store.Store
}

// NewStorage creates credential storage over the given store.
func NewStorage(st *store.Store) *Storage {
	return &Storage{store: st}
}

// SaveFullConfig stores client credentials and tokens together, replacing
// any previous record.
func (s *Storage) SaveFullConfig(ctx context.Context, clientID, clientSecret string, tokens *Tokens) error {
	return s.store.SaveAuthConfig(ctx, &store.AuthConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AccessToken:  &tokens.AccessToken,
		RefreshToken: &tokens.RefreshToken,
		ExpiresAt:    &tokens.ExpiresAt,
	})
}

// SaveTokens updates just the token fields, preserving client credentials.
func (s *Storage) SaveTokens(ctx context.Context, tokens *Tokens) error {
	err := s.store.UpdateTokens(ctx, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotAuthenticated
	}
	return err
}

// LoadTokens returns the stored token triple, or ErrNotAuthenticated.
func (s *Storage) LoadTokens(ctx context.Context) (*Tokens, error) {
	config, err := s.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if config.AccessToken == nil || config.RefreshToken == nil || config.ExpiresAt == nil {
		return nil, ErrNotAuthenticated
	}
	return &Tokens{
		AccessToken:  *config.AccessToken,
		RefreshToken: *config.RefreshToken,
		ExpiresAt:    *config.ExpiresAt,
	}, nil
}

// HasCredentials reports whether a complete credential record exists.
func (s *Storage) HasCredentials(ctx context.Context) bool {
	_, err := s.LoadTokens(ctx)
	return err == nil
}

// Clear removes the stored credential record.
func (s *Storage) Clear(ctx context.Context) error {
	return s.store.DeleteAuthConfig(ctx)
}

// GetValidAccessToken returns a usable access token, refreshing and
// persisting a new one when the stored token is expired.
func (s *Storage) GetValidAccessToken(ctx context.Context) (string, error) {
	tokens, err := s.LoadTokens(ctx)
	if err != nil {
		return "", err
	}
	if !IsTokenExpired(tokens.ExpiresAt) {
		return tokens.AccessToken, nil
	}

	config, err := s.loadConfig(ctx)
	if err != nil {
		return "", err
	}
	fresh, err := RefreshAccessToken(ctx, config.ClientID, config.ClientSecret, tokens.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.SaveTokens(ctx, fresh); err != nil {
		return "", fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	return fresh.AccessToken, nil
}

func (s *Storage) loadConfig(ctx context.Context) (*store.AuthConfig, error) {
	config, err := s.store.GetAuthConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}
	return config, nil
}
