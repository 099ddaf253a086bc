package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rundash/internal/store"
	"rundash/internal/units"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), units.FixedZone(8))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestIsTokenExpired(t *testing.T) {
	now := time.Now().Unix()
	tests := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{"long valid", now + 3600, false},
		{"already expired", now - 60, true},
		{"inside slack window", now + 60, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsTokenExpired(%d) = %v, want %v", tt.expiresAt, got, tt.want)
			}
		})
	}
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(openTestStore(t))

	if storage.HasCredentials(ctx) {
		t.Fatal("fresh database must have no credentials")
	}
	if _, err := storage.LoadTokens(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	tokens := &Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
	if err := storage.SaveFullConfig(ctx, "client-id", "client-secret", tokens); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	loaded, err := storage.LoadTokens(ctx)
	if err != nil {
		t.Fatalf("loading tokens: %v", err)
	}
	if loaded.AccessToken != "access-1" || loaded.RefreshToken != "refresh-1" {
		t.Errorf("unexpected tokens %+v", loaded)
	}
	if !storage.HasCredentials(ctx) {
		t.Error("credentials should exist after save")
	}
}

func TestSaveTokensRequiresExistingConfig(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(openTestStore(t))

	err := storage.SaveTokens(ctx, &Tokens{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSaveTokensPreservesClientCredentials(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	storage := NewStorage(st)

	initial := &Tokens{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: 100}
	if err := storage.SaveFullConfig(ctx, "client-id", "client-secret", initial); err != nil {
		t.Fatal(err)
	}
	if err := storage.SaveTokens(ctx, &Tokens{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: 200}); err != nil {
		t.Fatal(err)
	}

	config, err := st.GetAuthConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if config.ClientID != "client-id" || config.ClientSecret != "client-secret" {
		t.Errorf("client credentials lost: %+v", config)
	}
	if config.AccessToken == nil || *config.AccessToken != "a2" {
		t.Errorf("tokens not updated: %+v", config)
	}
}

func TestGetValidAccessTokenSkipsRefreshWhenFresh(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(openTestStore(t))

	tokens := &Tokens{
		AccessToken:  "still-good",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
	if err := storage.SaveFullConfig(ctx, "id", "secret", tokens); err != nil {
		t.Fatal(err)
	}

	got, err := storage.GetValidAccessToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "still-good" {
		t.Errorf("expected stored token, got %q", got)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(openTestStore(t))

	tokens := &Tokens{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Unix()}
	if err := storage.SaveFullConfig(ctx, "id", "secret", tokens); err != nil {
		t.Fatal(err)
	}
	if err := storage.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if storage.HasCredentials(ctx) {
		t.Error("credentials should be gone after Clear")
	}
}
