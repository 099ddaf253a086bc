// Package auth handles the provider OAuth flow and credential persistence.
// The browser-based authorization runs once; afterwards tokens refresh
// silently from the stored refresh token.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"rundash/internal/logging"
)

const (
	authorizeURL = "https://www.strava.com/oauth/authorize"
	tokenURL     = "https://www.strava.com/oauth/token"
	redirectURI  = "http://localhost:8089/callback"
	scope        = "activity:read_all"

	callbackAddr    = ":8089"
	authorizeWindow = 5 * time.Minute

	// refresh this long before actual expiry so an in-flight sync never
	// races token expiration
	expirySlack = 5 * time.Minute
)

// OAuthConfig returns the oauth2 configuration for the activity provider.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authorizeURL,
			TokenURL: tokenURL,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{scope},
	}
}

// Tokens is the stored token triple.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

func tokensFromOAuth2(token *oauth2.Token) *Tokens {
	return &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
	}
}

// Authenticate runs the browser authorization flow: start a loopback
// callback server, open the authorize URL, wait for the code, exchange it
// for tokens.
func Authenticate(ctx context.Context, clientID, clientSecret string) (*Tokens, error) {
	config := OAuthConfig(clientID, clientSecret)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{Addr: callbackAddr, Handler: mux}
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			reason := r.URL.Query().Get("error")
			if reason == "" {
				reason = "no authorization code received"
			}
			http.Error(w, reason, http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization failed: %s", reason)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Authorization successful</h1><p>You can close this window.</p></body></html>`)
		codeChan <- code
	})

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- fmt.Errorf("callback server: %w", err)
		}
	}()
	defer server.Shutdown(ctx)

	url := config.AuthCodeURL("rundash-auth", oauth2.SetAuthURLParam("approval_prompt", "force"))
	logging.Info("opening browser for provider authorization", "url", url)
	if err := browser.OpenURL(url); err != nil {
		logging.Warn("could not open browser, visit the URL manually", "url", url, "error", err.Error())
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(authorizeWindow):
		return nil, fmt.Errorf("authorization timed out after %s", authorizeWindow)
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tokensFromOAuth2(token), nil
}

// RefreshAccessToken mints a fresh access token from a refresh token.
func RefreshAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*Tokens, error) {
	config := OAuthConfig(clientID, clientSecret)

	// an already-expired token forces the source to refresh
	stale := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	token, err := config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}
	return tokensFromOAuth2(token), nil
}

// IsTokenExpired reports whether the token is expired or inside the refresh
// slack window.
func IsTokenExpired(expiresAt int64) bool {
	return time.Now().Add(expirySlack).Unix() > expiresAt
}
