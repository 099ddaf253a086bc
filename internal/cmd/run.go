package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rundash/internal/ai"
	"rundash/internal/analysis"
	"rundash/internal/api"
	"rundash/internal/auth"
	"rundash/internal/logging"
	"rundash/internal/store"
	"rundash/internal/strava"
	"rundash/internal/sync"
	"rundash/internal/units"
)

// RuntimeConfig holds all runtime configuration from CLI flags.
type RuntimeConfig struct {
	DBPath       string
	HTTPPort     int
	TZOffset     int
	SyncInterval time.Duration
	NoSync       bool
	ForceReauth  bool
	AIAPIKey     string
	AIBaseURL    string
	AIModel      string
}

// Run is the main entry point for the unified run mode.
func Run(cfg *RuntimeConfig) error {
	log := logging.Logger

	log.Info().
		Str("db_path", cfg.DBPath).
		Int("http_port", cfg.HTTPPort).
		Int("tz_offset", cfg.TZOffset).
		Bool("no_sync", cfg.NoSync).
		Dur("sync_interval", cfg.SyncInterval).
		Msg("starting rundash")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	loc := units.FixedZone(cfg.TZOffset)

	st, err := store.Open(ctx, cfg.DBPath, loc)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var syncSvc *sync.Service
	g, gCtx := errgroup.WithContext(ctx)

	if !cfg.NoSync {
		storage := auth.NewStorage(st)
		if err := ensureAuthenticated(ctx, storage, cfg.ForceReauth); err != nil {
			return fmt.Errorf("authentication: %w", err)
		}

		client := strava.NewClient("", strava.WithTokenSource(storage.GetValidAccessToken))
		syncSvc = sync.NewService(client, st, loc)

		g.Go(func() error {
			runSyncWorker(gCtx, syncSvc, cfg.SyncInterval)
			return nil
		})
	} else {
		log.Info().Msg("running in offline mode (--no-sync), skipping provider sync")
		syncSvc = sync.NewService(offlineFetcher{}, st, loc)
	}

	generator := ai.NewClient(cfg.AIAPIKey, aiOptions(cfg)...)
	if !generator.Configured() {
		log.Info().Msg("no AI API key configured, run analysis disabled")
	}
	analysisSvc := analysis.NewService(st, generator, loc)

	server := api.NewServer(st, analysisSvc, syncSvc)
	serverErr := runHTTPServer(ctx, server.Router(), cfg.HTTPPort)

	log.Info().Msg("waiting for workers to shut down")
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("worker error during shutdown")
	}
	return serverErr
}

// offlineFetcher backs the sync surface in --no-sync mode: triggering a
// sync fails cleanly instead of reaching the provider.
type offlineFetcher struct{}

var errOffline = errors.New("sync disabled (--no-sync)")

func (offlineFetcher) FetchActivityPage(context.Context, int, int64) ([]strava.SummaryActivity, error) {
	return nil, errOffline
}

func (offlineFetcher) FetchActivityDetail(context.Context, int64) (*strava.DetailedActivity, []byte, error) {
	return nil, nil, errOffline
}

func (offlineFetcher) FetchActivityZones(context.Context, int64) ([]strava.ActivityZone, error) {
	return nil, errOffline
}

func (offlineFetcher) FetchActivityStreams(context.Context, int64) ([]byte, error) {
	return nil, errOffline
}

func aiOptions(cfg *RuntimeConfig) []ai.Option {
	var opts []ai.Option
	if cfg.AIBaseURL != "" {
		opts = append(opts, ai.WithBaseURL(cfg.AIBaseURL))
	}
	if cfg.AIModel != "" {
		opts = append(opts, ai.WithModel(cfg.AIModel))
	}
	return opts
}

// runSyncWorker runs one sync immediately, then one per interval. Batches
// rejected by the single-flight guard (a manual sync is running) are skipped,
// not queued.
func runSyncWorker(ctx context.Context, svc *sync.Service, interval time.Duration) {
	log := logging.Logger

	syncOnce := func() {
		result, err := svc.Run(ctx, sync.Options{})
		switch {
		case errors.Is(err, sync.ErrSyncInProgress):
			log.Debug().Msg("skipping scheduled sync, one is already running")
		case err != nil:
			log.Warn().Err(err).Msg("scheduled sync failed")
		default:
			log.Info().
				Int("created", result.Created).
				Int("updated", result.Updated).
				Int("failed", result.Failed).
				Msg("scheduled sync finished")
		}
	}

	syncOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("sync worker stopping")
			return
		case <-ticker.C:
			syncOnce()
		}
	}
}

// ensureAuthenticated makes sure usable credentials exist, prompting for
// client credentials and running the browser OAuth flow when they do not.
func ensureAuthenticated(ctx context.Context, storage *auth.Storage, forceReauth bool) error {
	log := logging.Logger

	if forceReauth {
		log.Info().Msg("force re-authentication requested, clearing stored credentials")
		if err := storage.Clear(ctx); err != nil {
			return fmt.Errorf("clearing credentials: %w", err)
		}
	}

	if !forceReauth {
		if _, err := storage.GetValidAccessToken(ctx); err == nil {
			log.Info().Msg("using existing authentication")
			return nil
		} else if !errors.Is(err, auth.ErrNotAuthenticated) {
			log.Warn().Err(err).Msg("stored token unusable, re-authentication required")
		}
	}

	clientID, clientSecret, err := promptForCredentials()
	if err != nil {
		return err
	}

	tokens, err := auth.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}
	if err := storage.SaveFullConfig(ctx, clientID, clientSecret, tokens); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	log.Info().
		Str("expires_at", time.Unix(tokens.ExpiresAt, 0).Format(time.RFC3339)).
		Msg("authentication successful")
	return nil
}

// promptForCredentials reads the provider API client credentials from stdin.
func promptForCredentials() (clientID, clientSecret string, err error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("\n=== Provider API Credentials Required ===")
	fmt.Println("Get your API credentials from: https://www.strava.com/settings/api")
	fmt.Println()

	fmt.Print("Enter your Client ID: ")
	clientID, err = reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("reading client ID: %w", err)
	}
	if clientID = strings.TrimSpace(clientID); clientID == "" {
		return "", "", fmt.Errorf("client ID is required")
	}

	fmt.Print("Enter your Client Secret: ")
	clientSecret, err = reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("reading client secret: %w", err)
	}
	if clientSecret = strings.TrimSpace(clientSecret); clientSecret == "" {
		return "", "", fmt.Errorf("client secret is required")
	}

	return clientID, clientSecret, nil
}

// runHTTPServer serves the API until the context is cancelled.
func runHTTPServer(ctx context.Context, handler http.Handler, port int) error {
	log := logging.Logger

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Str("endpoint", fmt.Sprintf("http://localhost%s/api", addr)).
			Msg("HTTP API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
