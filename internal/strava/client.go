// Package strava is the ingestion client for the external activity
// provider: paginated listing, per-activity detail, zone distributions and
// raw time-series streams, all behind a rate-limit-aware retry policy.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"rundash/internal/logging"
)

const (
	defaultBaseURL = "https://www.strava.com/api/v3"
	perPage        = 100
	requestTimeout = 30 * time.Second
)

// Retry settings. Provider rate windows can force multi-minute waits, so
// the attempt budget is deliberately generous; a persistently failing
// upstream is still bounded by it.
const (
	defaultMaxRetries     = 18
	defaultInitialBackoff = 1 * time.Second
	backoffCeiling        = 60 * time.Second
	windowSafetyMargin    = 3 * time.Second
)

// When the short-window quota drops this low after a successful request,
// the client pauses briefly to smooth bursts across a batch of per-activity
// calls.
const (
	lowQuotaThreshold = 3
	smoothingPause    = 2 * time.Second
)

// RateLimitInfo is the provider quota state parsed from response headers:
// a short (15-minute) window and a daily window, each "usage,limit" pairs.
type RateLimitInfo struct {
	Limit15Min int
	Usage15Min int
	LimitDaily int
	UsageDaily int
}

// Remaining15Min returns the requests left in the short window, or -1 when
// the limit is unknown.
func (r RateLimitInfo) Remaining15Min() int {
	if r.Limit15Min <= 0 {
		return -1
	}
	return r.Limit15Min - r.Usage15Min
}

func (r RateLimitInfo) exhausted15Min() bool {
	return r.Limit15Min > 0 && r.Usage15Min >= r.Limit15Min
}

func (r RateLimitInfo) exhaustedDaily() bool {
	return r.LimitDaily > 0 && r.UsageDaily >= r.LimitDaily
}

// Client talks to the provider API with automatic retry and backoff.
type Client struct {
	httpClient  *retryablehttp.Client
	accessToken string
	tokenSource func(context.Context) (string, error)
	baseURL     string

	rateMu    sync.RWMutex
	rateLimit RateLimitInfo
}

// Option customizes the client (used by tests and the sync worker).
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTokenSource makes the client look up its bearer token per request
// instead of using a static one, so background token refresh takes effect
// without rebuilding the client.
func WithTokenSource(source func(context.Context) (string, error)) Option {
	return func(c *Client) { c.tokenSource = source }
}

// WithRetrySettings overrides the retry budget and backoff bounds.
func WithRetrySettings(maxRetries int, minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = minWait
		c.httpClient.RetryWaitMax = maxWait
	}
}

// NewClient creates a provider API client authenticated with a bearer token.
func NewClient(accessToken string, opts ...Option) *Client {
	log := logging.Logger

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = requestTimeout
	rc.RetryMax = defaultMaxRetries
	rc.RetryWaitMin = defaultInitialBackoff
	rc.RetryWaitMax = backoffCeiling
	rc.Logger = &logging.LeveledLogger{}

	c := &Client{
		httpClient:  rc,
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
	}

	// Retry only upstream transient failures: 429 and 5xx. Everything else
	// in the 4xx range is a terminal answer, not a blip.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return true, nil
		}
		if resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}

	// When the retry budget exhausts, the error must name the upstream
	// status the client kept hitting, not just the attempt count.
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("provider returned status %d for %s, giving up after %d attempts",
				resp.StatusCode, resp.Request.URL.Path, numTries)
		}
		return nil, fmt.Errorf("request failed after %d attempts: %w", numTries, err)
	}

	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		wait := computeBackoff(min, max, attemptNum, resp, time.Now())
		log.Info().
			Dur("wait", wait).
			Int("attempt", attemptNum).
			Msg("backing off before retry")
		return wait
	}

	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, retry int) {
		if retry > 0 {
			log.Info().
				Str("url", req.URL.Path).
				Int("attempt", retry+1).
				Msg("retrying request")
		}
		if logging.IsTraceEnabled() {
			log.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Msg("request")
		}
	}

	rc.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		info := parseRateLimitHeaders(resp.Header)
		if resp.StatusCode == http.StatusTooManyRequests {
			log.Warn().
				Str("url", resp.Request.URL.Path).
				Str("15min_usage", fmt.Sprintf("%d/%d", info.Usage15Min, info.Limit15Min)).
				Str("daily_usage", fmt.Sprintf("%d/%d", info.UsageDaily, info.LimitDaily)).
				Msg("rate limited by provider")
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// computeBackoff selects the retry wait as the maximum of three candidates:
// a server-supplied Retry-After, the wait until the exhausted rate window
// resets (plus a safety margin), and capped exponential backoff from the
// attempt number.
func computeBackoff(min, max time.Duration, attemptNum int, resp *http.Response, now time.Time) time.Duration {
	// capped exponential backoff is always a candidate
	wait := min * time.Duration(1<<uint(attemptNum))
	if wait > max || wait <= 0 {
		wait = max
	}

	if resp == nil {
		return wait
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			if d := time.Duration(seconds) * time.Second; d > wait {
				wait = d
			}
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		info := parseRateLimitHeaders(resp.Header)
		var windowWait time.Duration
		switch {
		case info.exhaustedDaily():
			windowWait = timeUntilMidnightUTC(now)
		case info.exhausted15Min():
			windowWait = timeUntilNext15MinWindow(now)
		default:
			// 429 without parseable quota headers: assume short window
			windowWait = timeUntilNext15MinWindow(now)
		}
		if windowWait > wait {
			wait = windowWait
		}
	}

	return wait
}

// timeUntilNext15MinWindow calculates the wait until the next 15-minute
// boundary (the provider's short-window quota resets at :00, :15, :30, :45).
func timeUntilNext15MinWindow(now time.Time) time.Duration {
	minute := now.Minute()
	intoWindow := time.Duration(minute%15)*time.Minute +
		time.Duration(now.Second())*time.Second +
		time.Duration(now.Nanosecond())*time.Nanosecond
	return 15*time.Minute - intoWindow + windowSafetyMargin
}

// timeUntilMidnightUTC calculates the wait until the daily quota resets at
// the next UTC day boundary.
func timeUntilMidnightUTC(now time.Time) time.Duration {
	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(nowUTC) + windowSafetyMargin
}

// GetRateLimit returns the most recently observed quota state.
func (c *Client) GetRateLimit() RateLimitInfo {
	c.rateMu.RLock()
	defer c.rateMu.RUnlock()
	return c.rateLimit
}

// FetchActivityPage returns one page of activity summaries, page numbers
// starting at 1. An empty page signals the end of the listing. afterEpoch
// restricts to activities started after the given Unix time; pass 0 for no
// lower bound.
func (c *Client) FetchActivityPage(ctx context.Context, page int, afterEpoch int64) ([]SummaryActivity, error) {
	url := fmt.Sprintf("%s/athlete/activities?page=%d&per_page=%d", c.baseURL, page, perPage)
	if afterEpoch > 0 {
		url += fmt.Sprintf("&after=%d", afterEpoch)
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var activities []SummaryActivity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("decoding activity page %d: %w", page, err)
	}
	return activities, nil
}

// FetchActivityDetail returns the decoded detail for one activity together
// with the raw payload, which is persisted opaquely for forward
// compatibility.
func (c *Client) FetchActivityDetail(ctx context.Context, activityID int64) (*DetailedActivity, []byte, error) {
	url := fmt.Sprintf("%s/activities/%d", c.baseURL, activityID)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	var detail DetailedActivity
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, nil, fmt.Errorf("decoding activity %d detail: %w", activityID, err)
	}
	return &detail, body, nil
}

// FetchActivityZones returns the zone distributions for an activity, or nil
// when the provider has none for it (older activities, no HR sensor).
func (c *Client) FetchActivityZones(ctx context.Context, activityID int64) ([]ActivityZone, error) {
	url := fmt.Sprintf("%s/activities/%d/zones", c.baseURL, activityID)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var zones []ActivityZone
	if err := json.Unmarshal(body, &zones); err != nil {
		return nil, fmt.Errorf("decoding activity %d zones: %w", activityID, err)
	}
	return zones, nil
}

// FetchActivityStreams returns the raw time-series payload for an activity,
// or nil when the provider has none. The payload shape varies (keyed object
// or typed array); canonicalization is the normalizer's job, so it is
// returned undecoded.
func (c *Client) FetchActivityStreams(ctx context.Context, activityID int64) ([]byte, error) {
	url := fmt.Sprintf("%s/activities/%d/streams?keys=time,distance,heartrate,velocity_smooth&key_by_type=true", c.baseURL, activityID)
	return c.get(ctx, url)
}

// get performs a GET with retries, records quota state, and applies the
// low-quota smoothing pause. A 404 returns (nil, nil) so optional
// enrichments degrade to absent rather than failing.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	token := c.accessToken
	if c.tokenSource != nil {
		if token, err = c.tokenSource(ctx); err != nil {
			return nil, fmt.Errorf("resolving access token: %w", err)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	info := parseRateLimitHeaders(resp.Header)
	c.rateMu.Lock()
	c.rateLimit = info
	c.rateMu.Unlock()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for %s", resp.StatusCode, resp.Request.URL.Path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if remaining := info.Remaining15Min(); remaining >= 0 && remaining <= lowQuotaThreshold {
		logging.Debug("short-window quota low, pausing briefly",
			"remaining", remaining, "pause", smoothingPause.String())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(smoothingPause):
		}
	}

	return body, nil
}

// parseRateLimitHeaders merges the provider's general and read-specific
// quota headers ("15min,daily" CSV pairs), keeping the more restrictive
// limit and the higher usage.
func parseRateLimitHeaders(headers http.Header) RateLimitInfo {
	gl15, glDay := parseQuotaPair(headers.Get("X-RateLimit-Limit"))
	gu15, guDay := parseQuotaPair(headers.Get("X-RateLimit-Usage"))
	rl15, rlDay := parseQuotaPair(headers.Get("X-ReadRateLimit-Limit"))
	ru15, ruDay := parseQuotaPair(headers.Get("X-ReadRateLimit-Usage"))

	return RateLimitInfo{
		Limit15Min: minPositive(gl15, rl15),
		LimitDaily: minPositive(glDay, rlDay),
		Usage15Min: max(gu15, ru15),
		UsageDaily: max(guDay, ruDay),
	}
}

func parseQuotaPair(header string) (shortWindow, daily int) {
	if header == "" {
		return 0, 0
	}
	parts := strings.Split(header, ",")
	if len(parts) >= 1 {
		shortWindow, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	}
	if len(parts) >= 2 {
		daily, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return shortWindow, daily
}

// minPositive returns the minimum of two values, ignoring zero/unset ones.
func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
