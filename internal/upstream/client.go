// Package upstream provides the typed client for the external sports
// data provider. Every call passes through a global hourly budget and a
// minimum inter-request delay; transient failures are retried with
// jittered exponential backoff.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"matchpulse/internal/model"
)

const (
	maxAttempts  = 3
	baseBackoff  = time.Second
	jitterFrac   = 0.2
	maxErrorBody = 200
)

// Config configures the upstream client.
type Config struct {
	BaseURL    string
	APIKey     string
	BudgetHour int           // calls per rolling hour
	MinDelay   time.Duration // inter-request spacing
	Timeout    time.Duration // per-call timeout
}

// Client is the typed upstream API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	budget     *Budget
	pace       *rate.Limiter
	logger     *slog.Logger

	// OnCall fires after each admitted HTTP call (for metrics).
	OnCall func()
	// OnRetry fires before each retry attempt.
	OnRetry func()
	// OnError fires when a call fails after retries are exhausted.
	OnError func(err error)

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates an upstream client. A nil logger uses slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 100 * time.Millisecond
	}
	if cfg.BudgetHour <= 0 {
		cfg.BudgetHour = 100
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		budget:     NewBudget(cfg.BudgetHour),
		pace:       rate.NewLimiter(rate.Every(cfg.MinDelay), 1),
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Budget exposes the shared call budget for stats reporting.
func (c *Client) Budget() *Budget { return c.budget }

// ListLive fetches the fixtures currently in play.
func (c *Client) ListLive(ctx context.Context) ([]model.Fixture, error) {
	var resp fixtureListResponse
	if err := c.get(ctx, "/fixtures/live", nil, &resp); err != nil {
		return nil, err
	}
	return normalizeFixtures(resp.Fixtures), nil
}

// ListByDate fetches fixtures scheduled on the given date.
func (c *Client) ListByDate(ctx context.Context, date time.Time) ([]model.Fixture, error) {
	params := url.Values{"date": {date.Format("2006-01-02")}}
	var resp fixtureListResponse
	if err := c.get(ctx, "/fixtures", params, &resp); err != nil {
		return nil, err
	}
	return normalizeFixtures(resp.Fixtures), nil
}

// FixtureStats fetches the per-team statistics and player stats for a
// fixture.
func (c *Client) FixtureStats(ctx context.Context, fixtureID string) (*StatsResult, error) {
	var resp statsResponse
	if err := c.get(ctx, "/fixtures/"+fixtureID+"/statistics", nil, &resp); err != nil {
		return nil, err
	}
	return normalizeStats(&resp), nil
}

// FixtureEvents fetches the raw event list since kickoff.
func (c *Client) FixtureEvents(ctx context.Context, fixtureID string) ([]model.RawEvent, error) {
	var resp eventsResponse
	if err := c.get(ctx, "/fixtures/"+fixtureID+"/events", nil, &resp); err != nil {
		return nil, err
	}
	return normalizeEvents(resp.Events), nil
}

// FixtureLineups fetches the starting lineups for a fixture.
func (c *Client) FixtureLineups(ctx context.Context, fixtureID string) (*model.Lineups, error) {
	var resp lineupsResponse
	if err := c.get(ctx, "/fixtures/"+fixtureID+"/lineups", nil, &resp); err != nil {
		return nil, err
	}
	return normalizeLineups(&resp), nil
}

// get performs a budgeted, paced, retried GET and decodes into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	err := c.doGet(ctx, path, params, out)
	if err != nil && c.OnError != nil {
		c.OnError(err)
	}
	return err
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.budget.Take(); err != nil {
		return err
	}
	if err := c.pace.Wait(ctx); err != nil {
		return fmt.Errorf("upstream: pacing wait: %w", err)
	}
	if c.OnCall != nil {
		c.OnCall()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.OnRetry != nil {
				c.OnRetry()
			}
			if err := c.sleep(ctx, backoff(attempt)); err != nil {
				return err
			}
		}

		err := c.doOnce(ctx, path, params, out)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		c.logger.Warn("upstream call failed, retrying",
			"path", path, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

// doOnce performs one HTTP round trip and classifies the outcome.
func (c *Client) doOnce(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("upstream: create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// decoded below
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransientError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("upstream: %s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: decode %s: %w", path, err)
	}
	return nil
}

// backoff returns the delay before the given retry attempt (1-based):
// 1s, 2s, 4s, jittered ±20%.
func backoff(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	jitter := 1 + jitterFrac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
