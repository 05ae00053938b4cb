package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler, budget int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		BudgetHour: budget,
		MinDelay:   time.Millisecond,
		Timeout:    2 * time.Second,
	}, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, srv
}

func TestClient_ListLive(t *testing.T) {
	var gotKey string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		if r.URL.Path != "/fixtures/live" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"fixtures":[
			{"fixture_id":"f1","home":"Arsenal","away":"Chelsea","league":"Premier League",
			 "status":"2H","minute":71,"score":{"home":2,"away":1}}
		]}`))
	}), 100)

	fixtures, err := c.ListLive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("expected API key header, got %q", gotKey)
	}
	if len(fixtures) != 1 {
		t.Fatalf("expected 1 fixture, got %d", len(fixtures))
	}
	f := fixtures[0]
	if f.ID != "f1" || f.HomeTeam != "Arsenal" || f.Elapsed != 71 {
		t.Errorf("bad normalization: %+v", f)
	}
	if f.Status != "LIVE_2H" {
		t.Errorf("expected status LIVE_2H, got %s", f.Status)
	}
	if f.HomeGoals != 2 || f.AwayGoals != 1 {
		t.Errorf("expected score 2-1, got %d-%d", f.HomeGoals, f.AwayGoals)
	}
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"fixtures":[]}`))
	}), 100)

	retries := 0
	c.OnRetry = func() { retries++ }

	if _, err := c.ListLive(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if retries != 2 {
		t.Errorf("expected 2 retry notifications, got %d", retries)
	}
}

func TestClient_TransientExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), 100)

	_, err := c.ListLive(context.Background())
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestClient_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}), 100)

	_, err := c.ListLive(context.Background())
	if !IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("auth failure must not retry, got %d attempts", got)
	}
}

func TestClient_NotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}), 100)

	_, err := c.FixtureStats(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("404 must not retry, got %d attempts", got)
	}
}

func TestClient_BudgetExhaustedFailsFastWithoutHTTP(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"fixtures":[]}`))
	}), 1)

	if _, err := c.ListLive(context.Background()); err != nil {
		t.Fatalf("first call must succeed: %v", err)
	}
	_, err := c.ListLive(context.Background())
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("budget rejection must not reach the wire, got %d calls", got)
	}
}

func TestClient_FixtureStatsNormalization(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"fixture_id":"f1",
			"teams":{
				"home":{"possession":61.5,"shots":12,"shots_on_target":5},
				"away":{"shots":6}
			},
			"players":[{"player_id":"p9","name":"Nine","team":"home","goals":1,"yellow_cards":1,"red_cards":0}],
			"xg":{"home":1.4,"away":0.6}
		}`))
	}), 100)

	stats, err := c.FixtureStats(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Home.Possession != 61.5 || stats.Home.Shots != 12 {
		t.Errorf("home stats wrong: %+v", stats.Home)
	}
	// Missing possession defaults to 50.
	if stats.Away.Possession != 50 {
		t.Errorf("missing away possession must default to 50, got %v", stats.Away.Possession)
	}
	if !stats.Home.XGProvided || stats.Home.XG != 1.4 {
		t.Errorf("provider xG not captured: %+v", stats.Home)
	}
	p := stats.Players["p9"]
	if p.Goals != 1 || p.Cards != 1 {
		t.Errorf("player normalization wrong: %+v", p)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrBudgetExceeded, "budget"},
		{ErrNotFound, "not_found"},
		{&AuthError{Status: 401}, "auth"},
		{&TransientError{Err: errors.New("boom")}, "transient"},
		{errors.New("other"), "other"},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("%v: expected %q, got %q", tc.err, tc.want, got)
		}
	}
}
