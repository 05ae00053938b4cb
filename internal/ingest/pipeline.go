// Package ingest drives the poll cycle: it decides which fixtures to
// monitor, fetches their upstream detail at the level their status
// warrants, diffs consecutive snapshots into match events and hands the
// tick's results to the evaluation callback.
//
// Backpressure is skip-based: if a tick is still running when the next
// one is due, the new tick is dropped and counted, never queued.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"matchpulse/internal/eventbuf"
	"matchpulse/internal/model"
	"matchpulse/internal/snapstore"
	"matchpulse/internal/upstream"
)

// Detail levels per fixture status. The level fixes how many upstream
// calls a refresh costs.
const (
	levelBasic    = iota // scheduled: list data only, 0 calls
	levelDetailed        // finished: stats + events, 2 calls
	levelFull            // in play: stats + events + lineups, 3 calls
)

func detailLevel(st model.Status) int {
	switch {
	case st.InPlay():
		return levelFull
	case st == model.StatusFinished || st == model.StatusPostponed:
		return levelDetailed
	default:
		return levelBasic
	}
}

// scheduledRefresh is how often the upcoming-fixtures list is refreshed.
const scheduledRefresh = time.Hour

// Config bounds the pipeline.
type Config struct {
	PollInterval time.Duration
	MaxMonitored int
	Workers      int
}

// TickResult is one fixture's outcome for a tick, handed to evaluation.
type TickResult struct {
	Snapshot *model.Snapshot
	Events   []model.Event // retained history after this tick's append
	Stale    bool          // served from cache past its TTL
}

// Pipeline owns the poll loop.
type Pipeline struct {
	client *upstream.Client
	store  *snapstore.Store
	events *eventbuf.Buffer
	cfg    Config
	log    *slog.Logger

	ticking atomic.Bool // a tick is in flight
	paused  atomic.Bool
	pollNow chan struct{}

	lastSchedFetch time.Time
	scheduled      map[string]model.Fixture

	// Evaluate receives the tick's results after all fetches land. Runs
	// inside the tick, so a slow evaluation shows up as skipped ticks
	// rather than unbounded queueing.
	Evaluate func(ctx context.Context, results []TickResult)

	// Hooks for metrics; all optional.
	OnSkippedTick func()
	OnOverCap     func(excess int)
	OnMonitored   func(count int)
	OnStale       func()
	OnShape       func()
	OnEvent       func(model.Event)
	OnEvicted     func(fixtureID string)
	OnFetchDone   func(elapsed time.Duration, ok bool)
}

// New creates a pipeline.
func New(client *upstream.Client, store *snapstore.Store, events *eventbuf.Buffer, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pipeline{
		client:    client,
		store:     store,
		events:    events,
		cfg:       cfg,
		log:       log,
		pollNow:   make(chan struct{}, 1),
		scheduled: make(map[string]model.Fixture),
	}
}

// Pause stops fixture polling; the loop keeps running so Resume takes
// effect at the next tick.
func (p *Pipeline) Pause()  { p.paused.Store(true) }
func (p *Pipeline) Resume() { p.paused.Store(false) }

// Paused reports the current pause state.
func (p *Pipeline) Paused() bool { return p.paused.Load() }

// PollNow requests an immediate tick. Non-blocking; coalesces with an
// already-pending request.
func (p *Pipeline) PollNow() {
	select {
	case p.pollNow <- struct{}{}:
	default:
	}
}

// Run executes the poll loop until ctx is cancelled. The first tick
// fires immediately.
func (p *Pipeline) Run(ctx context.Context) {
	p.startTick(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.startTick(ctx)
		case <-p.pollNow:
			p.startTick(ctx)
		}
	}
}

// Drain blocks until no tick is in flight or ctx expires. Callers pause
// the pipeline first so no new tick starts behind the wait.
func (p *Pipeline) Drain(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !p.ticking.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// startTick runs one tick unless the previous is still in flight.
func (p *Pipeline) startTick(ctx context.Context) {
	if p.paused.Load() {
		return
	}
	if !p.ticking.CompareAndSwap(false, true) {
		if p.OnSkippedTick != nil {
			p.OnSkippedTick()
		}
		p.log.Warn("tick still in flight, skipping")
		return
	}
	go func() {
		defer p.ticking.Store(false)
		p.tick(ctx)
	}()
}

func (p *Pipeline) tick(ctx context.Context) {
	start := time.Now()

	live, err := p.client.ListLive(ctx)
	if err != nil {
		// Budget exhaustion degrades to cached data; everything else is
		// logged and the tick proceeds on cache too.
		if errors.Is(err, upstream.ErrBudgetExceeded) {
			p.log.Warn("upstream budget exhausted, serving cached snapshots")
		} else {
			p.log.Error("live fixture list failed", "err", err)
		}
		p.evaluateCached(ctx)
		p.finish(start, false)
		return
	}

	p.refreshScheduled(ctx)
	targets := p.selectTargets(live)
	if p.OnMonitored != nil {
		p.OnMonitored(len(targets))
	}

	results := p.fetchAll(ctx, targets)

	for _, id := range p.store.Evict() {
		p.events.Drop(id)
		if p.OnEvicted != nil {
			p.OnEvicted(id)
		}
	}

	if p.Evaluate != nil {
		p.Evaluate(ctx, results)
	}
	p.finish(start, true)
}

func (p *Pipeline) finish(start time.Time, ok bool) {
	if p.OnFetchDone != nil {
		p.OnFetchDone(time.Since(start), ok)
	}
}

// refreshScheduled pulls today's fixture list at most once per hour so
// scheduled fixtures are known before kickoff. One budgeted call.
func (p *Pipeline) refreshScheduled(ctx context.Context) {
	if time.Since(p.lastSchedFetch) < scheduledRefresh {
		return
	}
	fixtures, err := p.client.ListByDate(ctx, time.Now())
	if err != nil {
		p.log.Warn("scheduled fixture list failed", "err", err)
		return
	}
	p.lastSchedFetch = time.Now()
	p.scheduled = make(map[string]model.Fixture, len(fixtures))
	for _, f := range fixtures {
		if f.Status == model.StatusScheduled {
			p.scheduled[f.ID] = f
		}
	}
}

// selectTargets merges the live list, known scheduled fixtures and
// store residents that dropped off the live list (presumed finished,
// fetched once more to confirm), then applies the monitoring cap:
// in-play fixtures first, earlier kickoffs first within a class.
func (p *Pipeline) selectTargets(live []model.Fixture) []model.Fixture {
	seen := make(map[string]bool, len(live))
	targets := make([]model.Fixture, 0, len(live))
	for _, f := range live {
		seen[f.ID] = true
		targets = append(targets, f)
	}

	for _, snap := range p.store.All() {
		f := snap.Fixture
		if seen[f.ID] || !f.Status.InPlay() {
			continue
		}
		// Was in play, no longer listed: presume finished. The detail
		// endpoints carry no status, so one terminal fetch captures the
		// final stats and the snapshot enters the finished lifecycle.
		f.Status = model.StatusFinished
		seen[f.ID] = true
		targets = append(targets, f)
	}

	for id, f := range p.scheduled {
		if !seen[id] {
			targets = append(targets, f)
		}
	}

	sort.SliceStable(targets, func(i, j int) bool {
		pi, pj := targets[i].Status.InPlay(), targets[j].Status.InPlay()
		if pi != pj {
			return pi
		}
		return targets[i].KickoffAt.Before(targets[j].KickoffAt)
	})

	if len(targets) > p.cfg.MaxMonitored {
		if p.OnOverCap != nil {
			p.OnOverCap(len(targets) - p.cfg.MaxMonitored)
		}
		p.log.Warn("fixture cap exceeded",
			"candidates", len(targets), "cap", p.cfg.MaxMonitored)
		targets = targets[:p.cfg.MaxMonitored]
	}
	return targets
}

// fetchAll refreshes the targets through the worker pool. Pool size
// bounds concurrency; the client's pacing bounds request rate.
func (p *Pipeline) fetchAll(ctx context.Context, targets []model.Fixture) []TickResult {
	results := make([]TickResult, len(targets))
	work := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				results[idx] = p.fetchOne(ctx, targets[idx])
			}
		}()
	}
	for i := range targets {
		select {
		case work <- i:
		case <-ctx.Done():
		}
	}
	close(work)
	wg.Wait()

	out := results[:0]
	for _, r := range results {
		if r.Snapshot != nil {
			out = append(out, r)
		}
	}
	return out
}

// fetchOne refreshes a single fixture. Fresh snapshots are served from
// cache with zero calls; budget exhaustion falls back to the cached
// snapshot, marked stale.
func (p *Pipeline) fetchOne(ctx context.Context, fixture model.Fixture) TickResult {
	prior, hasPrior := p.store.Get(fixture.ID)

	// A status transition invalidates the cached snapshot even inside
	// its TTL; serving it would hide the lifecycle change.
	if p.store.Fresh(fixture.ID) && fixture.Status == prior.Fixture.Status {
		return TickResult{Snapshot: prior, Events: p.events.Events(fixture.ID)}
	}

	level := detailLevel(fixture.Status)
	if hasPrior && prior.Fixture.Status == model.StatusFinished && fixture.Status == model.StatusFinished {
		// Terminal snapshot already captured; no further refresh.
		return TickResult{Snapshot: prior, Events: p.events.Events(fixture.ID)}
	}

	snap := &model.Snapshot{Fixture: fixture, ObservedAt: time.Now()}
	if hasPrior {
		// Carry detail forward so a BASIC refresh keeps prior stats.
		snap.Home, snap.Away = prior.Home, prior.Away
		snap.Players = prior.Players
		snap.Weather, snap.Lineups = prior.Weather, prior.Lineups
		snap.RawEvents = prior.RawEvents
	}

	if level >= levelDetailed {
		stats, err := p.client.FixtureStats(ctx, fixture.ID)
		if err != nil {
			return p.degrade(fixture.ID, prior, hasPrior, err)
		}
		snap.Home, snap.Away = stats.Home, stats.Away
		snap.Players = stats.Players
		snap.Weather = stats.Weather

		raw, err := p.client.FixtureEvents(ctx, fixture.ID)
		if err != nil {
			return p.degrade(fixture.ID, prior, hasPrior, err)
		}
		snap.RawEvents = raw
	}
	if level == levelFull {
		lineups, err := p.client.FixtureLineups(ctx, fixture.ID)
		if err == nil {
			snap.Lineups = lineups
		} else if !errors.Is(err, upstream.ErrNotFound) {
			return p.degrade(fixture.ID, prior, hasPrior, err)
		}
	}

	if hasPrior {
		p.guardShape(snap, prior)
	}

	p.store.Put(snap)
	p.appendNewEvents(snap, prior, hasPrior)
	return TickResult{Snapshot: snap, Events: p.events.Events(fixture.ID)}
}

// degrade returns the cached snapshot (stale) when a refresh fails.
func (p *Pipeline) degrade(fixtureID string, prior *model.Snapshot, hasPrior bool, err error) TickResult {
	if errors.Is(err, upstream.ErrBudgetExceeded) {
		if p.OnStale != nil {
			p.OnStale()
		}
	} else {
		p.log.Error("fixture refresh failed", "fixture_id", fixtureID, "err", err)
	}
	if !hasPrior {
		return TickResult{}
	}
	return TickResult{Snapshot: prior, Events: p.events.Events(fixtureID), Stale: true}
}

// guardShape enforces monotonicity of cumulative fields. A score, match
// clock or event list that went backwards is a provider glitch: the
// prior values win and the anomaly is counted.
func (p *Pipeline) guardShape(snap, prior *model.Snapshot) {
	anomalous := false
	if snap.Fixture.HomeGoals < prior.Fixture.HomeGoals {
		snap.Fixture.HomeGoals = prior.Fixture.HomeGoals
		anomalous = true
	}
	if snap.Fixture.AwayGoals < prior.Fixture.AwayGoals {
		snap.Fixture.AwayGoals = prior.Fixture.AwayGoals
		anomalous = true
	}
	if snap.Fixture.Elapsed < prior.Fixture.Elapsed {
		snap.Fixture.Elapsed = prior.Fixture.Elapsed
		anomalous = true
	}
	if len(snap.RawEvents) < len(prior.RawEvents) {
		snap.RawEvents = prior.RawEvents
		anomalous = true
	}
	if anomalous {
		if p.OnShape != nil {
			p.OnShape()
		}
		p.log.Warn("non-monotone upstream payload, keeping prior values",
			"fixture_id", snap.Fixture.ID)
	}
}

// appendNewEvents diffs the since-kickoff raw event list against the
// prior snapshot and feeds the new suffix into the event buffer.
func (p *Pipeline) appendNewEvents(snap, prior *model.Snapshot, hasPrior bool) {
	offset := 0
	if hasPrior {
		offset = len(prior.RawEvents)
	}
	if offset >= len(snap.RawEvents) {
		return
	}
	for _, raw := range snap.RawEvents[offset:] {
		ev, ok := model.EventFromRaw(snap.Fixture.ID, raw)
		if !ok {
			continue
		}
		p.events.Append(snap.Fixture.ID, ev)
		if p.OnEvent != nil {
			p.OnEvent(ev)
		}
	}
}

// evaluateCached runs evaluation against whatever the store holds, used
// when the tick cannot reach upstream at all.
func (p *Pipeline) evaluateCached(ctx context.Context) {
	if p.Evaluate == nil {
		return
	}
	snaps := p.store.All()
	results := make([]TickResult, 0, len(snaps))
	for _, snap := range snaps {
		if p.OnStale != nil && !p.store.Fresh(snap.Fixture.ID) {
			p.OnStale()
		}
		results = append(results, TickResult{
			Snapshot: snap,
			Events:   p.events.Events(snap.Fixture.ID),
			Stale:    !p.store.Fresh(snap.Fixture.ID),
		})
	}
	p.Evaluate(ctx, results)
}
