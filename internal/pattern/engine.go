// Package pattern detects recurring structures in live match data:
// goal and card bursts, possession swings, momentum shifts, sustained
// pressure and notable late/early events. Detection is span-based: a
// pattern emits once when its criteria begin to hold and not again
// until they stop holding and later hold anew.
package pattern

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"matchpulse/internal/model"
)

// Detection thresholds.
const (
	goalSeqWindow   = 10 // minutes
	goalSeqCount    = 2
	cardSeqWindow   = 5
	cardSeqCount    = 3
	possessionDelta = 20.0 // points vs 10 minutes ago
	possessionBack  = 10
	momentumDelta   = 30.0 // points vs 5 minutes ago
	momentumBack    = 5
	pressureLevel   = 70.0
	pressureHold    = 3 // minutes above level
	lateGoalAfter   = 85
	earlyRedBefore  = 20

	// escalationWindow promotes a pattern to CRITICAL when another
	// pattern for the same team was detected this recently.
	escalationWindow = 2 * time.Minute
)

// sample is one observed point of the history-dependent metrics. One
// sample is kept per distinct match minute.
type sample struct {
	minute         int
	possessionHome float64
	momentumHome   float64 // away momentum is the negation
	pressureHome   float64
	pressureAway   float64
}

type spanKey struct {
	kind model.PatternKind
	team model.Side
}

type detection struct {
	key  spanKey
	at   time.Time
	kind model.PatternKind
}

type fixtureState struct {
	samples  []sample
	holding  map[spanKey]bool
	recent   []detection
	lastSeen time.Time
}

// candidate is a detector result before span bookkeeping.
type candidate struct {
	kind       model.PatternKind
	team       model.Side
	severity   model.Severity
	confidence float64
	startedAt  int
	evidence   []model.Event
}

// Engine holds per-fixture detection state and runs all detectors
// against each new metric vector.
type Engine struct {
	mu       sync.Mutex
	fixtures map[string]*fixtureState

	retention time.Duration
	now       func() time.Time
	log       *slog.Logger

	// OnPattern observes every emitted pattern, after severity
	// escalation. Called with the engine lock held; keep it fast.
	OnPattern func(model.Pattern)
}

// New creates an engine retaining per-fixture state for the given
// duration past the last observation.
func New(retention time.Duration, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		fixtures:  make(map[string]*fixtureState),
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

// Observe feeds one fixture's fresh vector and event history through
// all detectors and returns the newly emitted patterns. Patterns whose
// criteria held at the previous observation are suppressed; severity is
// escalated to CRITICAL when a second pattern lands on the same team
// within the escalation window.
func (e *Engine) Observe(fixtureID string, v *model.MetricVector, events []model.Event) []model.Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.fixtures[fixtureID]
	if st == nil {
		st = &fixtureState{holding: make(map[spanKey]bool)}
		e.fixtures[fixtureID] = st
	}
	now := e.now()
	st.lastSeen = now

	minute := int(v.Elapsed)
	if n := len(st.samples); n == 0 || st.samples[n-1].minute < minute {
		st.samples = append(st.samples, sample{
			minute:         minute,
			possessionHome: v.Home.Possession,
			momentumHome:   v.Home.Momentum,
			pressureHome:   v.Home.Pressure,
			pressureAway:   v.Away.Pressure,
		})
	}

	var cands []candidate
	cands = append(cands, goalSequences(minute, events)...)
	cands = append(cands, cardSequence(minute, events)...)
	cands = append(cands, possessionSwings(minute, st.samples)...)
	cands = append(cands, momentumShifts(minute, st.samples)...)
	cands = append(cands, pressureBuildups(minute, st.samples)...)
	cands = append(cands, timeBased(events)...)

	nowHolding := make(map[spanKey]bool, len(cands))
	var emitted []model.Pattern
	for _, c := range cands {
		key := spanKey{kind: c.kind, team: c.team}
		nowHolding[key] = true
		if st.holding[key] {
			continue // still inside the previous span
		}

		p := model.Pattern{
			ID:         fmt.Sprintf("%s:%s:%s:%d", fixtureID, c.kind, c.team, c.startedAt),
			FixtureID:  fixtureID,
			Kind:       c.kind,
			Team:       c.team,
			Severity:   c.severity,
			Confidence: clamp01(c.confidence),
			StartedAt:  c.startedAt,
			EndedAt:    minute,
			DetectedAt: now,
			Evidence:   c.evidence,
		}
		if c.team != "" && e.escalates(st, c.team, c.kind, now) {
			p.Severity = model.SeverityCritical
		}
		st.recent = append(st.recent, detection{key: key, at: now, kind: c.kind})
		emitted = append(emitted, p)
		if e.OnPattern != nil {
			e.OnPattern(p)
		}
	}
	st.holding = nowHolding

	// Trim escalation memory.
	cutoff := now.Add(-escalationWindow)
	keep := st.recent[:0]
	for _, d := range st.recent {
		if d.at.After(cutoff) {
			keep = append(keep, d)
		}
	}
	st.recent = keep

	return emitted
}

// escalates reports whether a different-kind pattern for the same team
// was detected within the escalation window.
func (e *Engine) escalates(st *fixtureState, team model.Side, kind model.PatternKind, now time.Time) bool {
	cutoff := now.Add(-escalationWindow)
	for _, d := range st.recent {
		if d.key.team == team && d.kind != kind && d.at.After(cutoff) {
			return true
		}
	}
	return false
}

// Active returns the pattern kinds currently holding on a fixture,
// mapped to 1, for the metric vector's pattern.<kind> identifiers.
func (e *Engine) Active(fixtureID string) map[model.PatternKind]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.fixtures[fixtureID]
	if st == nil || len(st.holding) == 0 {
		return nil
	}
	out := make(map[model.PatternKind]float64, len(st.holding))
	for key, ok := range st.holding {
		if ok {
			out[key.kind] = 1
		}
	}
	return out
}

// Drop discards state for an evicted fixture.
func (e *Engine) Drop(fixtureID string) {
	e.mu.Lock()
	delete(e.fixtures, fixtureID)
	e.mu.Unlock()
}

// Sweep drops fixtures not observed within the retention window and
// returns the number removed.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.now().Add(-e.retention)
	n := 0
	for id, st := range e.fixtures {
		if st.lastSeen.Before(cutoff) {
			delete(e.fixtures, id)
			n++
		}
	}
	return n
}

// ── Detectors ──

// goalSequences: two or more goals by the same team inside the rolling
// window.
func goalSequences(minute int, events []model.Event) []candidate {
	var out []candidate
	for _, side := range []model.Side{model.SideHome, model.SideAway} {
		var goals []model.Event
		for _, ev := range events {
			if ev.Type == model.EventGoal && ev.Team == side && ev.Minute > minute-goalSeqWindow {
				goals = append(goals, ev)
			}
		}
		if len(goals) >= goalSeqCount {
			out = append(out, candidate{
				kind:       model.PatternGoalSequence,
				team:       side,
				severity:   model.SeverityHigh,
				confidence: float64(len(goals)) / goalSeqCount,
				startedAt:  goals[0].Minute,
				evidence:   goals,
			})
		}
	}
	return out
}

// cardSequence: three or more cards match-wide inside the rolling
// window. Match-scoped, no team.
func cardSequence(minute int, events []model.Event) []candidate {
	var cards []model.Event
	for _, ev := range events {
		if ev.Type.IsCard() && ev.Minute > minute-cardSeqWindow {
			cards = append(cards, ev)
		}
	}
	if len(cards) < cardSeqCount {
		return nil
	}
	return []candidate{{
		kind:       model.PatternCardSequence,
		severity:   model.SeverityMedium,
		confidence: float64(len(cards)) / cardSeqCount,
		startedAt:  cards[0].Minute,
		evidence:   cards,
	}}
}

// sampleAtOrBefore returns the latest sample at or before the target
// minute.
func sampleAtOrBefore(samples []sample, minute int) (sample, bool) {
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].minute <= minute {
			return samples[i], true
		}
	}
	return sample{}, false
}

// possessionSwings: possession gain of possessionDelta points or more
// against the reading from possessionBack minutes ago.
func possessionSwings(minute int, samples []sample) []candidate {
	if len(samples) == 0 {
		return nil
	}
	past, ok := sampleAtOrBefore(samples, minute-possessionBack)
	if !ok {
		return nil
	}
	cur := samples[len(samples)-1]
	delta := cur.possessionHome - past.possessionHome

	var out []candidate
	if delta >= possessionDelta {
		out = append(out, swingCandidate(model.SideHome, delta, past.minute))
	}
	if -delta >= possessionDelta {
		out = append(out, swingCandidate(model.SideAway, -delta, past.minute))
	}
	return out
}

func swingCandidate(side model.Side, delta float64, startedAt int) candidate {
	return candidate{
		kind:       model.PatternPossessionSwing,
		team:       side,
		severity:   model.SeverityMedium,
		confidence: delta / possessionDelta,
		startedAt:  startedAt,
	}
}

// momentumShifts: momentum gain of momentumDelta points or more against
// the reading from momentumBack minutes ago.
func momentumShifts(minute int, samples []sample) []candidate {
	if len(samples) == 0 {
		return nil
	}
	past, ok := sampleAtOrBefore(samples, minute-momentumBack)
	if !ok {
		return nil
	}
	cur := samples[len(samples)-1]
	delta := cur.momentumHome - past.momentumHome

	var out []candidate
	if delta >= momentumDelta {
		out = append(out, shiftCandidate(model.SideHome, delta, past.minute))
	}
	if -delta >= momentumDelta {
		out = append(out, shiftCandidate(model.SideAway, -delta, past.minute))
	}
	return out
}

func shiftCandidate(side model.Side, delta float64, startedAt int) candidate {
	return candidate{
		kind:       model.PatternMomentumShift,
		team:       side,
		severity:   model.SeverityHigh,
		confidence: delta / momentumDelta,
		startedAt:  startedAt,
	}
}

// pressureBuildups: pressure held above the level for pressureHold
// consecutive minutes of samples up to now.
func pressureBuildups(minute int, samples []sample) []candidate {
	var out []candidate
	for _, side := range []model.Side{model.SideHome, model.SideAway} {
		since, ok := pressureSince(samples, side)
		if !ok {
			continue
		}
		held := minute - since
		if held >= pressureHold {
			out = append(out, candidate{
				kind:       model.PatternPressureBuildup,
				team:       side,
				severity:   model.SeverityHigh,
				confidence: float64(held) / pressureHold,
				startedAt:  since,
			})
		}
	}
	return out
}

// pressureSince returns the minute the current above-level run began.
// ok is false when the latest sample is not above the level.
func pressureSince(samples []sample, side model.Side) (int, bool) {
	since := -1
	for i := len(samples) - 1; i >= 0; i-- {
		p := samples[i].pressureHome
		if side == model.SideAway {
			p = samples[i].pressureAway
		}
		if p <= pressureLevel {
			break
		}
		since = samples[i].minute
	}
	if since < 0 {
		return 0, false
	}
	return since, true
}

// timeBased: a goal after the lateGoalAfter minute, or a red card
// before the earlyRedBefore minute.
func timeBased(events []model.Event) []candidate {
	var out []candidate
	for _, ev := range events {
		switch {
		case ev.Type == model.EventGoal && ev.Minute > lateGoalAfter:
			out = append(out, candidate{
				kind:       model.PatternTimeBased,
				team:       ev.Team,
				severity:   model.SeverityHigh,
				confidence: 1,
				startedAt:  ev.Minute,
				evidence:   []model.Event{ev},
			})
		case ev.Type == model.EventRed && ev.Minute < earlyRedBefore:
			out = append(out, candidate{
				kind:       model.PatternTimeBased,
				team:       ev.Team,
				severity:   model.SeverityLow,
				confidence: 1,
				startedAt:  ev.Minute,
				evidence:   []model.Event{ev},
			})
		}
	}
	// Multiple qualifying events on one team collapse to one span; keep
	// the first per team.
	seen := make(map[model.Side]bool, 2)
	dedup := out[:0]
	for _, c := range out {
		if seen[c.team] {
			continue
		}
		seen[c.team] = true
		dedup = append(dedup, c)
	}
	return dedup
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
