package condition

import (
	"fmt"
	"strings"

	"matchpulse/internal/formula"
	"matchpulse/internal/model"
)

// EvalCtx carries everything one expression evaluation may touch: the
// fixture's metric vector, the fixture row itself (for string-field
// predicates), the retained event history, and the owning user's custom
// metric formulas keyed by name.
type EvalCtx struct {
	Vector  *model.MetricVector
	Fixture *model.Fixture
	Events  []model.Event
	Customs map[string]string
}

// Evaluate computes the truth value of the expression against the
// context. Errors surface only from formula evaluation of custom
// metrics (unsafe or unresolvable formulas); the caller suppresses the
// alert for the tick in that case.
func (e *Expression) Evaluate(ctx *EvalCtx) (bool, error) {
	switch e.Type {
	case TypeAnd:
		for _, c := range e.Children {
			ok, err := c.Evaluate(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case TypeOr:
		for _, c := range e.Children {
			ok, err := c.Evaluate(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case TypeNot:
		ok, err := e.Child.Evaluate(ctx)
		return !ok, err
	case TypeSequence:
		return e.evalSequence(ctx), nil
	default:
		return e.evalPredicate(ctx)
	}
}

// ── Predicates ──

// Event kinds behind each windowed counted metric. For these, a window
// counts only events whose minute falls inside it.
var countedKinds = map[string][]model.EventType{
	"goals":           {model.EventGoal},
	"yellow_cards":    {model.EventYellow},
	"red_cards":       {model.EventRed},
	"cards":           {model.EventYellow, model.EventRed},
	"corners":         {model.EventCorner},
	"shots_on_target": {model.EventShotOn, model.EventGoal},
	"shots":           {model.EventShotOn, model.EventShotOff, model.EventGoal},
}

func (e *Expression) evalPredicate(ctx *EvalCtx) (bool, error) {
	if e.Op == OpContains || e.Op == OpNotContains {
		return e.evalContains(ctx), nil
	}

	// Custom metrics are re-validated and evaluated on every tick; a
	// failing formula poisons only this alert for this tick.
	if name, ok := strings.CutPrefix(e.Metric, "custom."); ok {
		src, ok := ctx.Customs[name]
		if !ok {
			return false, fmt.Errorf("condition: custom metric %q not defined", name)
		}
		v, err := formula.Evaluate(src, ctx.Vector.Lookup)
		if err != nil {
			return false, fmt.Errorf("condition: custom metric %q: %w", name, err)
		}
		return compare(v, e.Op, e.Value), nil
	}

	if e.PlayerID != "" {
		v, ok := ctx.Vector.PlayerMetric(e.PlayerID, e.Metric)
		if !ok {
			return false, fmt.Errorf("condition: unknown player metric %q", e.Metric)
		}
		return compare(v, e.Op, e.Value), nil
	}

	switch e.Team {
	case ScopeHome:
		return e.evalSide(ctx, model.SideHome)
	case ScopeAway:
		return e.evalSide(ctx, model.SideAway)
	case ScopeEither:
		h, err := e.evalSide(ctx, model.SideHome)
		if err != nil {
			return false, err
		}
		if h {
			return true, nil
		}
		return e.evalSide(ctx, model.SideAway)
	case ScopeBoth:
		h, err := e.evalSide(ctx, model.SideHome)
		if err != nil || !h {
			return false, err
		}
		return e.evalSide(ctx, model.SideAway)
	}

	// No scope: match-level metric, or an explicit _home/_away name.
	if e.Window != nil && !e.windowOpen(ctx) {
		return false, nil
	}
	v, ok := ctx.Vector.Lookup(e.Metric)
	if !ok {
		return false, fmt.Errorf("condition: unknown metric %q", e.Metric)
	}
	return compare(v, e.Op, e.Value), nil
}

func (e *Expression) evalSide(ctx *EvalCtx, side model.Side) (bool, error) {
	// Every windowed predicate is a conjunction with the elapsed gate:
	// outside [start, end] it is false regardless of the metric.
	if e.Window != nil {
		if !e.windowOpen(ctx) {
			return false, nil
		}
		if kinds, ok := countedKinds[e.Metric]; ok {
			n := countInWindow(ctx.Events, side, kinds, e.Window)
			return compare(float64(n), e.Op, e.Value), nil
		}
	}
	v, ok := ctx.Vector.TeamMetric(e.Metric, side)
	if !ok {
		return false, fmt.Errorf("condition: unknown team metric %q", e.Metric)
	}
	return compare(v, e.Op, e.Value), nil
}

// windowOpen reports whether the current elapsed minute lies inside the
// predicate's window.
func (e *Expression) windowOpen(ctx *EvalCtx) bool {
	min := int(ctx.Vector.Elapsed)
	return min >= e.Window.StartMinute && min <= e.Window.EndMinute
}

func countInWindow(events []model.Event, side model.Side, kinds []model.EventType, w *Window) int {
	n := 0
	for _, ev := range events {
		if ev.Team != side || ev.Minute < w.StartMinute || ev.Minute > w.EndMinute {
			continue
		}
		for _, k := range kinds {
			if ev.Type == k {
				n++
				break
			}
		}
	}
	return n
}

// String-valued fixture fields usable with the contains operators.
func (e *Expression) evalContains(ctx *EvalCtx) bool {
	if ctx.Fixture == nil {
		return false
	}
	var field string
	switch e.Metric {
	case "league":
		field = ctx.Fixture.League
	case "venue":
		field = ctx.Fixture.Venue
	case "referee":
		field = ctx.Fixture.Referee
	case "home_team":
		field = ctx.Fixture.HomeTeam
	case "away_team":
		field = ctx.Fixture.AwayTeam
	case "status":
		field = string(ctx.Fixture.Status)
	default:
		return false
	}
	has := strings.Contains(strings.ToLower(field), strings.ToLower(e.StrValue))
	if e.Op == OpNotContains {
		return !has
	}
	return has
}

func compare(v float64, op Operator, target float64) bool {
	switch op {
	case OpGE:
		return v >= target
	case OpGT:
		return v > target
	case OpLE:
		return v <= target
	case OpLT:
		return v < target
	case OpEQ:
		return v == target
	case OpNE:
		return v != target
	}
	return false
}

// ── Sequences ──

func (e *Expression) evalSequence(ctx *EvalCtx) bool {
	switch e.Team {
	case ScopeHome:
		return matchSequence(ctx.Events, e.Events, e.WithinMinutes, model.SideHome, true)
	case ScopeAway:
		return matchSequence(ctx.Events, e.Events, e.WithinMinutes, model.SideAway, true)
	case ScopeBoth:
		return matchSequence(ctx.Events, e.Events, e.WithinMinutes, model.SideHome, true) &&
			matchSequence(ctx.Events, e.Events, e.WithinMinutes, model.SideAway, true)
	case ScopeEither:
		return matchSequence(ctx.Events, e.Events, e.WithinMinutes, model.SideHome, true) ||
			matchSequence(ctx.Events, e.Events, e.WithinMinutes, model.SideAway, true)
	default:
		return matchSequence(ctx.Events, e.Events, e.WithinMinutes, "", false)
	}
}

// matchSequence reports whether the kinds occur in order, within the
// minute span, optionally restricted to one team's events. For each
// candidate start it matches the remaining kinds greedily at their
// earliest occurrences; earliest completion minimizes the span, so no
// better match exists from that start.
func matchSequence(events []model.Event, kinds []model.EventType, within int, side model.Side, filter bool) bool {
	for i := range events {
		if filter && events[i].Team != side {
			continue
		}
		if events[i].Type != kinds[0] {
			continue
		}
		pos := i
		matched := true
		for _, k := range kinds[1:] {
			found := -1
			for j := pos + 1; j < len(events); j++ {
				if filter && events[j].Team != side {
					continue
				}
				if events[j].Type == k {
					found = j
					break
				}
			}
			if found < 0 {
				matched = false
				break
			}
			pos = found
		}
		if matched && events[pos].Minute-events[i].Minute <= within {
			return true
		}
	}
	return false
}
