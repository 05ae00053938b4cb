package model

import "strings"

// TeamMetrics is the per-team slice of the metric vector. All values are
// float64 so formula and predicate evaluation dispatch uniformly.
type TeamMetrics struct {
	Goals         float64 `json:"goals"`
	Shots         float64 `json:"shots"`
	ShotsOnTarget float64 `json:"shots_on_target"`
	Possession    float64 `json:"possession"`
	Corners       float64 `json:"corners"`
	Fouls         float64 `json:"fouls"`
	YellowCards   float64 `json:"yellow_cards"`
	RedCards      float64 `json:"red_cards"`
	Offsides      float64 `json:"offsides"`
	Passes        float64 `json:"passes"`
	PassAccuracy  float64 `json:"pass_accuracy"`
	Tackles       float64 `json:"tackles"`
	Clearances    float64 `json:"clearances"`
	Saves         float64 `json:"saves"`
	Interceptions float64 `json:"interceptions"`
	XG            float64 `json:"xg"`
	Momentum      float64 `json:"momentum"` // [-100,100], positive favors this team
	Pressure      float64 `json:"pressure"` // [0,100]
}

// PlayerMetrics is the per-player slice of the metric vector.
type PlayerMetrics struct {
	Goals             float64 `json:"goals"`
	Assists           float64 `json:"assists"`
	Cards             float64 `json:"cards"`
	Shots             float64 `json:"shots"`
	Passes            float64 `json:"passes"`
	Tackles           float64 `json:"tackles"`
	Rating            float64 `json:"rating"`
	Minutes           float64 `json:"minutes"`
	GoalContributions float64 `json:"goal_contributions"`
}

// MetricVector is the canonical numeric projection of a Snapshot consumed
// by all evaluators. Two extractions from identical snapshots produce
// identical vectors.
type MetricVector struct {
	FixtureID string      `json:"fixture_id"`
	Home      TeamMetrics `json:"home"`
	Away      TeamMetrics `json:"away"`

	TotalGoals      float64 `json:"total_goals"`
	ScoreDifference float64 `json:"score_difference"` // home minus away
	Elapsed         float64 `json:"elapsed"`
	TotalShots      float64 `json:"total_shots"`

	FirstHalfGoals  float64 `json:"first_half_goals"`
	SecondHalfGoals float64 `json:"second_half_goals"`
	Last10MinGoals  float64 `json:"last_10_min_goals"`

	// WinProbability is the home side's win probability from the fixed
	// logistic over score difference and elapsed time.
	WinProbability float64 `json:"win_probability"`

	// ActivePatterns maps pattern kinds currently holding on this fixture
	// to 1. Looked up via "pattern.<kind>" identifiers.
	ActivePatterns map[PatternKind]float64 `json:"active_patterns,omitempty"`

	Players map[string]PlayerMetrics `json:"players,omitempty"`
}

// teamMetric resolves a per-team metric by its base name.
func (t *TeamMetrics) metric(name string) (float64, bool) {
	switch name {
	case "goals":
		return t.Goals, true
	case "shots":
		return t.Shots, true
	case "shots_on_target":
		return t.ShotsOnTarget, true
	case "possession":
		return t.Possession, true
	case "corners":
		return t.Corners, true
	case "fouls":
		return t.Fouls, true
	case "yellow_cards":
		return t.YellowCards, true
	case "red_cards":
		return t.RedCards, true
	case "offsides":
		return t.Offsides, true
	case "passes":
		return t.Passes, true
	case "pass_accuracy":
		return t.PassAccuracy, true
	case "tackles":
		return t.Tackles, true
	case "clearances":
		return t.Clearances, true
	case "saves":
		return t.Saves, true
	case "interceptions":
		return t.Interceptions, true
	case "xg":
		return t.XG, true
	case "momentum":
		return t.Momentum, true
	case "pressure":
		return t.Pressure, true
	}
	return 0, false
}

// playerMetric resolves a per-player metric by name.
func (p *PlayerMetrics) metric(name string) (float64, bool) {
	switch name {
	case "goals":
		return p.Goals, true
	case "assists":
		return p.Assists, true
	case "cards":
		return p.Cards, true
	case "shots":
		return p.Shots, true
	case "passes":
		return p.Passes, true
	case "tackles":
		return p.Tackles, true
	case "rating":
		return p.Rating, true
	case "minutes":
		return p.Minutes, true
	case "goal_contributions":
		return p.GoalContributions, true
	}
	return 0, false
}

// TeamMetric resolves a per-team metric for the given side.
func (v *MetricVector) TeamMetric(name string, side Side) (float64, bool) {
	if side == SideAway {
		return v.Away.metric(name)
	}
	return v.Home.metric(name)
}

// PlayerMetric resolves a metric for a player id. Unknown players resolve
// to (0, true) so predicates over substitutes who never appeared behave
// like zero counts, matching the extractor's missing-field policy.
func (v *MetricVector) PlayerMetric(playerID, name string) (float64, bool) {
	p, ok := v.Players[playerID]
	if !ok {
		p = PlayerMetrics{}
	}
	return p.metric(name)
}

// Lookup is the single dispatch table for formula identifiers. Supported
// forms:
//
//	<metric>_home, <metric>_away        per-team metrics
//	total_goals, score_difference, ...  match metrics
//	pattern.<KIND>                      1 while the pattern span is active
//	player.<id>.<stat>                  per-player metrics
func (v *MetricVector) Lookup(ident string) (float64, bool) {
	switch ident {
	case "total_goals":
		return v.TotalGoals, true
	case "score_difference":
		return v.ScoreDifference, true
	case "elapsed":
		return v.Elapsed, true
	case "total_shots":
		return v.TotalShots, true
	case "first_half_goals":
		return v.FirstHalfGoals, true
	case "second_half_goals":
		return v.SecondHalfGoals, true
	case "last_10_min_goals":
		return v.Last10MinGoals, true
	case "win_probability":
		return v.WinProbability, true
	}

	if kind, ok := strings.CutPrefix(ident, "pattern."); ok {
		for _, k := range PatternKinds {
			if string(k) == kind {
				return v.ActivePatterns[k], true
			}
		}
		return 0, false
	}

	if rest, ok := strings.CutPrefix(ident, "player."); ok {
		id, stat, ok := strings.Cut(rest, ".")
		if !ok {
			return 0, false
		}
		return v.PlayerMetric(id, stat)
	}

	if base, ok := strings.CutSuffix(ident, "_home"); ok {
		if val, ok := v.Home.metric(base); ok {
			return val, true
		}
	}
	if base, ok := strings.CutSuffix(ident, "_away"); ok {
		if val, ok := v.Away.metric(base); ok {
			return val, true
		}
	}
	return 0, false
}
