// Package extract derives the canonical MetricVector from a snapshot
// and the fixture's event history. Extraction is pure: identical inputs
// produce identical vectors, and missing upstream fields never cause an
// error (counts default to 0, possession to 50 at normalization time).
package extract

import (
	"math"

	"matchpulse/internal/model"
)

// Event point weights for the momentum metric.
const (
	momentumGoal    = 40.0
	momentumShotOn  = 10.0
	momentumCorner  = 5.0
	momentumRedCard = 30.0 // credited to the opponent
	momentumYellow  = 3.0  // credited to the opponent
	momentumWindow  = 10   // minutes
)

// Event weights for the pressure metric.
const (
	pressureShotOff = 6.0
	pressureShotOn  = 10.0
	pressureCorner  = 4.0
	pressureWindow  = 5 // minutes
)

// Shot quality constants for the derived xG heuristic.
const (
	xgOnTargetFlat  = 0.15 // distance unknown
	xgOffTargetFlat = 0.05
	xgMin           = 0.02
	xgMax           = 0.95
	defaultAngle    = 45.0
)

// Extract builds the metric vector for a snapshot. events is the
// fixture's retained event history (minute-ordered); it drives the
// time-derived and rolling metrics.
func Extract(snap *model.Snapshot, events []model.Event) model.MetricVector {
	elapsed := snap.Fixture.Elapsed

	v := model.MetricVector{
		FixtureID: snap.Fixture.ID,
		Home:      teamMetrics(&snap.Home, float64(snap.Fixture.HomeGoals)),
		Away:      teamMetrics(&snap.Away, float64(snap.Fixture.AwayGoals)),

		TotalGoals:      float64(snap.Fixture.HomeGoals + snap.Fixture.AwayGoals),
		ScoreDifference: float64(snap.Fixture.HomeGoals - snap.Fixture.AwayGoals),
		Elapsed:         float64(elapsed),
		TotalShots:      float64(snap.Home.Shots + snap.Away.Shots),
	}

	if !snap.Home.XGProvided {
		v.Home.XG = derivedXG(snap, model.SideHome)
	}
	if !snap.Away.XGProvided {
		v.Away.XG = derivedXG(snap, model.SideAway)
	}

	v.FirstHalfGoals, v.SecondHalfGoals = halfGoals(events)
	v.Last10MinGoals = recentGoals(events, elapsed, 10)

	m := momentum(events, elapsed)
	v.Home.Momentum = m
	v.Away.Momentum = -m

	v.Home.Pressure = pressure(events, elapsed, model.SideHome)
	v.Away.Pressure = pressure(events, elapsed, model.SideAway)

	v.WinProbability = WinProbability(v.ScoreDifference, float64(elapsed))

	if len(snap.Players) > 0 {
		v.Players = make(map[string]model.PlayerMetrics, len(snap.Players))
		for id, p := range snap.Players {
			v.Players[id] = model.PlayerMetrics{
				Goals:             float64(p.Goals),
				Assists:           float64(p.Assists),
				Cards:             float64(p.Cards),
				Shots:             float64(p.Shots),
				Passes:            float64(p.Passes),
				Tackles:           float64(p.Tackles),
				Rating:            p.Rating,
				Minutes:           float64(p.Minutes),
				GoalContributions: float64(p.Goals + p.Assists),
			}
		}
	}

	return v
}

func teamMetrics(ts *model.TeamStats, goals float64) model.TeamMetrics {
	return model.TeamMetrics{
		Goals:         goals,
		Shots:         float64(ts.Shots),
		ShotsOnTarget: float64(ts.ShotsOnTarget),
		Possession:    ts.Possession,
		Corners:       float64(ts.Corners),
		Fouls:         float64(ts.Fouls),
		YellowCards:   float64(ts.YellowCards),
		RedCards:      float64(ts.RedCards),
		Offsides:      float64(ts.Offsides),
		Passes:        float64(ts.Passes),
		PassAccuracy:  ts.PassAccuracy,
		Tackles:       float64(ts.Tackles),
		Clearances:    float64(ts.Clearances),
		Saves:         float64(ts.Saves),
		Interceptions: float64(ts.Interceptions),
		XG:            ts.XG,
	}
}

// derivedXG sums shot quality over the team's raw shot events. With
// known geometry, quality decays with distance and narrows with angle;
// with unknown geometry it falls back to flat per-shot values, which
// keeps the result monotone in shots on target.
func derivedXG(snap *model.Snapshot, side model.Side) float64 {
	var xg float64
	for _, raw := range snap.RawEvents {
		if raw.Team != side {
			continue
		}
		switch raw.Type {
		case "GOAL", "SHOT_ON":
			xg += shotQuality(raw, true)
		case "SHOT_OFF":
			xg += shotQuality(raw, false)
		}
	}
	return xg
}

func shotQuality(raw model.RawEvent, onTarget bool) float64 {
	if raw.Distance <= 0 {
		if onTarget {
			return xgOnTargetFlat
		}
		return xgOffTargetFlat
	}
	angle := raw.Angle
	if angle <= 0 {
		angle = defaultAngle
	}
	// Quality decays with distance from goal and grows with shooting
	// angle: q = angleFactor / (1 + distance/5).
	angleFactor := 0.5 + angle/180
	q := angleFactor / (1 + raw.Distance/5)
	return clamp(q, xgMin, xgMax)
}

// halfGoals counts goals by half. The 45th minute (and stoppage reported
// as 45) belongs to the first half.
func halfGoals(events []model.Event) (first, second float64) {
	for _, ev := range events {
		if ev.Type != model.EventGoal {
			continue
		}
		if ev.Minute <= 45 {
			first++
		} else {
			second++
		}
	}
	return first, second
}

func recentGoals(events []model.Event, elapsed, window int) float64 {
	var n float64
	for _, ev := range events {
		if ev.Type == model.EventGoal && ev.Minute > elapsed-window {
			n++
		}
	}
	return n
}

// momentum returns the home-minus-away momentum over the last 10
// minutes. Each event contributes its point value scaled by recency
// weight (1 at the current minute, linearly down to 0 at the window
// edge); cards credit the opposing side. Clamped to [-100, 100].
func momentum(events []model.Event, elapsed int) float64 {
	var m float64
	for _, ev := range events {
		age := elapsed - ev.Minute
		if age < 0 || age >= momentumWindow {
			continue
		}
		w := 1 - float64(age)/momentumWindow

		sign := 1.0
		if ev.Team == model.SideAway {
			sign = -1
		}

		switch ev.Type {
		case model.EventGoal:
			m += sign * momentumGoal * w
		case model.EventShotOn:
			m += sign * momentumShotOn * w
		case model.EventCorner:
			m += sign * momentumCorner * w
		case model.EventRed:
			// A red card swings momentum toward the opponent.
			m -= sign * momentumRedCard * w
		case model.EventYellow:
			m -= sign * momentumYellow * w
		}
	}
	return clamp(m, -100, 100)
}

// pressure returns the team's rolling 5-minute offensive pressure.
// Goals count as on-target shots. Clamped to [0, 100].
func pressure(events []model.Event, elapsed int, side model.Side) float64 {
	var p float64
	for _, ev := range events {
		if ev.Team != side {
			continue
		}
		age := elapsed - ev.Minute
		if age < 0 || age >= pressureWindow {
			continue
		}
		switch ev.Type {
		case model.EventGoal, model.EventShotOn:
			p += pressureShotOn
		case model.EventShotOff:
			p += pressureShotOff
		case model.EventCorner:
			p += pressureCorner
		}
	}
	return clamp(p, 0, 100)
}

// WinProbability is the fixed logistic over score difference and elapsed
// time: the same lead is worth more the later it is. Purely a function
// of its inputs.
func WinProbability(scoreDiff, elapsed float64) float64 {
	if elapsed > 90 {
		elapsed = 90
	}
	if elapsed < 0 {
		elapsed = 0
	}
	z := scoreDiff * (0.5 + 1.5*elapsed/90)
	return 1 / (1 + math.Exp(-z))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
