package condition

import (
	"encoding/json"
	"testing"

	"matchpulse/internal/model"
)

func testVector() *model.MetricVector {
	return &model.MetricVector{
		FixtureID: "f1",
		Home: model.TeamMetrics{
			Goals: 1, Possession: 62, Shots: 12, ShotsOnTarget: 5,
		},
		Away: model.TeamMetrics{
			Goals: 0, Possession: 38, Shots: 4, ShotsOnTarget: 1,
		},
		TotalGoals:      1,
		ScoreDifference: 1,
		Elapsed:         70,
		TotalShots:      16,
	}
}

func testFixture() *model.Fixture {
	return &model.Fixture{
		ID:       "f1",
		HomeTeam: "Arsenal",
		AwayTeam: "Chelsea",
		League:   "Premier League",
		Status:   model.StatusLive2H,
		Elapsed:  70,
	}
}

func pred(metric string, team TeamScope, op Operator, value float64) *Expression {
	return &Expression{Type: TypePredicate, Metric: metric, Team: team, Op: op, Value: value}
}

func mustEval(t *testing.T, e *Expression, ctx *EvalCtx) bool {
	t.Helper()
	ok, err := e.Evaluate(ctx)
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	return ok
}

func TestPredicate_TeamScopes(t *testing.T) {
	ctx := &EvalCtx{Vector: testVector(), Fixture: testFixture()}

	cases := []struct {
		name string
		expr *Expression
		want bool
	}{
		{"home goals >= 1", pred("goals", ScopeHome, OpGE, 1), true},
		{"away goals >= 1", pred("goals", ScopeAway, OpGE, 1), false},
		{"either goals >= 1", pred("goals", ScopeEither, OpGE, 1), true},
		{"both goals >= 1", pred("goals", ScopeBoth, OpGE, 1), false},
		{"both shots > 3", pred("shots", ScopeBoth, OpGT, 3), true},
		{"either possession > 60", pred("possession", ScopeEither, OpGT, 60), true},
		{"home possession == 62", pred("possession", ScopeHome, OpEQ, 62), true},
		{"home possession != 62", pred("possession", ScopeHome, OpNE, 62), false},
		{"match total_goals >= 1", pred("total_goals", "", OpGE, 1), true},
		{"match elapsed < 45", pred("elapsed", "", OpLT, 45), false},
		{"explicit goals_home suffix", pred("goals_home", "", OpGE, 1), true},
	}
	for _, tc := range cases {
		if got := mustEval(t, tc.expr, ctx); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestPredicate_UnknownMetric(t *testing.T) {
	ctx := &EvalCtx{Vector: testVector(), Fixture: testFixture()}
	_, err := pred("nonsense", ScopeHome, OpGE, 1).Evaluate(ctx)
	if err == nil {
		t.Fatal("expected error for unknown metric")
	}
}

func TestBooleanTree_ShortCircuit(t *testing.T) {
	ctx := &EvalCtx{Vector: testVector(), Fixture: testFixture()}

	// The second And child references an unknown metric; short-circuit on
	// the false first child means it is never reached.
	and := &Expression{Type: TypeAnd, Children: []*Expression{
		pred("goals", ScopeAway, OpGE, 5),
		pred("nonsense", ScopeHome, OpGE, 1),
	}}
	if got := mustEval(t, and, ctx); got {
		t.Error("And: expected false")
	}

	or := &Expression{Type: TypeOr, Children: []*Expression{
		pred("goals", ScopeHome, OpGE, 1),
		pred("nonsense", ScopeHome, OpGE, 1),
	}}
	if got := mustEval(t, or, ctx); !got {
		t.Error("Or: expected true")
	}

	not := &Expression{Type: TypeNot, Child: pred("goals", ScopeAway, OpGE, 1)}
	if got := mustEval(t, not, ctx); !got {
		t.Error("Not: expected true")
	}
}

// Multi-condition And where the goal count is gated to a minute window:
// possession now >= 60 and a goal inside [60,75].
func TestPredicate_TimeWindow(t *testing.T) {
	ctx := &EvalCtx{
		Vector:  testVector(),
		Fixture: testFixture(),
		Events: []model.Event{
			{FixtureID: "f1", Minute: 65, Type: model.EventGoal, Team: model.SideHome},
		},
	}

	windowed := pred("goals", ScopeHome, OpGE, 1)
	windowed.Window = &Window{StartMinute: 60, EndMinute: 75}
	expr := &Expression{Type: TypeAnd, Children: []*Expression{
		pred("possession", ScopeHome, OpGE, 60),
		windowed,
	}}
	if !mustEval(t, expr, ctx) {
		t.Error("expected trigger: possession 62 and goal at 65' in [60,75]")
	}

	// The same goal falls outside a [0,45] window.
	windowed.Window = &Window{StartMinute: 0, EndMinute: 45}
	if mustEval(t, expr, ctx) {
		t.Error("expected no trigger with goal outside the window")
	}
}

// A windowed predicate is an And with the elapsed gate: once the match
// clock leaves the window, a count satisfied inside it no longer holds.
func TestPredicate_WindowClosesAfterEndMinute(t *testing.T) {
	goal := []model.Event{
		{FixtureID: "f1", Minute: 65, Type: model.EventGoal, Team: model.SideHome},
	}
	windowed := pred("goals", ScopeHome, OpGE, 1)
	windowed.Window = &Window{StartMinute: 60, EndMinute: 75}

	inside := testVector()
	if !mustEval(t, windowed, &EvalCtx{Vector: inside, Fixture: testFixture(), Events: goal}) {
		t.Error("expected true at elapsed 70 with the goal in [60,75]")
	}

	after := testVector()
	after.Elapsed = 80
	if mustEval(t, windowed, &EvalCtx{Vector: after, Fixture: testFixture(), Events: goal}) {
		t.Error("expected false at elapsed 80: the window has closed")
	}

	// Under Not, the closed window makes the negation true again.
	not := &Expression{Type: TypeNot, Child: windowed}
	if !mustEval(t, not, &EvalCtx{Vector: after, Fixture: testFixture(), Events: goal}) {
		t.Error("expected Not(windowed) true once the window has closed")
	}
}

func TestPredicate_WindowGatesNonCountedMetrics(t *testing.T) {
	ctx := &EvalCtx{Vector: testVector(), Fixture: testFixture()}

	p := pred("possession", ScopeHome, OpGE, 60)
	p.Window = &Window{StartMinute: 60, EndMinute: 75} // elapsed 70: open
	if !mustEval(t, p, ctx) {
		t.Error("expected true inside the window")
	}
	p.Window = &Window{StartMinute: 80, EndMinute: 90} // elapsed 70: closed
	if mustEval(t, p, ctx) {
		t.Error("expected false outside the window")
	}
}

func TestSequence_WithinMinutes(t *testing.T) {
	base := &Expression{
		Type:          TypeSequence,
		Events:        []model.EventType{model.EventGoal, model.EventGoal},
		WithinMinutes: 10,
		Team:          ScopeHome,
	}

	goals := func(minutes ...int) []model.Event {
		evs := make([]model.Event, len(minutes))
		for i, m := range minutes {
			evs[i] = model.Event{FixtureID: "f1", Minute: m, Type: model.EventGoal, Team: model.SideHome}
		}
		return evs
	}

	// 21-12 = 9 <= 10: triggers.
	ctx := &EvalCtx{Vector: testVector(), Fixture: testFixture(), Events: goals(12, 21)}
	if !mustEval(t, base, ctx) {
		t.Error("goals at 12' and 21': expected sequence match")
	}

	// 23-12 = 11 > 10: does not trigger.
	ctx.Events = goals(12, 23)
	if mustEval(t, base, ctx) {
		t.Error("goals at 12' and 23': expected no match")
	}

	// Away goal does not satisfy a home sequence.
	ctx.Events = []model.Event{
		{FixtureID: "f1", Minute: 12, Type: model.EventGoal, Team: model.SideHome},
		{FixtureID: "f1", Minute: 15, Type: model.EventGoal, Team: model.SideAway},
	}
	if mustEval(t, base, ctx) {
		t.Error("mixed-team goals: expected no match for home scope")
	}
}

func TestSequence_OrderedKinds(t *testing.T) {
	expr := &Expression{
		Type:          TypeSequence,
		Events:        []model.EventType{model.EventYellow, model.EventRed},
		WithinMinutes: 15,
		Team:          ScopeAway,
	}
	ctx := &EvalCtx{Vector: testVector(), Fixture: testFixture()}

	// Red before yellow: order matters.
	ctx.Events = []model.Event{
		{Minute: 30, Type: model.EventRed, Team: model.SideAway},
		{Minute: 35, Type: model.EventYellow, Team: model.SideAway},
	}
	if mustEval(t, expr, ctx) {
		t.Error("expected no match when kinds occur out of order")
	}

	ctx.Events = []model.Event{
		{Minute: 30, Type: model.EventYellow, Team: model.SideAway},
		{Minute: 35, Type: model.EventRed, Team: model.SideAway},
	}
	if !mustEval(t, expr, ctx) {
		t.Error("expected match for yellow then red within 15")
	}
}

func TestPredicate_Contains(t *testing.T) {
	ctx := &EvalCtx{Vector: testVector(), Fixture: testFixture()}

	p := &Expression{Type: TypePredicate, Metric: "league", Op: OpContains, StrValue: "premier"}
	if !mustEval(t, p, ctx) {
		t.Error("expected case-insensitive league match")
	}
	p.Op = OpNotContains
	if mustEval(t, p, ctx) {
		t.Error("not_contains: expected false")
	}
}

func TestPredicate_CustomMetric(t *testing.T) {
	ctx := &EvalCtx{
		Vector:  testVector(),
		Fixture: testFixture(),
		Customs: map[string]string{
			"dominance": "possession_home + shots_home * 2",
			"broken":    "open(1)",
		},
	}

	p := &Expression{Type: TypePredicate, Metric: "custom.dominance", Op: OpGE, Value: 80}
	if !mustEval(t, p, ctx) {
		t.Error("expected custom metric 62 + 24 >= 80")
	}

	p.Metric = "custom.broken"
	if _, err := p.Evaluate(ctx); err == nil {
		t.Error("expected error from unsafe custom formula")
	}

	p.Metric = "custom.undefined"
	if _, err := p.Evaluate(ctx); err == nil {
		t.Error("expected error for undefined custom metric")
	}
}

func TestPredicate_PatternReference(t *testing.T) {
	v := testVector()
	v.ActivePatterns = map[model.PatternKind]float64{model.PatternGoalSequence: 1}
	ctx := &EvalCtx{Vector: v, Fixture: testFixture()}

	p := pred("pattern.GOAL_SEQUENCE", "", OpEQ, 1)
	if !mustEval(t, p, ctx) {
		t.Error("expected active pattern predicate to hold")
	}
	p = pred("pattern.CARD_SEQUENCE", "", OpEQ, 1)
	if mustEval(t, p, ctx) {
		t.Error("expected inactive pattern predicate to fail")
	}
}

func TestPredicate_PlayerMetric(t *testing.T) {
	v := testVector()
	v.Players = map[string]model.PlayerMetrics{
		"p9": {Goals: 2, Assists: 1, GoalContributions: 3},
	}
	ctx := &EvalCtx{Vector: v, Fixture: testFixture()}

	p := &Expression{Type: TypePredicate, Metric: "goal_contributions", PlayerID: "p9", Op: OpGE, Value: 3}
	if !mustEval(t, p, ctx) {
		t.Error("expected player goal_contributions >= 3")
	}

	// Unknown players read as zero counts.
	p.PlayerID = "p99"
	if mustEval(t, p, ctx) {
		t.Error("expected unknown player to evaluate against zeros")
	}
}

// Serializing a tree and parsing it back yields identical truth values.
func TestExpression_RoundTrip(t *testing.T) {
	windowed := pred("goals", ScopeHome, OpGE, 1)
	windowed.Window = &Window{StartMinute: 60, EndMinute: 75}
	orig := &Expression{Type: TypeAnd, Children: []*Expression{
		pred("possession", ScopeHome, OpGE, 60),
		windowed,
		{Type: TypeOr, Children: []*Expression{
			pred("total_goals", "", OpGE, 1),
			{Type: TypeNot, Child: pred("red_cards", ScopeEither, OpGE, 1)},
			{Type: TypeSequence, Events: []model.EventType{model.EventCorner, model.EventGoal}, WithinMinutes: 5, Team: ScopeHome},
		}},
	}}

	parsed, err := Parse(orig.JSON())
	if err != nil {
		t.Fatalf("round-trip parse failed: %v", err)
	}

	contexts := []*EvalCtx{
		{Vector: testVector(), Fixture: testFixture()},
		{Vector: testVector(), Fixture: testFixture(), Events: []model.Event{
			{Minute: 64, Type: model.EventCorner, Team: model.SideHome},
			{Minute: 65, Type: model.EventGoal, Team: model.SideHome},
		}},
		{Vector: &model.MetricVector{Elapsed: 10}, Fixture: testFixture()},
	}
	for i, ctx := range contexts {
		a := mustEval(t, orig, ctx)
		b := mustEval(t, parsed, ctx)
		if a != b {
			t.Errorf("context %d: original=%v, round-tripped=%v", i, a, b)
		}
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	bad := []string{
		`{"type":"and"}`,
		`{"type":"not"}`,
		`{"type":"predicate"}`,
		`{"type":"predicate","metric":"goals","op":"~="}`,
		`{"type":"sequence","events":["GOAL"],"within_minutes":10}`,
		`{"type":"sequence","events":["GOAL","GOAL"]}`,
		`{"type":"mystery"}`,
		`{"type":"predicate","metric":"goals","op":">=","window":{"start_minute":50,"end_minute":40}}`,
	}
	for _, src := range bad {
		if _, err := Parse(json.RawMessage(src)); err == nil {
			t.Errorf("%s: expected validation error", src)
		}
	}
}
