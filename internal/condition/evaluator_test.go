package condition

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"matchpulse/internal/model"
)

func testAlert(id int64, expr *Expression) model.Alert {
	return model.Alert{
		ID:             id,
		UserID:         1,
		Name:           "test alert",
		ExpressionJSON: expr.JSON(),
		Channels:       []model.ChannelKind{model.ChannelWebSocket},
		Active:         true,
	}
}

func tickFor(homeGoals float64) []TickInput {
	v := testVector()
	v.Home.Goals = homeGoals
	return []TickInput{{Fixture: testFixture(), Vector: v, Events: nil}}
}

// Goal alert fires exactly once while the condition stays true: only the
// false-to-true transition triggers.
func TestEvaluator_EdgeTriggered(t *testing.T) {
	ev := NewEvaluator(2, nil)
	ev.Reload([]model.Alert{testAlert(1, pred("goals", ScopeHome, OpGE, 1))}, nil)

	var mu sync.Mutex
	var fired []int64
	ev.OnTrigger = func(tr Trigger) {
		mu.Lock()
		fired = append(fired, tr.Alert.ID)
		mu.Unlock()
	}

	ctx := context.Background()
	ev.EvaluateTick(ctx, tickFor(0)) // S0: 0-0
	ev.EvaluateTick(ctx, tickFor(1)) // S1: goal, fires
	ev.EvaluateTick(ctx, tickFor(1)) // S2: still true, no re-fire
	ev.EvaluateTick(ctx, tickFor(2)) // S3: still true, no re-fire

	if len(fired) != 1 {
		t.Fatalf("expected exactly 1 trigger, got %d", len(fired))
	}
	if fired[0] != 1 {
		t.Errorf("expected alert 1, got %d", fired[0])
	}
}

func TestEvaluator_RefiresAfterConditionResets(t *testing.T) {
	ev := NewEvaluator(1, nil)
	ev.Reload([]model.Alert{testAlert(1, pred("pressure", ScopeHome, OpGT, 70))}, nil)

	count := 0
	ev.OnTrigger = func(Trigger) { count++ }

	tick := func(p float64) []TickInput {
		v := testVector()
		v.Home.Pressure = p
		return []TickInput{{Fixture: testFixture(), Vector: v}}
	}

	ctx := context.Background()
	ev.EvaluateTick(ctx, tick(80)) // fires
	ev.EvaluateTick(ctx, tick(80)) // holds
	ev.EvaluateTick(ctx, tick(40)) // resets
	ev.EvaluateTick(ctx, tick(90)) // fires again

	if count != 2 {
		t.Errorf("expected 2 triggers across two spans, got %d", count)
	}
}

func TestEvaluator_FixtureScope(t *testing.T) {
	alert := testAlert(1, pred("goals", ScopeHome, OpGE, 1))
	alert.FixtureID = "other"
	ev := NewEvaluator(1, nil)
	ev.Reload([]model.Alert{alert}, nil)

	fired := false
	ev.OnTrigger = func(Trigger) { fired = true }

	ev.EvaluateTick(context.Background(), tickFor(2))
	if fired {
		t.Error("alert scoped to another fixture must not fire")
	}
}

func TestEvaluator_ScheduledFixturesSkipped(t *testing.T) {
	ev := NewEvaluator(1, nil)
	ev.Reload([]model.Alert{testAlert(1, pred("goals", ScopeHome, OpGE, 0))}, nil)

	fired := false
	ev.OnTrigger = func(Trigger) { fired = true }

	fixture := testFixture()
	fixture.Status = model.StatusScheduled
	ev.EvaluateTick(context.Background(), []TickInput{
		{Fixture: fixture, Vector: testVector()},
	})
	if fired {
		t.Error("scheduled fixtures must never be evaluated")
	}
}

func TestEvaluator_ReloadKeepsTruthMemory(t *testing.T) {
	alert := testAlert(1, pred("goals", ScopeHome, OpGE, 1))
	ev := NewEvaluator(1, nil)
	ev.Reload([]model.Alert{alert}, nil)

	count := 0
	ev.OnTrigger = func(Trigger) { count++ }

	ctx := context.Background()
	ev.EvaluateTick(ctx, tickFor(1))
	if count != 1 {
		t.Fatalf("expected 1 trigger before reload, got %d", count)
	}

	// Reloading the same alert must not re-fire an already-true condition.
	ev.Reload([]model.Alert{alert}, nil)
	ev.EvaluateTick(ctx, tickFor(1))
	if count != 1 {
		t.Errorf("expected no re-fire after reload, got %d triggers", count)
	}
}

func TestEvaluator_InvalidExpressionSkipped(t *testing.T) {
	bad := model.Alert{ID: 9, ExpressionJSON: json.RawMessage(`{"type":"mystery"}`), Active: true}
	ev := NewEvaluator(1, nil)
	ev.Reload([]model.Alert{bad, testAlert(1, pred("goals", ScopeHome, OpGE, 1))}, nil)

	if n := ev.AlertCount(); n != 1 {
		t.Errorf("expected 1 loaded alert, got %d", n)
	}
}

func TestEvaluator_EvalErrorSuppressesAlertForTick(t *testing.T) {
	expr := &Expression{Type: TypePredicate, Metric: "custom.missing", Op: OpGE, Value: 1}
	ev := NewEvaluator(1, nil)
	ev.Reload([]model.Alert{testAlert(1, expr)}, nil)

	var errAlert int64
	ev.OnEvalError = func(alertID int64, fixtureID string, err error) { errAlert = alertID }
	fired := false
	ev.OnTrigger = func(Trigger) { fired = true }

	ev.EvaluateTick(context.Background(), tickFor(1))
	if fired {
		t.Error("alert with failing custom metric must not fire")
	}
	if errAlert != 1 {
		t.Errorf("expected eval error reported for alert 1, got %d", errAlert)
	}
}

func TestEvaluator_CustomMetricsPerOwner(t *testing.T) {
	expr := &Expression{Type: TypePredicate, Metric: "custom.dominance", Op: OpGE, Value: 50}
	alert := testAlert(1, expr)
	ev := NewEvaluator(1, nil)
	ev.Reload([]model.Alert{alert}, []model.CustomMetric{
		{ID: 1, UserID: alert.UserID, Name: "dominance", Formula: "possession_home"},
	})

	fired := false
	ev.OnTrigger = func(Trigger) { fired = true }
	ev.EvaluateTick(context.Background(), tickFor(1))
	if !fired {
		t.Error("expected custom-metric alert to fire (possession 62 >= 50)")
	}
}

// Property 7: identical inputs yield identical outcomes regardless of
// worker scheduling.
func TestEvaluator_DeterministicAcrossWorkerCounts(t *testing.T) {
	alerts := []model.Alert{
		testAlert(1, pred("goals", ScopeHome, OpGE, 1)),
		testAlert(2, pred("possession", ScopeAway, OpGE, 50)),
		testAlert(3, &Expression{Type: TypeAnd, Children: []*Expression{
			pred("shots", ScopeHome, OpGE, 10),
			pred("total_goals", "", OpGE, 1),
		}}),
	}

	for _, workers := range []int{1, 4, 16} {
		ev := NewEvaluator(workers, nil)
		ev.Reload(alerts, nil)

		var mu sync.Mutex
		fired := make(map[int64]bool)
		ev.OnTrigger = func(tr Trigger) {
			mu.Lock()
			fired[tr.Alert.ID] = true
			mu.Unlock()
		}

		ev.EvaluateTick(context.Background(), tickFor(1))
		if !fired[1] || fired[2] || !fired[3] {
			t.Errorf("workers=%d: expected alerts 1 and 3 only, got %v", workers, fired)
		}
	}
}
