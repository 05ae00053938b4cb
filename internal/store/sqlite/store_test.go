package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"matchpulse/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, phone, email string) int64 {
	t.Helper()
	res, err := s.db.Exec(`INSERT INTO users (phone, email) VALUES (?, ?)`, phone, email)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func seedAlert(t *testing.T, s *Store, userID int64, name string, active bool) int64 {
	t.Helper()
	res, err := s.db.Exec(`
		INSERT INTO alerts (user_id, name, expression, channels, priority, cooldown_seconds, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID, name,
		`{"type":"predicate","metric":"goals","team":"home","op":">=","value":1}`,
		"WEBSOCKET,SMS", "HIGH", 300, active)
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func TestActiveAlerts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uid := seedUser(t, s, "+447700900000", "u@example.com")
	onID := seedAlert(t, s, uid, "Home goal", true)
	seedAlert(t, s, uid, "Disabled", false)

	alerts, err := s.ActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.ID != onID || a.UserID != uid || a.Name != "Home goal" {
		t.Errorf("bad alert row: %+v", a)
	}
	if !a.Active || a.CooldownSeconds != 300 || a.Priority != model.PriorityHigh {
		t.Errorf("bad alert attributes: %+v", a)
	}
	if len(a.Channels) != 2 || a.Channels[0] != model.ChannelWebSocket || a.Channels[1] != model.ChannelSMS {
		t.Errorf("channels not decoded: %v", a.Channels)
	}
	if len(a.ExpressionJSON) == 0 {
		t.Error("expression JSON missing")
	}
	if !a.LastTriggeredAt.IsZero() {
		t.Errorf("never-fired alert must have zero LastTriggeredAt, got %v", a.LastTriggeredAt)
	}
}

func TestTriggerLogRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uid := seedUser(t, s, "", "")
	alertID := seedAlert(t, s, uid, "Any goal", true)

	at := time.Date(2026, 8, 24, 20, 15, 0, 0, time.UTC)
	rec := &model.TriggerRecord{
		AlertID:           alertID,
		FixtureID:         "f1",
		TriggeredAt:       at,
		MetricSnapshot:    []byte(`{"total_goals":2}`),
		ChannelsAttempted: []model.ChannelKind{model.ChannelWebSocket, model.ChannelSMS},
	}
	if err := s.AppendTrigger(ctx, rec); err != nil {
		t.Fatalf("append trigger: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("append must assign an ID")
	}

	rec.ChannelsSucceeded = []model.ChannelKind{model.ChannelWebSocket}
	if err := s.UpdateTriggerOutcome(ctx, rec); err != nil {
		t.Fatalf("update outcome: %v", err)
	}

	var (
		fixtureID, snapshot, attempted, succeeded string
		triggeredAt                               int64
	)
	err := s.db.QueryRow(`
		SELECT fixture_id, triggered_at, metric_snapshot, channels_attempted, channels_succeeded
		FROM alert_triggers WHERE id = ?
	`, rec.ID).Scan(&fixtureID, &triggeredAt, &snapshot, &attempted, &succeeded)
	if err != nil {
		t.Fatalf("read back trigger: %v", err)
	}
	if fixtureID != "f1" || triggeredAt != at.Unix() {
		t.Errorf("bad trigger row: %s at %d", fixtureID, triggeredAt)
	}
	if snapshot != `{"total_goals":2}` {
		t.Errorf("metric snapshot not persisted: %s", snapshot)
	}
	if attempted != "WEBSOCKET,SMS" || succeeded != "WEBSOCKET" {
		t.Errorf("channel outcome wrong: attempted %q succeeded %q", attempted, succeeded)
	}
}

func TestBumpTriggerCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uid := seedUser(t, s, "", "")
	alertID := seedAlert(t, s, uid, "Any goal", true)

	first := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)
	second := first.Add(10 * time.Minute)
	if err := s.BumpTriggerCounters(ctx, alertID, first); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if err := s.BumpTriggerCounters(ctx, alertID, second); err != nil {
		t.Fatalf("bump: %v", err)
	}

	alerts, err := s.ActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	a := alerts[0]
	if a.TriggerCount != 2 {
		t.Errorf("expected trigger count 2, got %d", a.TriggerCount)
	}
	if !a.LastTriggeredAt.Equal(second) {
		t.Errorf("expected last trigger %v, got %v", second, a.LastTriggeredAt)
	}
}

func TestCustomMetrics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "", "")
	bob := seedUser(t, s, "", "")

	cm := &model.CustomMetric{UserID: alice, Name: "attack_index", Formula: "shots_on_target_home * 2 + corners_home"}
	if err := s.CreateCustomMetric(ctx, cm); err != nil {
		t.Fatalf("create: %v", err)
	}
	if cm.ID == 0 {
		t.Fatal("create must assign an ID")
	}
	if err := s.CreateCustomMetric(ctx, &model.CustomMetric{UserID: bob, Name: "attack_index", Formula: "shots_home"}); err != nil {
		t.Fatalf("same name under another owner must be allowed: %v", err)
	}

	// Duplicate name for the same owner violates the unique constraint.
	dup := &model.CustomMetric{UserID: alice, Name: "attack_index", Formula: "1"}
	if err := s.CreateCustomMetric(ctx, dup); err == nil {
		t.Error("duplicate owner/name must be rejected")
	}

	mine, err := s.CustomMetricsByOwner(ctx, alice)
	if err != nil {
		t.Fatalf("by owner: %v", err)
	}
	if len(mine) != 1 || mine[0].Formula != "shots_on_target_home * 2 + corners_home" {
		t.Errorf("owner scoping wrong: %+v", mine)
	}

	all, err := s.AllCustomMetrics(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 metrics in total, got %d", len(all))
	}
}

func TestUserContact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uid := seedUser(t, s, "+447700900123", "alice@example.com")

	c, err := s.UserContact(ctx, uid)
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	if c.Phone != "+447700900123" || c.Email != "alice@example.com" {
		t.Errorf("bad contact: %+v", c)
	}

	if _, err := s.UserContact(ctx, 9999); err == nil {
		t.Error("unknown user must error")
	}
}

func TestChannelCodec(t *testing.T) {
	cases := []struct {
		in   []model.ChannelKind
		wire string
	}{
		{nil, ""},
		{[]model.ChannelKind{model.ChannelSMS}, "SMS"},
		{[]model.ChannelKind{model.ChannelSMS, model.ChannelEmail, model.ChannelWebSocket}, "SMS,EMAIL,WEBSOCKET"},
	}
	for _, tc := range cases {
		if got := encodeChannels(tc.in); got != tc.wire {
			t.Errorf("encode %v: expected %q, got %q", tc.in, tc.wire, got)
		}
		back := decodeChannels(tc.wire)
		if len(back) != len(tc.in) {
			t.Errorf("decode %q: expected %d channels, got %d", tc.wire, len(tc.in), len(back))
			continue
		}
		for i := range back {
			if back[i] != tc.in[i] {
				t.Errorf("decode %q: position %d differs", tc.wire, i)
			}
		}
	}
}
