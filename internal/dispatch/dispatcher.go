// Package dispatch turns alert triggers into notifications. It owns
// cooldown suppression, the durable trigger log write that precedes any
// delivery, and the per-channel fan-out with retry and rate limiting.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"matchpulse/internal/condition"
	"matchpulse/internal/model"
)

// Transient deliveries are retried with this backoff ladder; after the
// last rung the failure is treated as exhausted (channel stays enabled).
var retryBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// smsMaxLen caps the SMS body in runes.
const smsMaxLen = 320

// channelKey identifies one alert's use of one channel, for permanent
// failure disablement.
type channelKey struct {
	alertID int64
	kind    model.ChannelKind
}

// Dispatcher consumes triggers from the condition evaluator. Deliveries
// run on their own goroutines so evaluation never blocks on a slow
// provider; Drain waits them out at shutdown.
type Dispatcher struct {
	store model.AlertStore
	sms   model.SMSSender
	email model.EmailSender
	pub   model.Publisher
	log   *slog.Logger

	mu       sync.Mutex
	lastSent map[int64]time.Time
	disabled map[channelKey]bool

	// Outbound provider pacing, shared across alerts.
	smsLimit   *rate.Limiter
	emailLimit *rate.Limiter

	wg sync.WaitGroup

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	OnDispatched     func(alertID int64, ch model.ChannelKind)
	OnSuppressed     func(alertID int64)
	OnFailure        func(alertID int64, ch model.ChannelKind, permanent bool)
	OnPersistFailure func(alertID int64, err error)
}

// New wires a dispatcher. sms, email and pub may each be nil; alerts
// carrying a channel with no transport fail that channel permanently.
func New(store model.AlertStore, sms model.SMSSender, email model.EmailSender, pub model.Publisher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:      store,
		sms:        sms,
		email:      email,
		pub:        pub,
		log:        log,
		lastSent:   make(map[int64]time.Time),
		disabled:   make(map[channelKey]bool),
		smsLimit:   rate.NewLimiter(rate.Limit(1), 5),
		emailLimit: rate.NewLimiter(rate.Limit(1), 5),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch handles one trigger. Synchronously it checks the cooldown
// and persists the trigger record; if the record cannot be persisted no
// notification goes out. Channel fan-out then proceeds asynchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, t condition.Trigger) {
	now := d.now()

	d.mu.Lock()
	last, seen := d.lastSent[t.Alert.ID]
	if !seen && !t.Alert.LastTriggeredAt.IsZero() {
		// Seed from the persisted counter so a restart honors cooldowns.
		last = t.Alert.LastTriggeredAt
		seen = true
	}
	if seen && now.Sub(last) < t.Alert.Cooldown() {
		d.mu.Unlock()
		if d.OnSuppressed != nil {
			d.OnSuppressed(t.Alert.ID)
		}
		d.log.Debug("trigger suppressed by cooldown",
			"alert_id", t.Alert.ID, "fixture_id", t.Fixture.ID)
		return
	}
	d.lastSent[t.Alert.ID] = now
	d.mu.Unlock()

	snapshot, _ := json.Marshal(t.Vector)
	rec := &model.TriggerRecord{
		AlertID:           t.Alert.ID,
		FixtureID:         t.Fixture.ID,
		TriggeredAt:       now,
		MetricSnapshot:    snapshot,
		ChannelsAttempted: t.Alert.Channels,
	}
	if err := d.store.AppendTrigger(ctx, rec); err != nil {
		// The audit row is the source of truth; without it nothing is
		// sent and the cooldown stamp is rolled back.
		d.mu.Lock()
		if seen {
			d.lastSent[t.Alert.ID] = last
		} else {
			delete(d.lastSent, t.Alert.ID)
		}
		d.mu.Unlock()
		if d.OnPersistFailure != nil {
			d.OnPersistFailure(t.Alert.ID, err)
		}
		d.log.Error("trigger record persist failed, dispatch aborted",
			"alert_id", t.Alert.ID, "err", err)
		return
	}

	d.wg.Add(1)
	go d.fanOut(ctx, t, rec)
}

// Drain blocks until in-flight deliveries finish or the context
// expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanOut delivers to every enabled channel in parallel, then records
// the per-channel outcome and bumps the alert counters.
func (d *Dispatcher) fanOut(ctx context.Context, t condition.Trigger, rec *model.TriggerRecord) {
	defer d.wg.Done()

	var contact model.Contact
	if t.Alert.HasChannel(model.ChannelSMS) || t.Alert.HasChannel(model.ChannelEmail) {
		var err error
		contact, err = d.store.UserContact(ctx, t.Alert.UserID)
		if err != nil {
			d.log.Error("contact lookup failed", "user_id", t.Alert.UserID, "err", err)
		}
	}

	var (
		mu        sync.Mutex
		succeeded []model.ChannelKind
	)
	ok := func(ch model.ChannelKind) {
		mu.Lock()
		succeeded = append(succeeded, ch)
		mu.Unlock()
		if d.OnDispatched != nil {
			d.OnDispatched(t.Alert.ID, ch)
		}
	}

	var wg sync.WaitGroup
	for _, ch := range t.Alert.Channels {
		if d.isDisabled(t.Alert.ID, ch) {
			continue
		}
		wg.Add(1)
		go func(ch model.ChannelKind) {
			defer wg.Done()
			if d.deliver(ctx, ch, t, contact) {
				ok(ch)
			}
		}(ch)
	}
	wg.Wait()

	rec.ChannelsSucceeded = succeeded
	if err := d.store.UpdateTriggerOutcome(ctx, rec); err != nil {
		d.log.Error("trigger outcome update failed", "trigger_id", rec.ID, "err", err)
	}
	if err := d.store.BumpTriggerCounters(ctx, t.Alert.ID, rec.TriggeredAt); err != nil {
		d.log.Error("trigger counter bump failed", "alert_id", t.Alert.ID, "err", err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ch model.ChannelKind, t condition.Trigger, contact model.Contact) bool {
	switch ch {
	case model.ChannelWebSocket:
		if d.pub == nil {
			return false
		}
		d.pub.Publish(ctx, model.NewUserMessage(model.MsgAlertTriggered, t.Alert.UserID, payload(t)))
		return true

	case model.ChannelSMS:
		if d.sms == nil || contact.Phone == "" {
			d.disable(t.Alert.ID, ch)
			d.failed(t.Alert.ID, ch, true)
			return false
		}
		body := smsBody(t)
		return d.sendWithRetry(ctx, t.Alert.ID, ch, d.smsLimit, func(ctx context.Context) (model.DeliveryStatus, error) {
			return d.sms.SendSMS(ctx, contact.Phone, body)
		})

	case model.ChannelEmail:
		if d.email == nil || contact.Email == "" {
			d.disable(t.Alert.ID, ch)
			d.failed(t.Alert.ID, ch, true)
			return false
		}
		subject := fmt.Sprintf("Alert triggered: %s", t.Alert.Name)
		body := emailBody(t)
		return d.sendWithRetry(ctx, t.Alert.ID, ch, d.emailLimit, func(ctx context.Context) (model.DeliveryStatus, error) {
			return d.email.SendEmail(ctx, contact.Email, subject, body)
		})
	}
	return false
}

// sendWithRetry runs one delivery attempt plus the backoff ladder for
// transient failures. A permanent failure disables the channel for this
// alert until the next alert reload.
func (d *Dispatcher) sendWithRetry(ctx context.Context, alertID int64, ch model.ChannelKind, lim *rate.Limiter, send func(context.Context) (model.DeliveryStatus, error)) bool {
	for attempt := 0; ; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return false
		}
		status, err := send(ctx)
		switch status {
		case model.DeliveryOK:
			return true
		case model.DeliveryPermanent:
			d.disable(alertID, ch)
			d.failed(alertID, ch, true)
			d.log.Warn("permanent delivery failure, channel disabled for alert",
				"alert_id", alertID, "channel", ch, "err", err)
			return false
		}
		if attempt >= len(retryBackoff) {
			d.failed(alertID, ch, false)
			d.log.Warn("delivery retries exhausted",
				"alert_id", alertID, "channel", ch, "err", err)
			return false
		}
		if d.sleep(ctx, retryBackoff[attempt]) != nil {
			return false
		}
	}
}

func (d *Dispatcher) isDisabled(alertID int64, ch model.ChannelKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disabled[channelKey{alertID: alertID, kind: ch}]
}

func (d *Dispatcher) disable(alertID int64, ch model.ChannelKind) {
	d.mu.Lock()
	d.disabled[channelKey{alertID: alertID, kind: ch}] = true
	d.mu.Unlock()
}

// ResetDisabled clears per-alert channel disablement, called on alert
// reload so edited alerts get a fresh chance.
func (d *Dispatcher) ResetDisabled() {
	d.mu.Lock()
	d.disabled = make(map[channelKey]bool)
	d.mu.Unlock()
}

func (d *Dispatcher) failed(alertID int64, ch model.ChannelKind, permanent bool) {
	if d.OnFailure != nil {
		d.OnFailure(alertID, ch, permanent)
	}
}

// ── Formatting ──

func payload(t condition.Trigger) model.AlertTriggeredPayload {
	return model.AlertTriggeredPayload{
		AlertID:   t.Alert.ID,
		AlertName: t.Alert.Name,
		FixtureID: t.Fixture.ID,
		HomeTeam:  t.Fixture.HomeTeam,
		AwayTeam:  t.Fixture.AwayTeam,
		HomeGoals: t.Fixture.HomeGoals,
		AwayGoals: t.Fixture.AwayGoals,
		Elapsed:   t.Fixture.Elapsed,
		Condition: t.Condition,
		Priority:  string(t.Alert.Priority),
	}
}

func smsBody(t condition.Trigger) string {
	f := t.Fixture
	body := fmt.Sprintf("⚽ %s\n🏆 %s\n📊 %s %d - %d %s\n🎯 %s\n⏰ %d'",
		t.Alert.Name, f.League,
		f.HomeTeam, f.HomeGoals, f.AwayGoals, f.AwayTeam,
		t.Condition, f.Elapsed)
	return truncateRunes(body, smsMaxLen)
}

func emailBody(t condition.Trigger) string {
	f := t.Fixture
	return fmt.Sprintf(
		"Your alert %q fired.\n\nMatch: %s vs %s (%s)\nScore: %d - %d at %d'\nCondition: %s\nPriority: %s\n",
		t.Alert.Name, f.HomeTeam, f.AwayTeam, f.League,
		f.HomeGoals, f.AwayGoals, f.Elapsed,
		t.Condition, t.Alert.Priority)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
