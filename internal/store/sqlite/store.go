// Package sqlite persists alerts, the append-only trigger log, custom
// metrics and user contact data. Single-writer WAL database; the engine
// is the only writer, the REST/admin surface reads through the same
// connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"matchpulse/internal/model"
)

// Store implements model.AlertStore on SQLite.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the database with WAL mode and the
// schema applied.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer pool keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			phone TEXT,
			email TEXT
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id          INTEGER NOT NULL REFERENCES users(id),
			name             TEXT    NOT NULL,
			description      TEXT    NOT NULL DEFAULT '',
			fixture_id       TEXT    NOT NULL DEFAULT '',
			expression       TEXT    NOT NULL,
			channels         TEXT    NOT NULL,
			priority         TEXT    NOT NULL DEFAULT 'MEDIUM',
			cooldown_seconds INTEGER NOT NULL DEFAULT 0,
			active           INTEGER NOT NULL DEFAULT 1,
			trigger_count    INTEGER NOT NULL DEFAULT 0,
			last_triggered_at INTEGER,
			created_at       INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(active);

		CREATE TABLE IF NOT EXISTS alert_triggers (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id           INTEGER NOT NULL REFERENCES alerts(id),
			fixture_id         TEXT    NOT NULL,
			triggered_at       INTEGER NOT NULL,
			metric_snapshot    TEXT,
			channels_attempted TEXT    NOT NULL DEFAULT '',
			channels_succeeded TEXT    NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_triggers_alert ON alert_triggers(alert_id, triggered_at);

		CREATE TABLE IF NOT EXISTS custom_metrics (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			name       TEXT    NOT NULL,
			formula    TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			UNIQUE (user_id, name)
		);
	`)
	return err
}

// ActiveAlerts reads all alerts with active=1.
func (s *Store) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, fixture_id, expression,
		       channels, priority, cooldown_seconds, active,
		       trigger_count, last_triggered_at, created_at
		FROM alerts
		WHERE active = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			a         model.Alert
			expr      string
			channels  string
			active    int
			lastTrig  sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.FixtureID,
			&expr, &channels, &a.Priority, &a.CooldownSeconds, &active,
			&a.TriggerCount, &lastTrig, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite scan alert: %w", err)
		}
		a.ExpressionJSON = []byte(expr)
		a.Channels = decodeChannels(channels)
		a.Active = active != 0
		if lastTrig.Valid {
			a.LastTriggeredAt = time.Unix(lastTrig.Int64, 0).UTC()
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AppendTrigger durably writes the trigger record and fills in its ID.
func (s *Store) AppendTrigger(ctx context.Context, rec *model.TriggerRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_triggers (alert_id, fixture_id, triggered_at, metric_snapshot, channels_attempted)
		VALUES (?, ?, ?, ?, ?)
	`, rec.AlertID, rec.FixtureID, rec.TriggeredAt.Unix(),
		string(rec.MetricSnapshot), encodeChannels(rec.ChannelsAttempted))
	if err != nil {
		return fmt.Errorf("sqlite insert trigger: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// UpdateTriggerOutcome records per-channel results after fan-out.
func (s *Store) UpdateTriggerOutcome(ctx context.Context, rec *model.TriggerRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_triggers SET channels_succeeded = ? WHERE id = ?
	`, encodeChannels(rec.ChannelsSucceeded), rec.ID)
	if err != nil {
		return fmt.Errorf("sqlite update trigger outcome: %w", err)
	}
	return nil
}

// BumpTriggerCounters increments trigger_count and stamps
// last_triggered_at.
func (s *Store) BumpTriggerCounters(ctx context.Context, alertID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET trigger_count = trigger_count + 1, last_triggered_at = ? WHERE id = ?
	`, at.Unix(), alertID)
	if err != nil {
		return fmt.Errorf("sqlite bump trigger counters: %w", err)
	}
	return nil
}

// CustomMetricsByOwner reads a user's stored formulas.
func (s *Store) CustomMetricsByOwner(ctx context.Context, userID int64) ([]model.CustomMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, formula, created_at
		FROM custom_metrics
		WHERE user_id = ?
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query custom metrics: %w", err)
	}
	defer rows.Close()

	var metrics []model.CustomMetric
	for rows.Next() {
		var (
			cm        model.CustomMetric
			createdAt int64
		)
		if err := rows.Scan(&cm.ID, &cm.UserID, &cm.Name, &cm.Formula, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite scan custom metric: %w", err)
		}
		cm.CreatedAt = time.Unix(createdAt, 0).UTC()
		metrics = append(metrics, cm)
	}
	return metrics, rows.Err()
}

// AllCustomMetrics reads every stored formula, for evaluator reloads.
func (s *Store) AllCustomMetrics(ctx context.Context) ([]model.CustomMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, formula, created_at FROM custom_metrics ORDER BY user_id, name
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query custom metrics: %w", err)
	}
	defer rows.Close()

	var metrics []model.CustomMetric
	for rows.Next() {
		var (
			cm        model.CustomMetric
			createdAt int64
		)
		if err := rows.Scan(&cm.ID, &cm.UserID, &cm.Name, &cm.Formula, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite scan custom metric: %w", err)
		}
		cm.CreatedAt = time.Unix(createdAt, 0).UTC()
		metrics = append(metrics, cm)
	}
	return metrics, rows.Err()
}

// CreateCustomMetric inserts a validated formula and fills in its ID.
func (s *Store) CreateCustomMetric(ctx context.Context, cm *model.CustomMetric) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_metrics (user_id, name, formula) VALUES (?, ?, ?)
	`, cm.UserID, cm.Name, cm.Formula)
	if err != nil {
		return fmt.Errorf("sqlite insert custom metric: %w", err)
	}
	cm.ID, err = res.LastInsertId()
	return err
}

// UserContact resolves delivery addressing for a user.
func (s *Store) UserContact(ctx context.Context, userID int64) (model.Contact, error) {
	c := model.Contact{UserID: userID}
	var phone, email sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, email FROM users WHERE id = ?`, userID,
	).Scan(&phone, &email)
	if err != nil {
		if err == sql.ErrNoRows {
			return c, fmt.Errorf("sqlite user %d not found", userID)
		}
		return c, fmt.Errorf("sqlite query user: %w", err)
	}
	c.Phone = phone.String
	c.Email = email.String
	return c, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Channels are stored comma-joined; order is not significant.
func encodeChannels(chs []model.ChannelKind) string {
	out := ""
	for i, c := range chs {
		if i > 0 {
			out += ","
		}
		out += string(c)
	}
	return out
}

func decodeChannels(s string) []model.ChannelKind {
	if s == "" {
		return nil
	}
	var out []model.ChannelKind
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, model.ChannelKind(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
