package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"falconeye/internal/models"
)

// Repository is the single storage implementation. Callers depend on the
// narrow interfaces they declare, never on the backend.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

// InsertSample appends one sample and synchronously prunes that server's
// history down to keep rows, in one transaction.
func (r *Repository) InsertSample(ctx context.Context, s models.StatSample, keep int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO stats (server_name, timestamp, cpu_percent, ram_percent, disk_percent)
		VALUES (?, ?, ?, ?, ?)`,
		s.ServerName, s.Timestamp.UTC(), s.CPUPercent, s.RAMPercent, s.DiskPercent)
	if err != nil {
		return err
	}
	if err := pruneToCap(ctx, tx, s.ServerName, keep); err != nil {
		return err
	}
	return tx.Commit()
}

// PruneToCap deletes all but the keep most-recent rows for a server.
func (r *Repository) PruneToCap(ctx context.Context, serverName string, keep int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := pruneToCap(ctx, tx, serverName, keep); err != nil {
		return err
	}
	return tx.Commit()
}

func pruneToCap(ctx context.Context, tx *sql.Tx, serverName string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM stats
		WHERE server_name = ? AND rowid NOT IN (
			SELECT rowid FROM stats WHERE server_name = ?
			ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)`, serverName, serverName, keep)
	return err
}

// CountSamples returns the number of stored rows for a server.
func (r *Repository) CountSamples(ctx context.Context, serverName string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stats WHERE server_name = ?`, serverName).Scan(&n)
	return n, err
}

var resourceColumns = map[models.Resource]string{
	models.ResourceCPU:  "cpu_percent",
	models.ResourceRAM:  "ram_percent",
	models.ResourceDisk: "disk_percent",
}

// SamplesInWindow returns the resource values for a server with timestamps
// at or after since, oldest first.
func (r *Repository) SamplesInWindow(ctx context.Context, serverName string, resource models.Resource, since time.Time) ([]float64, error) {
	col, ok := resourceColumns[resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", resource)
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM stats WHERE server_name = ? AND timestamp >= ? ORDER BY timestamp ASC`, col),
		serverName, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// CreateRule inserts a rule and returns its id.
func (r *Repository) CreateRule(ctx context.Context, rule models.AlertRule) (int64, error) {
	if !rule.Resource.Valid() {
		return 0, fmt.Errorf("unknown resource %q", rule.Resource)
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO alert_rules
		(name, server_pattern, resource, threshold, window_minutes, recipients, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.Name, rule.ServerPattern, string(rule.Resource), rule.Threshold,
		rule.WindowMinutes, rule.Recipients, rule.Enabled)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const ruleColumns = `id, name, server_pattern, resource, threshold, window_minutes, recipients, enabled, last_triggered_at, created_at`

// GetRule fetches one rule by id.
func (r *Repository) GetRule(ctx context.Context, id int64) (models.AlertRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	return scanRule(row)
}

// ListRules returns all rules, newest first.
func (r *Repository) ListRules(ctx context.Context) ([]models.AlertRule, error) {
	return r.listRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY id DESC`)
}

// ListEnabledRules returns the rules the evaluator considers.
func (r *Repository) ListEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	return r.listRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = 1 ORDER BY id`)
}

func (r *Repository) listRules(ctx context.Context, query string) ([]models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpdateRule overwrites the user-editable fields of a rule.
func (r *Repository) UpdateRule(ctx context.Context, rule models.AlertRule) error {
	if !rule.Resource.Valid() {
		return fmt.Errorf("unknown resource %q", rule.Resource)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE alert_rules
		SET name = ?, server_pattern = ?, resource = ?, threshold = ?, window_minutes = ?, recipients = ?, enabled = ?
		WHERE id = ?`,
		rule.Name, rule.ServerPattern, string(rule.Resource), rule.Threshold,
		rule.WindowMinutes, rule.Recipients, rule.Enabled, rule.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res, rule.ID)
}

// DeleteRule removes a rule.
func (r *Repository) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, id)
}

// SetRuleEnabled toggles a rule.
func (r *Repository) SetRuleEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alert_rules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, id)
}

// SetLastTriggered records a trigger time for the cooldown gate.
func (r *Repository) SetLastTriggered(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alert_rules SET last_triggered_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, id)
}

func requireRowAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert rule %d not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (models.AlertRule, error) {
	var rule models.AlertRule
	var resource string
	var last sql.NullTime
	err := row.Scan(&rule.ID, &rule.Name, &rule.ServerPattern, &resource, &rule.Threshold,
		&rule.WindowMinutes, &rule.Recipients, &rule.Enabled, &last, &rule.CreatedAt)
	if err != nil {
		return models.AlertRule{}, err
	}
	rule.Resource = models.Resource(resource)
	if last.Valid {
		t := last.Time
		rule.LastTriggeredAt = &t
	}
	return rule, nil
}
