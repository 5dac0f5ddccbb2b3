// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/phishguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// MaxListLimit caps the number of scans returned by ListScans.
const MaxListLimit = 100

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveScan stores one analysis in the scan history.
func (r *SQLRepository) SaveScan(ctx context.Context, scan *domain.Scan) error {
	if scan == nil || scan.ID == "" || scan.URL == "" {
		return fmt.Errorf("%w: scan id and url are required", ErrInvalidInput)
	}
	if scan.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	factors, err := json.Marshal(scan.Result.ThreatFactors)
	if err != nil {
		return fmt.Errorf("failed to encode threat factors: %w", err)
	}

	createdAt := scan.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scans (
			id, user_id, url, safety_score, is_phishing, verdict,
			threat_factors, cached, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		scan.ID, scan.UserID, scan.URL,
		scan.Result.SafetyScore, boolToInt(scan.Result.IsPhishing), string(scan.Verdict),
		string(factors), boolToInt(scan.Cached), createdAt,
	)
	return err
}

// GetScan retrieves a scan by ID. Scans of other users are reported as not found.
func (r *SQLRepository) GetScan(ctx context.Context, userID string, scanID string) (*domain.Scan, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, url, safety_score, is_phishing, verdict,
			   threat_factors, cached, created_at
		FROM scans
		WHERE user_id = ? AND id = ?
	`

	scan, err := scanRow(r.db.QueryRowContext(ctx, r.rebind(query), userID, scanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// ListScans returns the most recent scans of a user, newest first.
// limit is clamped to [1, MaxListLimit].
func (r *SQLRepository) ListScans(ctx context.Context, userID string, limit int) ([]*domain.Scan, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	limit = min(max(limit, 1), MaxListLimit)

	query := `
		SELECT id, user_id, url, safety_score, is_phishing, verdict,
			   threat_factors, cached, created_at
		FROM scans
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ` + strconv.Itoa(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []*domain.Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}

	return scans, rows.Err()
}

// CountScans returns the total number of scans across all users.
func (r *SQLRepository) CountScans(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans`).Scan(&n)
	return n, err
}

// CountPhishing returns the number of scans flagged as phishing.
func (r *SQLRepository) CountPhishing(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans WHERE is_phishing = 1`).Scan(&n)
	return n, err
}

// SaveRuleConfig stores or updates a custom rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO rule_configs (
			id, name, description, expression, level, deduction, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			level = excluded.level,
			deduction = excluded.deduction,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		string(rule.Level), rule.Deduction, boolToInt(rule.Enabled),
		createdAt, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration, enabled or not.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, level, deduction, enabled, created_at, updated_at
		FROM rule_configs
		WHERE id = ?
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves all rule configurations ordered by name then ID.
// Disabled rules are included; callers filter on Enabled.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, level, deduction, enabled, created_at, updated_at
		FROM rule_configs
		ORDER BY name, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// DisableRuleConfig soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DisableRuleConfig(ctx context.Context, ruleID string) error {
	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*domain.Scan, error) {
	var s domain.Scan
	var factors, verdict string
	var isPhishing, cached int

	if err := row.Scan(
		&s.ID, &s.UserID, &s.URL, &s.Result.SafetyScore, &isPhishing, &verdict,
		&factors, &cached, &s.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(factors), &s.Result.ThreatFactors); err != nil {
		return nil, fmt.Errorf("failed to parse threat factors for scan %s: %w", s.ID, err)
	}
	s.Result.URL = s.URL
	s.Result.IsPhishing = isPhishing == 1
	s.Verdict = domain.Verdict(verdict)
	s.Cached = cached == 1

	return &s, nil
}

func scanRule(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var level string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.Name, &description, &cfg.Expression, &level,
		&cfg.Deduction, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Level = domain.Level(level)
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
