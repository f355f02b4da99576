// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

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

	// Configure connection pool
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

const transactionColumns = `id, tenant_id, entity_id, timestamp, amount, balance,
	vendor, vendor_key, category, description, account_id, employee, reference, record_type`

// SaveTransactions upserts a batch of transactions in one database transaction.
// Transactions are keyed by tenant, entity and ID.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []*domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(txs) == 0 {
		return nil
	}

	query := r.rebind(`
		INSERT INTO transactions (` + transactionColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, entity_id, id) DO UPDATE SET
			timestamp = excluded.timestamp,
			amount = excluded.amount,
			balance = excluded.balance,
			vendor = excluded.vendor,
			vendor_key = excluded.vendor_key,
			category = excluded.category,
			description = excluded.description,
			account_id = excluded.account_id,
			employee = excluded.employee,
			reference = excluded.reference,
			record_type = excluded.record_type
	`)

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
		}

		var ts sql.NullTime
		if tx.HasTimestamp() {
			ts = sql.NullTime{Time: tx.Timestamp.UTC(), Valid: true}
		}
		var balance sql.NullString
		if tx.Balance != nil {
			balance = sql.NullString{String: tx.Balance.String(), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			tx.ID, tenantID, tx.EntityID, ts, tx.Amount.String(), balance,
			tx.Vendor, tx.VendorKey, tx.Category, tx.Description,
			tx.AccountID, tx.Employee, tx.Reference, string(tx.RecordType),
			now,
		); err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
		}
	}

	return dbtx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var ts sql.NullTime
	var amount string
	var balance sql.NullString
	var recordType string

	if err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.EntityID, &ts, &amount, &balance,
		&tx.Vendor, &tx.VendorKey, &tx.Category, &tx.Description,
		&tx.AccountID, &tx.Employee, &tx.Reference, &recordType,
	); err != nil {
		return nil, err
	}

	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", tx.ID, err)
	}
	if balance.Valid {
		b, err := decimal.NewFromString(balance.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance for transaction %s: %w", tx.ID, err)
		}
		tx.Balance = &b
	}
	if ts.Valid {
		tx.Timestamp = ts.Time.UTC()
	}
	tx.RecordType = domain.RecordType(recordType)
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND id = ?
		LIMIT 1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// GetTransactionsByEntity retrieves an entity's transactions at or after since,
// oldest first, with tenant isolation. Undated transactions are included.
func (r *SQLRepository) GetTransactionsByEntity(ctx context.Context, tenantID string, entityID string, since time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ?
		  AND entity_id = ?
		  AND (timestamp IS NULL OR timestamp >= ?)
		ORDER BY timestamp, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, entityID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SaveReport stores a report. The full report is kept as a JSON document
// alongside the columns needed for listing.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.AnalysisReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report ID is required", ErrInvalidInput)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	summary := report.Summary()
	top, _ := json.Marshal(summary.TopFindings)

	query := `
		INSERT INTO reports (
			id, tenant_id, entity_id, risk_score, risk_level, finding_count,
			top_findings, generated_at, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.EntityID,
		report.RiskScore, string(report.RiskLevel), summary.FindingCount,
		string(top), report.GeneratedAt.UTC(), string(body),
	)
	return err
}

// GetReport retrieves a full report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.AnalysisReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT body FROM reports WHERE tenant_id = ? AND id = ?`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.AnalysisReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", reportID, err)
	}
	return &report, nil
}

// ListReports returns report summaries, newest first. An empty entityID lists
// every entity of the tenant.
func (r *SQLRepository) ListReports(ctx context.Context, tenantID string, entityID string, limit int) ([]*domain.ReportSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, entity_id, risk_score, risk_level, finding_count, top_findings
		FROM reports
		WHERE tenant_id = ?`
	args := []any{tenantID}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY generated_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.ReportSummary
	for rows.Next() {
		var s domain.ReportSummary
		var level, top string
		if err := rows.Scan(&s.ReportID, &s.TenantID, &s.EntityID, &s.RiskScore, &level, &s.FindingCount, &top); err != nil {
			return nil, err
		}
		s.RiskLevel = domain.RiskLevel(level)
		if err := json.Unmarshal([]byte(top), &s.TopFindings); err != nil {
			return nil, fmt.Errorf("failed to parse top findings of %s: %w", s.ReportID, err)
		}
		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation. Saving an
// existing ID and version updates it in place.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, severity, confidence, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			confidence = excluded.confidence,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(rule.Severity), rule.Confidence, enabled,
		now, now,
	)
	return err
}

const ruleColumns = `id, tenant_id, name, description, version, expression, severity, confidence, enabled, created_at, updated_at`

func scanRule(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var severity string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &severity, &cfg.Confidence, &enabled,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Severity = domain.Severity(severity)
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// GetRuleConfig retrieves the latest active version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves the latest active version of every rule for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id, version DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
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
		// Rows are ordered newest version first within an ID
		if n := len(configs); n > 0 && configs[n-1].ID == cfg.ID {
			continue
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// DeleteRuleConfig soft-deletes every version of a rule by setting enabled = 0.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
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

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
		n++
	}
	return b.String()
}
