package repository

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2025, 3, 4, 11, 0, 0, 0, time.UTC)
	balance := decimal.RequireFromString("10250.1234")

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:          "tx-001",
			EntityID:    "entity-001",
			Timestamp:   base,
			Amount:      decimal.RequireFromString("-847.5037"),
			Balance:     &balance,
			Vendor:      "Office Depot, Inc.",
			VendorKey:   "office depot",
			Category:    "supplies",
			Description: "Toner",
			Reference:   "INV-7",
			RecordType:  domain.RecordBankStatement,
		}

		if err := repo.SaveTransactions(ctx, tenantID, []*domain.Transaction{tx}); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if !got.Amount.Equal(tx.Amount) {
			t.Errorf("expected Amount %s, got %s", tx.Amount, got.Amount)
		}
		if got.Balance == nil || !got.Balance.Equal(balance) {
			t.Errorf("expected Balance %s, got %v", balance, got.Balance)
		}
		if !got.Timestamp.Equal(base) {
			t.Errorf("expected Timestamp %v, got %v", base, got.Timestamp)
		}
		if got.TenantID != tenantID || got.EntityID != "entity-001" {
			t.Errorf("expected tenant/entity %s/entity-001, got %s/%s", tenantID, got.TenantID, got.EntityID)
		}
		if got.VendorKey != "office depot" || got.RecordType != domain.RecordBankStatement || got.Reference != "INV-7" {
			t.Errorf("unexpected fields: %+v", got)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:        "tx-001",
			EntityID:  "entity-001",
			Timestamp: base,
			Amount:    decimal.RequireFromString("-900"),
			Vendor:    "Office Depot",
			VendorKey: "office depot",
		}
		if err := repo.SaveTransactions(ctx, tenantID, []*domain.Transaction{tx}); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		got, _ := repo.GetTransaction(ctx, tenantID, "tx-001")
		if !got.Amount.Equal(decimal.NewFromInt(-900)) || got.Balance != nil {
			t.Errorf("expected updated row, got amount %s balance %v", got.Amount, got.Balance)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "tx-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveTransactions(ctx, "", []*domain.Transaction{{ID: "tx-test"}}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.GetTransaction(ctx, "", "tx-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListReports(ctx, "", "", 10); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("RejectsBatchWithMissingID", func(t *testing.T) {
		batch := []*domain.Transaction{
			{ID: "tx-ok", EntityID: "entity-batch", Amount: decimal.NewFromInt(1)},
			{EntityID: "entity-batch", Amount: decimal.NewFromInt(2)},
		}
		if err := repo.SaveTransactions(ctx, tenantID, batch); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.GetTransaction(ctx, tenantID, "tx-ok"); !errors.Is(err, ErrNotFound) {
			t.Errorf("batch should roll back, got: %v", err)
		}
	})

	t.Run("GetTransactionsByEntity", func(t *testing.T) {
		batch := []*domain.Transaction{
			{ID: "tx-old", EntityID: "entity-001", Timestamp: base.AddDate(0, -6, 0), Amount: decimal.NewFromInt(1)},
			{ID: "tx-002", EntityID: "entity-001", Timestamp: base.Add(time.Hour), Amount: decimal.NewFromInt(2)},
			{ID: "tx-undated", EntityID: "entity-001", Amount: decimal.NewFromInt(3)},
			{ID: "tx-other", EntityID: "entity-002", Timestamp: base, Amount: decimal.NewFromInt(4)},
		}
		if err := repo.SaveTransactions(ctx, tenantID, batch); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		txs, err := repo.GetTransactionsByEntity(ctx, tenantID, "entity-001", base.AddDate(0, -1, 0))
		if err != nil {
			t.Fatalf("GetTransactionsByEntity failed: %v", err)
		}

		ids := make(map[string]bool)
		for _, tx := range txs {
			ids[tx.ID] = true
		}
		if len(txs) != 3 || !ids["tx-001"] || !ids["tx-002"] || !ids["tx-undated"] {
			t.Errorf("unexpected transactions: %v", ids)
		}
	})

	t.Run("Reports", func(t *testing.T) {
		for i, entity := range []string{"entity-001", "entity-001", "entity-002"} {
			report := &domain.AnalysisReport{
				ID:          "report-00" + string(rune('1'+i)),
				TenantID:    tenantID,
				EntityID:    entity,
				GeneratedAt: base.Add(time.Duration(i) * time.Minute),
				RiskScore:   float64(25 * (i + 1)),
				RiskLevel:   domain.RiskMedium,
				Findings: []domain.ScoredFinding{{
					Finding: domain.Finding{
						ID:          "f-1",
						Type:        domain.FindingDuplicatePayment,
						Severity:    domain.SeverityCritical,
						Confidence:  95,
						Description: "Possible duplicate payment",
						Evidence:    map[string]any{"gapMinutes": 30.0},
					},
					AnomalyScore: 100,
				}},
				Metadata: domain.ReportMetadata{EngineVersion: "test", AnalysisDepth: domain.DepthStandard},
			}
			if err := repo.SaveReport(ctx, tenantID, report); err != nil {
				t.Fatalf("SaveReport failed: %v", err)
			}
		}

		got, err := repo.GetReport(ctx, tenantID, "report-001")
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if len(got.Findings) != 1 || got.Findings[0].Evidence["gapMinutes"] != 30.0 {
			t.Errorf("findings not preserved: %+v", got.Findings)
		}
		if got.Metadata.AnalysisDepth != domain.DepthStandard {
			t.Errorf("metadata not preserved: %+v", got.Metadata)
		}

		all, err := repo.ListReports(ctx, tenantID, "", 10)
		if err != nil {
			t.Fatalf("ListReports failed: %v", err)
		}
		if len(all) != 3 || all[0].ReportID != "report-003" {
			t.Fatalf("expected 3 reports newest first, got %d", len(all))
		}
		if all[0].FindingCount != 1 || len(all[0].TopFindings) != 1 {
			t.Errorf("summary = %+v", all[0])
		}

		entity, _ := repo.ListReports(ctx, tenantID, "entity-001", 1)
		if len(entity) != 1 || entity[0].ReportID != "report-002" {
			t.Errorf("expected latest entity-001 report, got %+v", entity)
		}

		if _, err := repo.GetReport(ctx, "tenant-002", "report-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RuleConfigs", func(t *testing.T) {
		rules := []*domain.RuleConfig{
			{ID: "large-cash", Name: "Large cash", Version: "1", Expression: "amount > 10000.0", Severity: domain.SeverityHigh, Confidence: 70, Enabled: true},
			{ID: "large-cash", Name: "Large cash", Version: "2", Expression: "amount > 9000.0", Severity: domain.SeverityHigh, Confidence: 75, Enabled: true},
			{ID: "weekend", Name: "Weekend", Version: "1", Expression: "weekday == 0 || weekday == 6", Severity: domain.SeverityMedium, Confidence: 50, Enabled: true},
		}
		for _, r := range rules {
			if err := repo.SaveRuleConfig(ctx, tenantID, r); err != nil {
				t.Fatalf("SaveRuleConfig failed: %v", err)
			}
		}

		got, err := repo.GetRuleConfig(ctx, tenantID, "large-cash")
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Version != "2" || got.Confidence != 75 || got.Severity != domain.SeverityHigh {
			t.Errorf("expected latest version, got %+v", got)
		}

		list, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(list) != 2 || list[0].ID != "large-cash" || list[0].Version != "2" {
			t.Errorf("expected one entry per rule, got %d", len(list))
		}

		if err := repo.DeleteRuleConfig(ctx, tenantID, "weekend"); err != nil {
			t.Fatalf("DeleteRuleConfig failed: %v", err)
		}
		if _, err := repo.GetRuleConfig(ctx, tenantID, "weekend"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteRuleConfig(ctx, tenantID, "weekend"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got: %v", err)
		}
	})
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tx := &domain.Transaction{ID: "tx-1", EntityID: "e", Amount: decimal.RequireFromString("0.0003")}
	if err := repo.SaveTransactions(ctx, "tenant-001", []*domain.Transaction{tx}); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}
	got, err := repo.GetTransaction(ctx, "tenant-001", "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if got.Amount.String() != "0.0003" || got.HasTimestamp() {
		t.Errorf("unexpected transaction: amount %s timestamp %v", got.Amount, got.Timestamp)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		if result := repo.rebind(tt.input); result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "kestrel", PostgresPassword: "it's secret"})

	for _, want := range []string{"host=localhost", "port=5432", "dbname=kestrel", "sslmode=disable", `password='it\'s secret'`} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}
