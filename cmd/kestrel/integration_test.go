//go:build integration

// End-to-end checks against a running Kestrel instance.
//
// These tests exercise the complete analysis pipeline:
//
//	Records → Normalize → Profile → Detectors → Scoring → Report
//
// Run with: KESTREL_TEST_URL=http://localhost:8080 go test -tags=integration ./cmd/kestrel/...
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

type e2eConfig struct {
	BaseURL  string
	TenantID string
}

func getE2EConfig() e2eConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return e2eConfig{
		BaseURL:  baseURL,
		TenantID: fmt.Sprintf("e2e-%d", time.Now().UnixNano()),
	}
}

type e2eReport struct {
	ID           string  `json:"id"`
	EntityID     string  `json:"entityId"`
	TotalRecords int     `json:"totalRecords"`
	RiskScore    float64 `json:"riskScore"`
	RiskLevel    string  `json:"riskLevel"`
	Findings     []struct {
		Type     string `json:"type"`
		Severity string `json:"severity"`
	} `json:"findings"`
}

func (r e2eReport) has(findingType string) bool {
	for _, f := range r.Findings {
		if f.Type == findingType {
			return true
		}
	}
	return false
}

// call sends body as JSON and decodes the response into out when non-nil.
func call(t *testing.T, cfg e2eConfig, method, path string, body any, wantStatus int, out any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, cfg.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", cfg.TenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, respBody)
		}
	}
}

func TestE2EOrdinaryLedger(t *testing.T) {
	cfg := getE2EConfig()

	records := []map[string]any{
		{"id": "o-1", "date": "2025-03-03T10:00:00Z", "amount": "412.17", "vendor": "Acme Supplies", "category": "office"},
		{"id": "o-2", "date": "2025-03-04T11:00:00Z", "amount": "389.40", "vendor": "Globex", "category": "office"},
		{"id": "o-3", "date": "2025-03-05T14:00:00Z", "amount": "401.93", "vendor": "Initech", "category": "software"},
	}

	var report e2eReport
	call(t, cfg, http.MethodPost, "/analyze", map[string]any{"entityId": "ordinary", "records": records}, http.StatusOK, &report)

	if report.TotalRecords != 3 {
		t.Errorf("Expected 3 records, got %d", report.TotalRecords)
	}
	if report.RiskLevel == "CRITICAL" {
		t.Errorf("Ordinary ledger should not be critical, got score %.2f", report.RiskScore)
	}

	var stored e2eReport
	call(t, cfg, http.MethodGet, "/reports/"+report.ID, nil, http.StatusOK, &stored)
	if stored.ID != report.ID {
		t.Errorf("Stored report id mismatch: %s != %s", stored.ID, report.ID)
	}
}

func TestE2EMicroSkimming(t *testing.T) {
	cfg := getE2EConfig()

	records := make([]map[string]any, 0, 60)
	for i := range 60 {
		records = append(records, map[string]any{
			"id":     fmt.Sprintf("s-%d", i),
			"date":   fmt.Sprintf("2025-03-%02dT09:00:00Z", i%28+1),
			"amount": "0.0005",
			"vendor": "Rounding Sweep LLC",
		})
	}

	var report e2eReport
	call(t, cfg, http.MethodPost, "/analyze", map[string]any{"entityId": "skimmed", "records": records}, http.StatusOK, &report)

	if !report.has("MICRO_SKIMMING") {
		t.Errorf("Expected MICRO_SKIMMING finding, got %+v", report.Findings)
	}
}

func TestE2EDuplicatePayment(t *testing.T) {
	cfg := getE2EConfig()

	records := []map[string]any{
		{"id": "d-1", "date": "2025-03-03T10:00:00Z", "amount": "847.50", "vendor": "Acme Supplies", "reference": "INV-1"},
		{"id": "d-2", "date": "2025-03-03T10:30:00Z", "amount": "847.50", "vendor": "Acme Supplies", "reference": "INV-2"},
	}

	var report e2eReport
	call(t, cfg, http.MethodPost, "/analyze", map[string]any{"entityId": "dupes", "records": records}, http.StatusOK, &report)

	if !report.has("DUPLICATE_PAYMENT") {
		t.Errorf("Expected DUPLICATE_PAYMENT finding, got %+v", report.Findings)
	}
}

func TestE2EReconcile(t *testing.T) {
	cfg := getE2EConfig()

	body := map[string]any{
		"entityId": "books",
		"left": []map[string]any{
			{"id": "l-1", "date": "2025-03-03", "amount": "500.00", "vendor": "Acme"},
			{"id": "l-2", "date": "2025-03-04", "amount": "12000.00", "vendor": "Globex"},
		},
		"right": []map[string]any{
			{"id": "r-1", "date": "2025-03-04", "amount": "500.00", "vendor": "Acme"},
		},
	}

	var resp struct {
		Report        e2eReport `json:"report"`
		Balanced      bool      `json:"balanced"`
		UnmatchedLeft []any     `json:"unmatchedLeft"`
	}
	call(t, cfg, http.MethodPost, "/reconcile", body, http.StatusOK, &resp)

	if resp.Balanced {
		t.Error("Expected ledgers to be unbalanced")
	}
	if len(resp.UnmatchedLeft) != 1 {
		t.Errorf("Expected 1 unmatched left entry, got %d", len(resp.UnmatchedLeft))
	}
	if !resp.Report.has("UNMATCHED_ENTRY") {
		t.Errorf("Expected UNMATCHED_ENTRY finding, got %+v", resp.Report.Findings)
	}
}

func TestE2ECustomRule(t *testing.T) {
	cfg := getE2EConfig()
	ruleID := fmt.Sprintf("e2e-rule-%d", time.Now().UnixNano())

	call(t, cfg, http.MethodPost, "/rules", map[string]any{
		"id":         ruleID,
		"name":       "Large Globex payment",
		"expression": `amount > 5000.0 && vendor == "Globex"`,
		"severity":   "HIGH",
		"confidence": 80,
		"enabled":    true,
	}, http.StatusCreated, nil)
	t.Cleanup(func() {
		call(t, cfg, http.MethodDelete, "/rules/"+ruleID, nil, http.StatusNoContent, nil)
		call(t, cfg, http.MethodPost, "/rules/reload", nil, http.StatusOK, nil)
	})
	call(t, cfg, http.MethodPost, "/rules/reload", nil, http.StatusOK, nil)

	records := []map[string]any{
		{"id": "c-1", "date": "2025-03-03T10:00:00Z", "amount": "7500.00", "vendor": "Globex"},
	}
	var report e2eReport
	call(t, cfg, http.MethodPost, "/analyze", map[string]any{"entityId": "rules", "records": records}, http.StatusOK, &report)

	if !report.has("CUSTOM_RULE") {
		t.Errorf("Expected CUSTOM_RULE finding, got %+v", report.Findings)
	}
}
