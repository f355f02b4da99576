package main

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadCases(t *testing.T) {
	input := `{"entityId":"a","fraud":true,"records":[{"amount":"1.00"}]}

{"fraud":false,"records":[]}
{"entityId":"c","fraud":false,"records":[]}
`
	t.Run("ParsesLines", func(t *testing.T) {
		cases, err := readCases(strings.NewReader(input), 0)
		if err != nil {
			t.Fatalf("readCases failed: %v", err)
		}
		if len(cases) != 3 {
			t.Fatalf("expected 3 cases, got %d", len(cases))
		}
		if !cases[0].Fraud || cases[0].EntityID != "a" {
			t.Errorf("unexpected first case %+v", cases[0])
		}
		if cases[1].EntityID != "case-3" {
			t.Errorf("expected generated entity id case-3, got %s", cases[1].EntityID)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		cases, err := readCases(strings.NewReader(input), 2)
		if err != nil {
			t.Fatalf("readCases failed: %v", err)
		}
		if len(cases) != 2 {
			t.Errorf("expected 2 cases, got %d", len(cases))
		}
	})

	t.Run("MalformedLine", func(t *testing.T) {
		_, err := readCases(strings.NewReader("{\"entityId\":\"a\"}\nnot json\n"), 0)
		if err == nil || !strings.Contains(err.Error(), "line 2") {
			t.Errorf("expected line 2 error, got %v", err)
		}
	})
}

func TestMetrics(t *testing.T) {
	m := &Metrics{}
	m.Record(true, true)
	m.Record(true, true)
	m.Record(true, false)
	m.Record(false, true)
	m.Record(false, false)

	if m.Total() != 5 {
		t.Errorf("expected 5 total, got %d", m.Total())
	}
	if math.Abs(m.Precision()-2.0/3.0) > 1e-9 {
		t.Errorf("unexpected precision %v", m.Precision())
	}
	if math.Abs(m.Recall()-2.0/3.0) > 1e-9 {
		t.Errorf("unexpected recall %v", m.Recall())
	}
	if math.Abs(m.F1()-2.0/3.0) > 1e-9 {
		t.Errorf("unexpected F1 %v", m.F1())
	}

	empty := &Metrics{}
	if empty.Precision() != 0 || empty.Recall() != 0 || empty.F1() != 0 {
		t.Error("empty metrics should be zero")
	}
}

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Header.Get("X-Tenant-ID") != "calib" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.EntityID == "broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		score := 10.0
		findings := []map[string]string{}
		if strings.HasPrefix(req.EntityID, "risky") {
			score = 80
			findings = append(findings, map[string]string{"type": "MICRO_SKIMMING"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":        "r-" + req.EntityID,
			"riskScore": score,
			"riskLevel": "LOW",
			"findings":  findings,
		})
	}))
	defer srv.Close()

	cases := []Case{
		{EntityID: "risky-1", Fraud: true, Records: json.RawMessage(`[]`)},
		{EntityID: "risky-2", Fraud: false, Records: json.RawMessage(`[]`)},
		{EntityID: "clean-1", Fraud: true, Records: json.RawMessage(`[]`)},
		{EntityID: "clean-2", Fraud: false, Records: json.RawMessage(`[]`)},
		{EntityID: "broken", Fraud: true, Records: json.RawMessage(`[]`)},
	}

	m := run(srv.Client(), cases, srv.URL, "calib", 50, 3, false)

	if m.TruePositives.Load() != 1 || m.FalsePositives.Load() != 1 ||
		m.FalseNegatives.Load() != 1 || m.TrueNegatives.Load() != 1 {
		t.Errorf("unexpected confusion matrix TP=%d FP=%d FN=%d TN=%d",
			m.TruePositives.Load(), m.FalsePositives.Load(), m.FalseNegatives.Load(), m.TrueNegatives.Load())
	}
	if m.Errors.Load() != 1 {
		t.Errorf("expected 1 error, got %d", m.Errors.Load())
	}
	if m.findingTypes["MICRO_SKIMMING"] != 2 {
		t.Errorf("expected 2 MICRO_SKIMMING findings, got %d", m.findingTypes["MICRO_SKIMMING"])
	}
}
