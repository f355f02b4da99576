// Calibration tool for tuning Kestrel detector thresholds against labeled data.
//
// Usage:
//
//	go run ./cmd/calibrate -cases /path/to/cases.jsonl -url http://localhost:8080
//
// Each line of the cases file is one labeled ledger:
//
//	{"entityId":"acct-1","fraud":true,"records":[{...}],"config":{...}}
//
// This tool:
//  1. Sends each ledger to POST /analyze
//  2. Treats riskScore >= -threshold as a fraud prediction
//  3. Compares predictions with the labels
//  4. Prints precision, recall, F1 and the per-type finding counts
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Case is one labeled ledger.
type Case struct {
	EntityID string          `json:"entityId"`
	Fraud    bool            `json:"fraud"`
	Records  json.RawMessage `json:"records"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// analyzeRequest mirrors the POST /analyze body.
type analyzeRequest struct {
	EntityID string          `json:"entityId"`
	Records  json.RawMessage `json:"records"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// analyzeResponse is the subset of the report the tool reads.
type analyzeResponse struct {
	ID        string  `json:"id"`
	RiskScore float64 `json:"riskScore"`
	RiskLevel string  `json:"riskLevel"`
	Findings  []struct {
		Type string `json:"type"`
	} `json:"findings"`
}

// Metrics tracks calibration results.
type Metrics struct {
	TruePositives  atomic.Int64
	FalsePositives atomic.Int64
	TrueNegatives  atomic.Int64
	FalseNegatives atomic.Int64

	Errors           atomic.Int64
	ProcessingTimeMs atomic.Int64

	mu           sync.Mutex
	findingTypes map[string]int
}

// Record adds one prediction to the confusion matrix.
func (m *Metrics) Record(predicted, actual bool) {
	switch {
	case predicted && actual:
		m.TruePositives.Add(1)
	case predicted && !actual:
		m.FalsePositives.Add(1)
	case !predicted && !actual:
		m.TrueNegatives.Add(1)
	default:
		m.FalseNegatives.Add(1)
	}
}

// CountFindings tallies finding types seen in a report.
func (m *Metrics) CountFindings(resp *analyzeResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findingTypes == nil {
		m.findingTypes = make(map[string]int)
	}
	for _, f := range resp.Findings {
		m.findingTypes[f.Type]++
	}
}

// Precision is TP / (TP + FP), or 0 with no positive predictions.
func (m *Metrics) Precision() float64 {
	tp, fp := m.TruePositives.Load(), m.FalsePositives.Load()
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

// Recall is TP / (TP + FN), or 0 with no labeled fraud.
func (m *Metrics) Recall() float64 {
	tp, fn := m.TruePositives.Load(), m.FalseNegatives.Load()
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Total is the number of cases that produced a prediction.
func (m *Metrics) Total() int64 {
	return m.TruePositives.Load() + m.FalsePositives.Load() + m.TrueNegatives.Load() + m.FalseNegatives.Load()
}

func main() {
	casesPath := flag.String("cases", "", "Path to labeled JSON lines file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "calibration", "Tenant ID for requests")
	threshold := flag.Float64("threshold", 50, "Risk score at or above which a ledger counts as fraud")
	limit := flag.Int("limit", 0, "Maximum cases to process (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *casesPath == "" {
		fmt.Println("Usage: calibrate -cases /path/to/cases.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL CALIBRATION - Labeled Ledgers              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCases File:  %s\n", *casesPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Threshold:   %.1f\n", *threshold)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	client := &http.Client{Timeout: 60 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	f, err := os.Open(*casesPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	cases, err := readCases(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d cases\n", len(cases))

	start := time.Now()
	metrics := run(client, cases, *baseURL, *tenantID, *threshold, *workers, *verbose)
	printResults(metrics, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readCases parses one Case per non-blank line.
func readCases(r io.Reader, limit int) ([]Case, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)

	var cases []Case
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c Case
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.EntityID == "" {
			c.EntityID = fmt.Sprintf("case-%d", line)
		}
		cases = append(cases, c)
		if limit > 0 && len(cases) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

func run(client *http.Client, cases []Case, baseURL, tenantID string, threshold float64, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	work := make(chan Case, numWorkers)
	var wg sync.WaitGroup

	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				start := time.Now()
				resp, err := analyze(client, baseURL, tenantID, c)
				metrics.ProcessingTimeMs.Add(time.Since(start).Milliseconds())
				if err != nil {
					metrics.Errors.Add(1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.EntityID, err)
					}
					continue
				}

				predicted := resp.RiskScore >= threshold
				metrics.Record(predicted, c.Fraud)
				metrics.CountFindings(resp)

				if verbose {
					status := "✓"
					if predicted != c.Fraud {
						status = "✗"
					}
					fmt.Printf("%s %-16s | Fraud: %-5v | Score: %6.2f %-8s | Findings: %d\n",
						status, c.EntityID, c.Fraud, resp.RiskScore, resp.RiskLevel, len(resp.Findings))
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)
	wg.Wait()

	return metrics
}

func analyze(client *http.Client, baseURL, tenantID string, c Case) (*analyzeResponse, error) {
	body, err := json.Marshal(analyzeRequest{
		EntityID: c.EntityID,
		Records:  c.Records,
		Config:   c.Config,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, errors.New("response carries no report id")
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    CALIBRATION RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nCases:      %d\n", m.Total())
	fmt.Printf("Errors:     %d\n", m.Errors.Load())

	fmt.Println("\nCONFUSION MATRIX")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD       CLEAN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives.Load(), m.FalseNegatives.Load())
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives.Load(), m.TrueNegatives.Load())
	fmt.Println("              └──────────┴──────────┘")

	fmt.Println("\nDETECTION METRICS")
	fmt.Printf("   Precision:  %.4f\n", m.Precision())
	fmt.Printf("   Recall:     %.4f\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())

	m.mu.Lock()
	types := make([]string, 0, len(m.findingTypes))
	for t := range m.findingTypes {
		types = append(types, t)
	}
	slices.Sort(types)
	if len(types) > 0 {
		fmt.Println("\nFINDINGS BY TYPE")
		for _, t := range types {
			fmt.Printf("   %-28s %d\n", t, m.findingTypes[t])
		}
	}
	m.mu.Unlock()

	fmt.Println("\nPERFORMANCE")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n := m.Total() + m.Errors.Load(); n > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs.Load())/float64(n))
	}
	fmt.Println()
}
