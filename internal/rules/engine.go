// Package rules provides the CEL-Go based custom rule detector.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// DetectorName labels custom rule findings.
const DetectorName = "custom_rules"

// ErrInvalidRule is returned for rules that fail validation or compilation.
var ErrInvalidRule = errors.New("invalid rule")

// Engine evaluates user-defined CEL rules against every transaction.
// It implements detect.Detector.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with transaction variables
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("signed_amount", cel.DoubleType),
		cel.Variable("vendor", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("account", cel.StringType),
		cel.Variable("employee", cel.StringType),
		cel.Variable("record_type", cel.StringType),
		// -1 when the transaction has no timestamp
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("day", cel.IntType),
		// Profile context for the run
		cel.Variable("z_score", cel.DoubleType),
		cel.Variable("vendor_count", cel.IntType),
		cel.Variable("vendor_total", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// Name implements detect.Detector.
func (e *Engine) Name() string { return DetectorName }

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", ErrInvalidRule)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces all loaded rules. On error the previous
// rule set stays in place.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations, ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	slices.SortFunc(rules, func(a, b *domain.RuleConfig) int { return strings.Compare(a.ID, b.ID) })
	return rules
}

// Detect evaluates all loaded rules against every transaction, rules in parallel.
func (e *Engine) Detect(in *detect.Input) ([]domain.Finding, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 || len(in.Transactions) == 0 {
		return nil, nil
	}
	slices.SortFunc(rules, func(a, b *CompiledRule) int { return strings.Compare(a.Config.ID, b.Config.ID) })

	activations := make([]map[string]any, len(in.Transactions))
	for i, tx := range in.Transactions {
		activations[i] = activation(tx, in.Profile)
	}

	// Parallel evaluation using worker pool pattern
	results := make([][]domain.Finding, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			defer func() {
				if p := recover(); p != nil {
					slog.Error("rule evaluation panicked",
						"rule_id", r.Config.ID,
						"panic", p,
					)
					results[idx] = nil
				}
			}()

			results[idx] = e.evaluateRule(r, in.Transactions, activations)
		}(i, rule)
	}

	wg.Wait()

	var out []domain.Finding
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// evaluateRule runs one rule over all transactions.
func (e *Engine) evaluateRule(rule *CompiledRule, txs []*domain.Transaction, activations []map[string]any) []domain.Finding {
	cfg := rule.Config
	var out []domain.Finding
	failures := 0

	for i, tx := range txs {
		val, _, err := rule.Program.Eval(activations[i])
		if err != nil {
			failures++
			continue
		}
		if matched, ok := val.(types.Bool); !ok || !bool(matched) {
			continue
		}

		out = append(out, detect.Finalize(domain.Finding{
			Type:         domain.FindingCustomRule,
			Detector:     DetectorName,
			Severity:     cfg.Severity,
			Confidence:   cfg.Confidence,
			Transactions: []*domain.Transaction{tx},
			Vendor:       tx.VendorKey,
			Evidence: map[string]any{
				"ruleId":     cfg.ID,
				"ruleName":   cfg.Name,
				"expression": cfg.Expression,
			},
			Description: fmt.Sprintf("Rule %q matched transaction %s", cfg.Name, tx.ID),
		}, cfg.ID))
	}

	if failures > 0 {
		slog.Warn("rule evaluation errors",
			"rule_id", cfg.ID,
			"failures", failures,
			"transactions", len(txs),
		)
	}
	return out
}

// activation builds the CEL variables for one transaction.
func activation(tx *domain.Transaction, p *domain.BehavioralProfile) map[string]any {
	hour, weekday, day := int64(-1), int64(-1), int64(-1)
	if tx.HasTimestamp() {
		hour = int64(tx.Timestamp.Hour())
		weekday = int64(tx.Timestamp.Weekday())
		day = int64(tx.Timestamp.Day())
	}

	var z, vendorTotal float64
	var vendorCount int64
	if p != nil {
		z = stats.ZScore(tx.AbsAmount(), p.Amounts.Mean, p.Amounts.StdDev)
		if v := p.Vendor(tx.VendorKey); v != nil {
			vendorCount = int64(v.Count)
			vendorTotal = v.Total
		}
	}

	return map[string]any{
		"amount":        tx.AbsAmount(),
		"signed_amount": tx.SignedAmount(),
		"vendor":        tx.Vendor,
		"category":      tx.Category,
		"description":   tx.Description,
		"account":       tx.AccountID,
		"employee":      tx.Employee,
		"record_type":   string(tx.RecordType),
		"hour":          hour,
		"weekday":       weekday,
		"day":           day,
		"z_score":       z,
		"vendor_count":  vendorCount,
		"vendor_total":  vendorTotal,
	}
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: rule id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return nil, fmt.Errorf("%w: rule %s has no expression", ErrInvalidRule, cfg.ID)
	}
	if cfg.Severity.Rank() == 0 {
		return nil, fmt.Errorf("%w: rule %s has unknown severity %q", ErrInvalidRule, cfg.ID, cfg.Severity)
	}
	if cfg.Confidence < 0 || cfg.Confidence > 100 {
		return nil, fmt.Errorf("%w: rule %s confidence must be within [0, 100]", ErrInvalidRule, cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", ErrInvalidRule, cfg.ID, issues.Err())
	}

	if outputType := ast.OutputType(); outputType != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", ErrInvalidRule, cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
