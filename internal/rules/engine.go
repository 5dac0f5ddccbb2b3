// Package rules provides the CEL-Go based custom rule engine. Custom rules
// are operator-defined boolean expressions over the parsed URL and the
// running score; they run after the built-in heuristics.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/phishguard/internal/analysis"
	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
	"github.com/opensource-finance/phishguard/internal/urlparse"
)

// ErrInvalidRule is returned for rule configs that fail validation.
var ErrInvalidRule = errors.New("invalid rule")

// EmptyFingerprint is the fingerprint of an engine with no rules loaded.
const EmptyFingerprint = "0"

// Engine is the CEL-based custom rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	fingerprint   string
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule engine with the URL variables declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("url", cel.StringType),
		cel.Variable("scheme", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("query", cel.StringType),
		cel.Variable("base_domain", cel.StringType),
		cel.Variable("registrable_domain", cel.StringType),
		cel.Variable("tld", cel.StringType),
		// Running state after the built-in rules and earlier custom rules
		cel.Variable("score", cel.IntType),
		cel.Variable("factor_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		fingerprint:   fingerprint(nil),
	}, nil
}

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
	e.fingerprint = fingerprint(e.compiledRules)

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

// ReloadRules clears all existing rules and loads new ones.
// On error the previously loaded set is kept.
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
	e.fingerprint = fingerprint(newRules)

	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations in
// evaluation order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	compiled, _ := e.snapshot()

	rules := make([]*domain.RuleConfig, len(compiled))
	for i, c := range compiled {
		rules[i] = c.Config
	}
	return rules
}

// Rules returns the loaded rules as scoring rules, ordered by name then ID.
// The returned slice is a snapshot; later reloads do not affect it.
func (e *Engine) Rules() []analysis.Rule {
	rules, _ := e.RuleSet()
	return rules
}

// Fingerprint identifies the loaded rule set. Engines holding the same rules
// report the same value, across processes and restarts.
func (e *Engine) Fingerprint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fingerprint
}

// RuleSet returns the scoring rules together with the fingerprint of the
// set they were taken from.
func (e *Engine) RuleSet() ([]analysis.Rule, string) {
	compiled, fp := e.snapshot()

	out := make([]analysis.Rule, len(compiled))
	for i, c := range compiled {
		out[i] = c.rule()
	}
	return out, fp
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	e.fingerprint = fingerprint(nil)
	return nil
}

func (e *Engine) snapshot() ([]*CompiledRule, string) {
	e.mu.RLock()
	compiled := ordered(e.compiledRules)
	fp := e.fingerprint
	e.mu.RUnlock()
	return compiled, fp
}

// ordered returns the rules in evaluation order: by name, then ID.
func ordered(rules map[string]*CompiledRule) []*CompiledRule {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, c := range rules {
		compiled = append(compiled, c)
	}

	sort.Slice(compiled, func(i, j int) bool {
		a, b := compiled[i].Config, compiled[j].Config
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return compiled
}

// fingerprint hashes every field that can change a rule's outcome, in
// evaluation order. An empty set is "0".
func fingerprint(rules map[string]*CompiledRule) string {
	if len(rules) == 0 {
		return EmptyFingerprint
	}
	d := xxhash.New()
	for _, c := range ordered(rules) {
		cfg := c.Config
		for _, field := range []string{
			cfg.ID, cfg.Name, cfg.Description, cfg.Expression,
			string(cfg.Level), strconv.Itoa(cfg.Deduction),
		} {
			_, _ = d.WriteString(field)
			_, _ = d.Write([]byte{0})
		}
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: rule %s: name is required", ErrInvalidRule, cfg.ID)
	}
	if !cfg.Level.Valid() {
		return nil, fmt.Errorf("%w: rule %s: unknown level %q", ErrInvalidRule, cfg.ID, cfg.Level)
	}
	if cfg.Deduction < 0 || cfg.Deduction > analysis.StartingScore {
		return nil, fmt.Errorf("%w: rule %s: deduction must be between 0 and %d", ErrInvalidRule, cfg.ID, analysis.StartingScore)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, cfg.ID, issues.Err())
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

// rule adapts the compiled program to the scoring fold. Evaluation errors
// count as no match.
func (c *CompiledRule) rule() analysis.Rule {
	return func(st analysis.State, p *urlparse.ParsedURL, raw string, _ *refdata.ReferenceData) analysis.Outcome {
		if !c.Matches(activation(st, p, raw)) {
			return analysis.Outcome{}
		}
		return analysis.Outcome{
			Deduction: c.Config.Deduction,
			Factors:   []domain.ThreatFactor{c.Config.Factor()},
		}
	}
}

// Matches evaluates the program against an activation.
func (c *CompiledRule) Matches(vars map[string]any) bool {
	out, _, err := c.Program.Eval(vars)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

func activation(st analysis.State, p *urlparse.ParsedURL, raw string) map[string]any {
	return map[string]any{
		"url":                raw,
		"scheme":             p.Scheme,
		"host":               p.Hostname,
		"path":               p.Path,
		"query":              p.Query,
		"base_domain":        p.BaseDomain,
		"registrable_domain": p.RegistrableDomain,
		"tld":                p.TLD,
		"score":              int64(st.Score),
		"factor_count":       int64(st.FactorCount),
	}
}
