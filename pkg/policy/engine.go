package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/titanworks/titan/pkg/remediation"
)

// Engine classifies equipment with the enabled Rego policies. It implements
// remediation.RegulationClassifier.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	query    rego.PreparedEvalQuery
	active   []string
	logger   zerolog.Logger
}

var _ remediation.RegulationClassifier = (*Engine)(nil)

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*Policy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, p := range GetBuiltinPolicies() {
		p := p
		e.policies[p.Name] = &p
	}
	if err := e.prepare(context.Background(), e.policies); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	e.logger.Info().Int("count", len(e.policies)).Msg("Built-in policies loaded")
	return e, nil
}

// prepare compiles the enabled policies of set into one prepared query and
// swaps it in. On error the engine keeps its previous query.
// Callers hold e.mu or own e exclusively.
func (e *Engine) prepare(ctx context.Context, set map[string]*Policy) error {
	names := make([]string, 0, len(set))
	for name, p := range set {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){rego.Query(Query)}
	for _, name := range names {
		p := set[name]
		module, err := ast.ParseModule(name, p.Rego)
		if err != nil {
			return fmt.Errorf("policy %s: %w", name, err)
		}
		if pkg := strings.TrimPrefix(module.Package.Path.String(), "data."); pkg != Package {
			return fmt.Errorf("policy %s: package %s, want %s", name, pkg, Package)
		}
		opts = append(opts, rego.Module(name, p.Rego))
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare regulation query: %w", err)
	}
	e.query = query
	e.active = names
	return nil
}

// Evaluate evaluates the regulation document for one equipment.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	start := time.Now()
	e.mu.RLock()
	query := e.query
	active := append([]string(nil), e.active...)
	e.mu.RUnlock()

	rs, err := query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("regulation evaluation error: %w", err)
	}

	d := &Decision{Policies: active, EvaluatedAt: time.Now()}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if doc, ok := rs[0].Expressions[0].Value.(map[string]interface{}); ok {
			decode(doc, d)
		}
	}
	d.Duration = time.Since(start)

	e.logger.Debug().
		Str("equipment_id", in.EquipmentID).
		Bool("regulated", d.Regulated).
		Str("framework", d.Framework).
		Dur("duration", d.Duration).
		Msg("Regulation evaluated")

	return d, nil
}

func decode(doc map[string]interface{}, d *Decision) {
	d.Regulated, _ = doc["regulated"].(bool)
	d.Framework, _ = doc["framework"].(string)

	matches, _ := doc["match"].([]interface{})
	for _, m := range matches {
		obj, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		var match Match
		match.Framework, _ = obj["framework"].(string)
		match.Reason, _ = obj["reason"].(string)
		match.Policy, _ = obj["policy"].(string)
		d.Matches = append(d.Matches, match)
	}
	sort.Slice(d.Matches, func(i, j int) bool { return d.Matches[i].Reason < d.Matches[j].Reason })
}

// Classify implements remediation.RegulationClassifier.
func (e *Engine) Classify(ctx context.Context, equipmentID, facilityID string) (remediation.Regulation, error) {
	d, err := e.Evaluate(ctx, Input{EquipmentID: equipmentID, FacilityID: facilityID})
	if err != nil {
		return remediation.Regulation{}, err
	}
	reg := remediation.Regulation{Regulated: d.Regulated, Framework: d.Framework}
	reasons := make([]string, 0, len(d.Matches))
	for _, m := range d.Matches {
		reasons = append(reasons, m.Reason)
	}
	reg.Reason = strings.Join(reasons, "; ")
	return reg, nil
}

// SetPolicies replaces the operator policies. Built-in policies are kept.
// When the new set fails to compile the previous one stays active.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*Policy, len(e.policies)+len(policies))
	for name, p := range e.policies {
		if p.Builtin {
			next[name] = p
		}
	}
	for i := range policies {
		p := policies[i]
		if existing, ok := next[p.Name]; ok && existing.Builtin {
			return fmt.Errorf("policy %s would replace a built-in policy", p.Name)
		}
		next[p.Name] = &p
	}

	if err := e.prepare(ctx, next); err != nil {
		e.logger.Error().Err(err).Msg("Rejected policy set, keeping previous")
		return err
	}
	e.policies = next
	e.logger.Info().Int("count", len(next)).Strs("active", e.active).Msg("Policies applied")
	return nil
}

// LoadPolicies loads operator policies from files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// Watch loads paths and reloads them whenever a .rego file changes.
// onReload, if set, is told the size of each applied set or why it failed.
func (e *Engine) Watch(ctx context.Context, paths []string, onReload func(count int, err error)) error {
	if err := e.LoadPolicies(ctx, paths); err != nil {
		return err
	}
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		err := e.SetPolicies(ctx, policies)
		if onReload != nil {
			onReload(len(policies), err)
		}
		return err
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	cp := *p
	return &cp, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, false)
}

func (e *Engine) setEnabled(ctx context.Context, name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	if p.Enabled == enabled {
		return nil
	}

	next := make(map[string]*Policy, len(e.policies))
	for n, q := range e.policies {
		next[n] = q
	}
	changed := *p
	changed.Enabled = enabled
	next[name] = &changed

	if err := e.prepare(ctx, next); err != nil {
		return err
	}
	e.policies = next
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
