// Package catalog holds user-authored indicators and resolves indicator
// names to their built-in or formula-backed implementations.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"strategylab/internal/domain"
	"strategylab/internal/formula"
	"strategylab/internal/indicator"
)

// Spec describes a custom indicator. A registered Spec is never mutated;
// registering the same name again replaces it.
type Spec struct {
	Name       string             `json:"name" yaml:"name"`
	Formula    string             `json:"formula" yaml:"formula"`
	Parameters map[string]float64 `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

type entry struct {
	spec Spec
	prog *formula.Program
}

// maxMemo bounds the number of memoised series before the memo is reset.
const maxMemo = 4096

// Registry is a caller-owned set of custom indicators. It is safe for
// concurrent use, so one registry can serve several simulations at once.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	memo    map[uuid.UUID]indicator.Series
	gen     uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		memo:    make(map[uuid.UUID]indicator.Series),
	}
}

func checkName(name string) error {
	if !formula.IsIdentifier(name) {
		return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("%q is not a valid identifier", name)}
	}
	if formula.IsReserved(name) {
		return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("%q is reserved", name)}
	}
	if _, ok := indicator.ParseKind(name); ok {
		return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("%q is a built-in indicator", name)}
	}
	return nil
}

// Register compiles spec and adds it, replacing any indicator of the same
// name. The formula may reference indicators that are already registered;
// an unknown identifier or a reference cycle fails here.
func (r *Registry) Register(spec Spec) error {
	if err := checkName(spec.Name); err != nil {
		return err
	}
	for p := range spec.Parameters {
		if formula.IsReserved(p) || !formula.IsIdentifier(p) {
			return &domain.ValidationError{Field: "parameters", Reason: fmt.Sprintf("%q cannot name a parameter", p)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		if name != spec.Name {
			names = append(names, name)
		}
	}
	prog, err := formula.Compile(spec.Formula, formula.Options{
		Params:     spec.Parameters,
		Indicators: names,
	})
	if err != nil {
		return fmt.Errorf("registering %s: %w", spec.Name, err)
	}
	if path := r.cycleLocked(spec.Name, prog.References()); path != nil {
		return &formula.EvaluationError{Token: spec.Name, Reason: fmt.Sprintf("reference cycle %v", path)}
	}

	stored := Spec{Name: spec.Name, Formula: spec.Formula, Parameters: prog.Params()}
	r.entries[spec.Name] = &entry{spec: stored, prog: prog}
	r.resetMemoLocked()
	return nil
}

// RegisterAll registers specs in dependency order, so specs loaded from
// storage may reference each other regardless of their order.
func (r *Registry) RegisterAll(specs []Spec) error {
	pending := append([]Spec(nil), specs...)
	for len(pending) > 0 {
		var next []Spec
		var firstErr error
		for _, s := range pending {
			if err := r.Register(s); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				next = append(next, s)
			}
		}
		if len(next) == len(pending) {
			return firstErr
		}
		pending = next
	}
	return nil
}

// cycleLocked returns the reference path from refs back to name, or nil.
func (r *Registry) cycleLocked(name string, refs []string) []string {
	seen := make(map[string]bool)
	var walk func(at string, path []string) []string
	walk = func(at string, path []string) []string {
		if at == name {
			return append(path, at)
		}
		if seen[at] {
			return nil
		}
		seen[at] = true
		e, ok := r.entries[at]
		if !ok {
			return nil
		}
		for _, ref := range e.prog.References() {
			if p := walk(ref, append(path, at)); p != nil {
				return p
			}
		}
		return nil
	}
	for _, ref := range refs {
		if p := walk(ref, []string{name}); p != nil {
			return p
		}
	}
	return nil
}

// Unregister removes name. It fails while another indicator references it.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("custom indicator %q not registered", name)
	}
	var users []string
	for other, e := range r.entries {
		for _, ref := range e.prog.References() {
			if ref == name {
				users = append(users, other)
			}
		}
	}
	if len(users) > 0 {
		sort.Strings(users)
		return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("%s is referenced by %v", name, users)}
	}
	delete(r.entries, name)
	r.resetMemoLocked()
	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Spec{}, false
	}
	return e.spec, true
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile compiles a formula that may reference this registry's custom
// indicators. Strategies use it for their predicates.
func (r *Registry) Compile(src string, params map[string]float64) (*formula.Program, error) {
	return formula.Compile(src, formula.Options{Params: params, Indicators: r.List()})
}

// Indicator evaluates the custom indicator name with its default
// parameters. It makes a Registry usable as a formula.External.
func (r *Registry) Indicator(ctx context.Context, name string, bars []domain.Bar) (indicator.Series, error) {
	res := &resolver{reg: r, fp: Fingerprint(bars)}
	return res.Indicator(ctx, name, bars)
}

func (r *Registry) resetMemoLocked() {
	r.memo = make(map[uuid.UUID]indicator.Series)
	r.gen++
}

// MemoSize reports how many evaluated series are memoised.
func (r *Registry) MemoSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.memo)
}

// resolver evaluates custom indicators for one dataset, tracking the chain
// of indicators being evaluated to reject cycles.
type resolver struct {
	reg   *Registry
	fp    uuid.UUID
	stack []string
}

func (res *resolver) Indicator(ctx context.Context, name string, bars []domain.Bar) (indicator.Series, error) {
	return res.evaluate(ctx, name, nil, bars)
}

func (res *resolver) evaluate(ctx context.Context, name string, params map[string]float64, bars []domain.Bar) (indicator.Series, error) {
	for _, active := range res.stack {
		if active == name {
			return nil, &formula.EvaluationError{Token: name, Reason: fmt.Sprintf("reference cycle %v", append(res.stack, name))}
		}
	}

	r := res.reg
	r.mu.RLock()
	e, ok := r.entries[name]
	gen := r.gen
	r.mu.RUnlock()
	if !ok {
		return nil, &formula.EvaluationError{Token: name, Reason: "unknown custom indicator"}
	}

	merged := e.prog.Params()
	for k, v := range params {
		merged[k] = v
	}
	key := memoKey(res.fp, e.spec.Formula, merged)

	r.mu.RLock()
	cached, hit := r.memo[key]
	r.mu.RUnlock()
	if hit {
		return cached, nil
	}

	res.stack = append(res.stack, name)
	out, err := e.prog.Eval(ctx, bars, formula.Env{Params: params, External: res})
	res.stack = res.stack[:len(res.stack)-1]
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", name, err)
	}

	r.mu.Lock()
	if r.gen == gen {
		if len(r.memo) >= maxMemo {
			r.memo = make(map[uuid.UUID]indicator.Series)
		}
		r.memo[key] = out
	}
	r.mu.Unlock()
	return out, nil
}
