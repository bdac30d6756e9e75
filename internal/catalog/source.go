package catalog

import (
	"context"
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
)

// Source computes a named indicator over a bar series. Its variants are
// BuiltIn and Custom.
type Source interface {
	Name() string
	Compute(ctx context.Context, params indicator.Params, bars []domain.Bar) ([]indicator.Line, error)
	source()
}

// BuiltIn computes one of the indicator library's kinds.
type BuiltIn struct {
	Kind indicator.Kind
}

// Custom evaluates a registered formula.
type Custom struct {
	Spec Spec
	reg  *Registry
}

func (BuiltIn) source() {}
func (Custom) source()  {}

func (b BuiltIn) Name() string { return string(b.Kind) }
func (c Custom) Name() string  { return c.Spec.Name }

// Compute runs the built-in with params merged over its defaults.
func (b BuiltIn) Compute(ctx context.Context, params indicator.Params, bars []domain.Bar) ([]indicator.Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return indicator.Compute(b.Kind, params, bars)
}

// Compute evaluates the formula with params overriding the spec defaults.
// The result is a single line named after the indicator.
func (c Custom) Compute(ctx context.Context, params indicator.Params, bars []domain.Bar) ([]indicator.Line, error) {
	if c.reg == nil {
		return nil, fmt.Errorf("custom indicator %q has no registry", c.Spec.Name)
	}
	res := &resolver{reg: c.reg, fp: Fingerprint(bars)}
	s, err := res.evaluate(ctx, c.Spec.Name, params, bars)
	if err != nil {
		return nil, err
	}
	out := make(indicator.Series, len(s))
	copy(out, s)
	return []indicator.Line{{Name: c.Spec.Name, Values: out}}, nil
}

// Source resolves name to a built-in kind or a registered custom indicator.
// Built-in names are matched case-insensitively and take precedence.
func (r *Registry) Source(name string) (Source, error) {
	if k, ok := indicator.ParseKind(name); ok {
		return BuiltIn{Kind: k}, nil
	}
	spec, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown indicator %q", name)
	}
	return Custom{Spec: spec, reg: r}, nil
}
