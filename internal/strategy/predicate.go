package strategy

import (
	"context"
	"fmt"

	"strategylab/internal/catalog"
	"strategylab/internal/domain"
	"strategylab/internal/formula"
)

// Formula is a predicate written in the formula language. It may reference
// custom indicators held by the registry it was compiled against.
type Formula struct {
	prog   *formula.Program
	ext    formula.External
	params map[string]float64
}

// NewFormula compiles src against reg, which may be nil when the formula
// uses no custom indicators.
func NewFormula(src string, reg *catalog.Registry, params map[string]float64) (*Formula, error) {
	var (
		prog *formula.Program
		err  error
	)
	if reg != nil {
		prog, err = reg.Compile(src, params)
	} else {
		prog, err = formula.Compile(src, formula.Options{Params: params})
	}
	if err != nil {
		return nil, err
	}
	f := &Formula{prog: prog, params: params}
	if reg != nil {
		f.ext = reg
	}
	return f, nil
}

// MustFormula is NewFormula without a registry; it panics on error.
func MustFormula(src string) *Formula {
	f, err := NewFormula(src, nil, nil)
	if err != nil {
		panic(err)
	}
	return f
}

// Bind evaluates the formula over the whole series once. Undefined values
// and zero never fire.
func (f *Formula) Bind(ctx context.Context, bars []domain.Bar) (Signal, error) {
	s, err := f.prog.Eval(ctx, bars, formula.Env{External: f.ext})
	if err != nil {
		return nil, err
	}
	return func(i int) (bool, error) {
		return s.At(i).Truthy(), nil
	}, nil
}

func (f *Formula) String() string { return f.prog.Source() }

// Func adapts a Go function into a predicate. Fn is called once per bar
// with the full series visible; it should only look at bars[:i+1].
type Func struct {
	Label string
	Fn    func(i int, bars []domain.Bar) (bool, error)
}

// Bind returns a signal that calls Fn, converting panics into errors so a
// faulty predicate cannot abort a run.
func (f Func) Bind(_ context.Context, bars []domain.Bar) (Signal, error) {
	if f.Fn == nil {
		return nil, fmt.Errorf("predicate %s has no function", f.String())
	}
	return func(i int) (ok bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("predicate panicked: %v", r)
			}
		}()
		return f.Fn(i, bars)
	}, nil
}

func (f Func) String() string {
	if f.Label == "" {
		return "func"
	}
	return f.Label
}

// Always returns a predicate that fires on every bar.
func Always() Predicate {
	return Func{Label: "always", Fn: func(int, []domain.Bar) (bool, error) { return true, nil }}
}

// Never returns a predicate that never fires.
func Never() Predicate {
	return Func{Label: "never", Fn: func(int, []domain.Bar) (bool, error) { return false, nil }}
}

// At returns a predicate that fires only on the listed bar indices.
func At(indices ...int) Predicate {
	set := make(map[int]bool, len(indices))
	for _, i := range indices {
		set[i] = true
	}
	return Func{Label: fmt.Sprintf("at%v", indices), Fn: func(i int, _ []domain.Bar) (bool, error) { return set[i], nil }}
}
