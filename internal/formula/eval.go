package formula

import (
	"context"
	"fmt"
	"math"
	"strings"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
)

// External resolves custom indicator identifiers during evaluation.
type External interface {
	Indicator(ctx context.Context, name string, bars []domain.Bar) (indicator.Series, error)
}

// Env carries the evaluation inputs besides the bars.
type Env struct {
	// Params override the program's default parameters. Unknown names are
	// rejected.
	Params map[string]float64
	// External resolves custom indicators. It may be nil when the program
	// references none.
	External External
}

// Eval evaluates the program over bars. The result has len(bars) entries;
// boolean programs hold 1 or 0 where defined.
func (p *Program) Eval(ctx context.Context, bars []domain.Bar, env Env) (indicator.Series, error) {
	params := p.Params()
	for name, v := range env.Params {
		if _, ok := params[name]; !ok {
			return nil, &domain.ConfigurationError{Param: name, Value: v, Reason: "unknown formula parameter"}
		}
		params[name] = v
	}
	if len(p.refs) > 0 && env.External == nil {
		return nil, &EvaluationError{Token: p.refs[0], Reason: "no indicator resolver for custom indicator"}
	}

	e := &evaluator{
		ctx:     ctx,
		bars:    bars,
		params:  params,
		ext:     env.External,
		columns: make(map[domain.Field]indicator.Series),
	}
	return e.eval(p.root)
}

type evaluator struct {
	ctx     context.Context
	bars    []domain.Bar
	params  map[string]float64
	ext     External
	columns map[domain.Field]indicator.Series
}

func (e *evaluator) constant(v float64) indicator.Series {
	out := indicator.NewSeries(len(e.bars))
	for i := range out {
		out[i] = indicator.Def(v)
	}
	return out
}

func (e *evaluator) eval(n Node) (indicator.Series, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *Literal:
		return e.constant(n.Value), nil

	case *Identifier:
		if f, ok := accessor(n.Name); ok {
			col, ok := e.columns[f]
			if !ok {
				col = indicator.FromFloats(domain.Column(e.bars, f))
				e.columns[f] = col
			}
			return col, nil
		}
		if v, ok := e.params[n.Name]; ok {
			return e.constant(v), nil
		}
		if e.ext == nil {
			return nil, &EvaluationError{Token: n.Name, Pos: n.At, Reason: "unknown identifier"}
		}
		s, err := e.ext.Indicator(e.ctx, n.Name, e.bars)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", n.Name, err)
		}
		if len(s) != len(e.bars) {
			return nil, &EvaluationError{Token: n.Name, Pos: n.At, Reason: fmt.Sprintf("indicator length %d does not match %d bars", len(s), len(e.bars))}
		}
		return s, nil

	case *BinaryOp:
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		op, ok := binaryOps[n.Op]
		if !ok {
			return nil, &EvaluationError{Token: n.Op, Pos: n.At, Reason: "unsupported operator"}
		}
		out := indicator.NewSeries(len(e.bars))
		for i := range out {
			a, b := left[i], right[i]
			if !a.Valid || !b.Valid {
				continue
			}
			out[i] = op(a.Float, b.Float)
		}
		return out, nil

	case *Call:
		return e.call(n)
	}
	return nil, &EvaluationError{Pos: n.Pos(), Reason: "unsupported expression"}
}

var binaryOps = map[string]func(a, b float64) indicator.Value{
	"+": func(a, b float64) indicator.Value { return indicator.Def(a + b) },
	"-": func(a, b float64) indicator.Value { return indicator.Def(a - b) },
	"*": func(a, b float64) indicator.Value { return indicator.Def(a * b) },
	"/": func(a, b float64) indicator.Value {
		if b == 0 {
			return indicator.Undefined
		}
		return indicator.Def(a / b)
	},
	"<":  func(a, b float64) indicator.Value { return indicator.Bool(a < b) },
	"<=": func(a, b float64) indicator.Value { return indicator.Bool(a <= b) },
	">":  func(a, b float64) indicator.Value { return indicator.Bool(a > b) },
	">=": func(a, b float64) indicator.Value { return indicator.Bool(a >= b) },
	"==": func(a, b float64) indicator.Value { return indicator.Bool(a == b) },
	"!=": func(a, b float64) indicator.Value { return indicator.Bool(a != b) },
	"&&": func(a, b float64) indicator.Value { return indicator.Bool(a != 0 && b != 0) },
	"||": func(a, b float64) indicator.Value { return indicator.Bool(a != 0 || b != 0) },
}

// windowed maps the whitelisted period functions onto the indicator library.
var windowed = map[string]func(indicator.Series, int) indicator.Series{
	"sma": indicator.SMAOf,
	"ema": indicator.EMAOf,
	"rsi": indicator.RSIOf,
	"max": indicator.MaxOf,
	"min": indicator.MinOf,
	"std": indicator.StdOf,
	"sum": indicator.SumOf,
}

func (e *evaluator) call(n *Call) (indicator.Series, error) {
	name := strings.ToLower(n.Func)
	fn, ok := functions[name]
	if !ok {
		return nil, &EvaluationError{Token: n.Func, Pos: n.At, Reason: "unknown function"}
	}

	if fn.period {
		src, err := e.eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		period, err := resolvePeriod(n.Args[1], e.params)
		if err != nil {
			return nil, err
		}
		return windowed[name](src, period), nil
	}

	args := make([]indicator.Series, len(n.Args))
	for i, a := range n.Args {
		s, err := e.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = s
	}

	switch name {
	case "abs":
		out := indicator.NewSeries(len(e.bars))
		for i, v := range args[0] {
			if v.Valid {
				out[i] = indicator.Def(math.Abs(v.Float))
			}
		}
		return out, nil
	case "crossover":
		return cross(args[0], args[1], func(pa, pb, a, b float64) bool { return pa <= pb && a > b }), nil
	case "crossunder":
		return cross(args[0], args[1], func(pa, pb, a, b float64) bool { return pa >= pb && a < b }), nil
	}
	return nil, &EvaluationError{Token: n.Func, Pos: n.At, Reason: "unknown function"}
}

// cross is false at index 0 and wherever either input is undefined at i or
// i-1; it is never undefined itself.
func cross(a, b indicator.Series, fn func(pa, pb, a, b float64) bool) indicator.Series {
	out := make(indicator.Series, len(a))
	for i := range out {
		out[i] = indicator.Bool(false)
		if i == 0 {
			continue
		}
		if !a[i].Valid || !b[i].Valid || !a[i-1].Valid || !b[i-1].Valid {
			continue
		}
		out[i] = indicator.Bool(fn(a[i-1].Float, b[i-1].Float, a[i].Float, b[i].Float))
	}
	return out
}
