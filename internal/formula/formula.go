// Package formula compiles user-authored indicator and predicate formulas
// into a restricted AST and evaluates them over a price series.
//
// A formula may only reference the OHLCV accessors, its named parameters,
// custom indicators the caller makes available, and a fixed set of
// functions. Nothing in a formula can reach host state or I/O.
package formula

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"strategylab/internal/domain"
)

// EvaluationError reports a formula that cannot be compiled or evaluated:
// a syntax error, an identifier or function outside the whitelist, or a
// bad argument.
type EvaluationError struct {
	Token  string
	Pos    int
	Reason string
}

func (e *EvaluationError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("formula: %s at offset %d", e.Reason, e.Pos)
	}
	return fmt.Sprintf("formula: %s %q at offset %d", e.Reason, e.Token, e.Pos)
}

// Kind is the type of a formula result.
type Kind int

const (
	Number Kind = iota
	Boolean
)

func (k Kind) String() string {
	if k == Boolean {
		return "boolean"
	}
	return "number"
}

// function describes a whitelisted call.
type function struct {
	name   string
	arity  int
	period bool // last argument is a constant positive integer
	kind   Kind
}

var functions = map[string]function{
	"sma":        {name: "SMA", arity: 2, period: true},
	"ema":        {name: "EMA", arity: 2, period: true},
	"rsi":        {name: "RSI", arity: 2, period: true},
	"max":        {name: "MAX", arity: 2, period: true},
	"min":        {name: "MIN", arity: 2, period: true},
	"std":        {name: "STD", arity: 2, period: true},
	"sum":        {name: "SUM", arity: 2, period: true},
	"abs":        {name: "ABS", arity: 1},
	"crossover":  {name: "crossOver", arity: 2, kind: Boolean},
	"crossunder": {name: "crossUnder", arity: 2, kind: Boolean},
}

// Functions returns the whitelisted function names.
func Functions() []string {
	out := make([]string, 0, len(functions))
	for _, f := range functions {
		out = append(out, f.name)
	}
	sort.Strings(out)
	return out
}

// Options control what a formula may reference.
type Options struct {
	// Params are the named parameters and their default values.
	Params map[string]float64
	// Indicators names the custom indicators that may be referenced as
	// identifiers. They are resolved through an External at evaluation.
	Indicators []string
}

// Program is a compiled formula. It is immutable and safe for concurrent
// use.
type Program struct {
	src    string
	root   Node
	kind   Kind
	params map[string]float64
	refs   []string
}

// Source returns the formula text.
func (p *Program) Source() string { return p.src }

// Kind returns the result type of the formula.
func (p *Program) Kind() Kind { return p.kind }

// Root returns the AST root.
func (p *Program) Root() Node { return p.root }

// Params returns a copy of the default parameters.
func (p *Program) Params() map[string]float64 {
	out := make(map[string]float64, len(p.params))
	for k, v := range p.params {
		out[k] = v
	}
	return out
}

// References returns the custom indicators the formula depends on, sorted.
func (p *Program) References() []string {
	return append([]string(nil), p.refs...)
}

// Compile parses src and checks every identifier and call against the
// whitelist. Unknown names fail here, not at evaluation time.
func Compile(src string, opts Options) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}

	c := &checker{
		params:     opts.Params,
		indicators: make(map[string]bool, len(opts.Indicators)),
		refs:       make(map[string]bool),
	}
	for _, name := range opts.Indicators {
		c.indicators[name] = true
	}
	kind, err := c.check(root)
	if err != nil {
		return nil, err
	}

	prog := &Program{
		src:    src,
		root:   root,
		kind:   kind,
		params: make(map[string]float64, len(opts.Params)),
	}
	for k, v := range opts.Params {
		prog.params[k] = v
	}
	for name := range c.refs {
		prog.refs = append(prog.refs, name)
	}
	sort.Strings(prog.refs)
	return prog, nil
}

// MustCompile is Compile for formulas known to be valid; it panics on error.
func MustCompile(src string, opts Options) *Program {
	p, err := Compile(src, opts)
	if err != nil {
		panic(err)
	}
	return p
}

type checker struct {
	params     map[string]float64
	indicators map[string]bool
	refs       map[string]bool
}

// accessor resolves a case-insensitive OHLCV name.
func accessor(name string) (domain.Field, bool) {
	f := domain.Field(strings.ToLower(name))
	for _, known := range domain.Fields {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// IsReserved reports whether name is an accessor, a function, or a keyword,
// and so cannot name a custom indicator or parameter.
func IsReserved(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := accessor(lower); ok {
		return true
	}
	if _, ok := functions[lower]; ok {
		return true
	}
	if _, ok := wordOps[lower]; ok {
		return true
	}
	return lower == "true" || lower == "false"
}

// IsIdentifier reports whether name lexes as a single identifier.
func IsIdentifier(name string) bool {
	toks, err := tokenize(name)
	return err == nil && len(toks) == 2 && toks[0].kind == tokIdent
}

func (c *checker) check(n Node) (Kind, error) {
	switch n := n.(type) {
	case *Literal:
		return Number, nil

	case *Identifier:
		if _, ok := accessor(n.Name); ok {
			return Number, nil
		}
		if _, ok := c.params[n.Name]; ok {
			return Number, nil
		}
		if c.indicators[n.Name] {
			c.refs[n.Name] = true
			return Number, nil
		}
		return 0, &EvaluationError{Token: n.Name, Pos: n.At, Reason: "unknown identifier"}

	case *BinaryOp:
		if _, err := c.check(n.Left); err != nil {
			return 0, err
		}
		if _, err := c.check(n.Right); err != nil {
			return 0, err
		}
		switch n.Op {
		case "+", "-", "*", "/":
			return Number, nil
		case "<", "<=", ">", ">=", "==", "!=", "&&", "||":
			return Boolean, nil
		}
		return 0, &EvaluationError{Token: n.Op, Pos: n.At, Reason: "unsupported operator"}

	case *Call:
		fn, ok := functions[strings.ToLower(n.Func)]
		if !ok {
			return 0, &EvaluationError{Token: n.Func, Pos: n.At, Reason: "unknown function"}
		}
		if len(n.Args) != fn.arity {
			return 0, &EvaluationError{Token: n.Func, Pos: n.At, Reason: fmt.Sprintf("%s takes %d arguments, got %d", fn.name, fn.arity, len(n.Args))}
		}
		for i, arg := range n.Args {
			if fn.period && i == len(n.Args)-1 {
				if _, err := resolvePeriod(arg, c.params); err != nil {
					return 0, err
				}
				continue
			}
			if _, err := c.check(arg); err != nil {
				return 0, err
			}
		}
		return fn.kind, nil
	}
	return 0, &EvaluationError{Pos: n.Pos(), Reason: "unsupported expression"}
}

// resolvePeriod resolves a period argument, which must be a literal or a
// named parameter holding a positive integer.
func resolvePeriod(n Node, params map[string]float64) (int, error) {
	var v float64
	switch n := n.(type) {
	case *Literal:
		v = n.Value
	case *Identifier:
		pv, ok := params[n.Name]
		if !ok {
			return 0, &EvaluationError{Token: n.Name, Pos: n.At, Reason: "period must be a number or parameter"}
		}
		v = pv
	default:
		return 0, &EvaluationError{Pos: n.Pos(), Reason: "period must be a number or parameter"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 1 || v != math.Trunc(v) {
		return 0, &EvaluationError{Token: fmt.Sprint(v), Pos: n.Pos(), Reason: "period must be a positive integer"}
	}
	return int(v), nil
}
