package formula

import (
	"fmt"
	"strings"
)

// maxDepth bounds parser recursion.
const maxDepth = 200

// parser is a recursive-descent parser over the token stream.
//
//	expr    := or
//	or      := and ( "||" and )*
//	and     := equal ( "&&" equal )*
//	equal   := compare ( ("==" | "!=") compare )*
//	compare := sum ( ("<" | "<=" | ">" | ">=") sum )*
//	sum     := product ( ("+" | "-") product )*
//	product := unary ( ("*" | "/") unary )*
//	unary   := ("-" | "!") unary | primary
//	primary := number | ident | ident "(" args ")" | "(" expr ")"
type parser struct {
	toks  []token
	pos   int
	depth int
}

func parse(src string) (Node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, &EvaluationError{Pos: 0, Reason: "empty formula"}
	}
	p := &parser{toks: toks}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &EvaluationError{Token: t.text, Pos: t.pos, Reason: "unexpected token"}
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (token, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return t, false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return t, true
		}
	}
	return t, false
}

func (p *parser) expr() (Node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		t := p.peek()
		return nil, &EvaluationError{Token: t.text, Pos: t.pos, Reason: "expression nested too deeply"}
	}
	return p.binary(0)
}

// levels lists binary operators from lowest to highest precedence.
var levels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/"},
}

func (p *parser) binary(level int) (Node, error) {
	if level == len(levels) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.acceptOp(levels[level]...)
		if !ok {
			return left, nil
		}
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: t.text, Left: left, Right: right, At: t.pos}
	}
}

func (p *parser) unary() (Node, error) {
	if t, ok := p.acceptOp("-", "!"); ok {
		p.depth++
		defer func() { p.depth-- }()
		if p.depth > maxDepth {
			return nil, &EvaluationError{Token: t.text, Pos: t.pos, Reason: "expression nested too deeply"}
		}
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		if t.text == "-" {
			return &BinaryOp{Op: "-", Left: &Literal{Value: 0, At: t.pos}, Right: operand, At: t.pos}, nil
		}
		return &BinaryOp{Op: "==", Left: operand, Right: &Literal{Value: 0, At: t.pos}, At: t.pos}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &Literal{Value: t.num, At: t.pos}, nil

	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return &Literal{Value: 1, At: t.pos}, nil
		case "false":
			return &Literal{Value: 0, At: t.pos}, nil
		}
		if p.peek().kind != tokLParen {
			return &Identifier{Name: t.text, At: t.pos}, nil
		}
		p.next()
		var args []Node
		if p.peek().kind != tokRParen {
			for {
				arg, err := p.expr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, &EvaluationError{Token: c.text, Pos: c.pos, Reason: fmt.Sprintf("expected ) to close call to %s", t.text)}
		}
		return &Call{Func: t.text, Args: args, At: t.pos}, nil

	case tokLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, &EvaluationError{Token: c.text, Pos: c.pos, Reason: "expected )"}
		}
		return n, nil

	case tokEOF:
		return nil, &EvaluationError{Pos: t.pos, Reason: "unexpected end of formula"}
	}
	return nil, &EvaluationError{Token: t.text, Pos: t.pos, Reason: "unexpected token"}
}
