package formula

// Node is a node of the restricted formula AST. The set of variants is
// closed: Literal, Identifier, BinaryOp and Call.
type Node interface {
	Pos() int
	node()
}

// Literal is a numeric constant. Boolean literals are 1 and 0.
type Literal struct {
	Value float64
	At    int
}

// Identifier references an OHLCV accessor, a named parameter, or a custom
// indicator held by the caller's registry.
type Identifier struct {
	Name string
	At   int
}

// BinaryOp applies an arithmetic, comparison or logical operator. Unary
// minus is parsed as 0 - x and logical not as x == 0.
type BinaryOp struct {
	Op          string
	Left, Right Node
	At          int
}

// Call invokes a whitelisted function.
type Call struct {
	Func string
	Args []Node
	At   int
}

func (n *Literal) Pos() int    { return n.At }
func (n *Identifier) Pos() int { return n.At }
func (n *BinaryOp) Pos() int   { return n.At }
func (n *Call) Pos() int       { return n.At }

func (*Literal) node()    {}
func (*Identifier) node() {}
func (*BinaryOp) node()   {}
func (*Call) node()       {}
