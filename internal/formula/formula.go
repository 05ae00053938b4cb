// Package formula parses and evaluates user-defined arithmetic
// expressions over the metric vector. The grammar is the entire
// language:
//
//	expr   := term (('+'|'-') term)*
//	term   := factor (('*'|'/') factor)*
//	factor := NUMBER | IDENT | '(' expr ')' | FUNC '(' args ')'
//	FUNC   := min | max | abs
//
// Anything else — assignment, indexing, attribute access, calls to
// non-whitelisted functions — fails with ErrUnsafeExpression before any
// evaluation happens. Evaluation is pure and O(tokens); division by
// zero yields 0.
package formula

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsafeExpression is returned when the source does not conform to
// the grammar. The expression is never evaluated in that case.
var ErrUnsafeExpression = errors.New("unsafe expression")

// UnknownVariableError is returned when an identifier does not resolve
// against the metric vector.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q", e.Name)
}

// Lookup resolves an identifier to its value.
type Lookup func(name string) (float64, bool)

// Expr is a parsed formula ready for evaluation.
type Expr struct {
	root node
	vars []string
}

// Variables returns the distinct identifiers referenced by the formula,
// in first-appearance order.
func (e *Expr) Variables() []string { return e.vars }

// Eval walks the tree against the given lookup.
func (e *Expr) Eval(lookup Lookup) (float64, error) {
	return e.root.eval(lookup)
}

// Parse compiles a formula source string.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, unsafe("unexpected %q after expression", p.peek().text)
	}

	seen := make(map[string]bool)
	var vars []string
	collectVars(root, seen, &vars)
	return &Expr{root: root, vars: vars}, nil
}

// Validate parses the formula and checks every identifier resolves.
// Used at custom-metric creation and again before each evaluation.
func Validate(src string, lookup Lookup) error {
	expr, err := Parse(src)
	if err != nil {
		return err
	}
	for _, name := range expr.vars {
		if _, ok := lookup(name); !ok {
			return &UnknownVariableError{Name: name}
		}
	}
	return nil
}

// Evaluate is the parse-and-eval convenience used for stored formulas,
// which are re-validated on every evaluation.
func Evaluate(src string, lookup Lookup) (float64, error) {
	expr, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return expr.Eval(lookup)
}

func unsafe(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnsafeExpression, fmt.Sprintf(format, args...))
}

// ── Lexer ──

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	num  float64
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '+':
			toks = append(toks, token{kind: tokPlus, text: "+"})
			i++
		case c == '-':
			toks = append(toks, token{kind: tokMinus, text: "-"})
			i++
		case c == '*':
			toks = append(toks, token{kind: tokStar, text: "*"})
			i++
		case c == '/':
			toks = append(toks, token{kind: tokSlash, text: "/"})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ","})
			i++
		case c >= '0' && c <= '9':
			j := i
			seenDot := false
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.' && !seenDot) {
				if src[j] == '.' {
					seenDot = true
				}
				j++
			}
			text := src[i:j]
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, unsafe("bad number %q", text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: num})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j]})
			i = j
		default:
			return nil, unsafe("illegal character %q", string(c))
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// Identifier bodies admit dots so the closed variable set can include
// "pattern.GOAL_SEQUENCE" and "player.<id>.<stat>" names. A dotted name
// is a single variable, not attribute access.
func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '.'
}

// ── Parser ──

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokKind, what string) error {
	if p.peek().kind != kind {
		return unsafe("expected %s, got %q", what, p.peek().text)
	}
	p.next()
	return nil
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokPlus, tokMinus:
			op := p.next()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op.kind, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokStar, tokSlash:
			op := p.next()
			right, err := p.parseFactor()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op.kind, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseFactor() (node, error) {
	switch t := p.peek(); t.kind {
	case tokNumber:
		p.next()
		return &numberNode{val: t.num}, nil

	case tokIdent:
		p.next()
		if p.peek().kind != tokLParen {
			return &identNode{name: t.text}, nil
		}
		// Function call: only the whitelisted functions exist.
		if !isFunc(t.text) {
			return nil, unsafe("call to non-whitelisted function %q", t.text)
		}
		p.next() // consume '('
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if err := checkArity(t.text, len(args)); err != nil {
			return nil, err
		}
		return &callNode{fn: t.text, args: args}, nil

	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil

	default:
		return nil, unsafe("unexpected token %q", t.text)
	}
}

func (p *parser) parseArgs() ([]node, error) {
	var args []node
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.peek().kind {
		case tokComma:
			p.next()
		case tokRParen:
			p.next()
			return args, nil
		default:
			return nil, unsafe("expected ',' or ')', got %q", p.peek().text)
		}
	}
}

func isFunc(name string) bool {
	return name == "min" || name == "max" || name == "abs"
}

func checkArity(fn string, n int) error {
	if fn == "abs" {
		if n != 1 {
			return unsafe("abs takes 1 argument, got %d", n)
		}
		return nil
	}
	if n < 2 {
		return unsafe("%s takes at least 2 arguments, got %d", fn, n)
	}
	return nil
}

// ── AST ──

type node interface {
	eval(lookup Lookup) (float64, error)
}

type numberNode struct{ val float64 }

func (n *numberNode) eval(Lookup) (float64, error) { return n.val, nil }

type identNode struct{ name string }

func (n *identNode) eval(lookup Lookup) (float64, error) {
	v, ok := lookup(n.name)
	if !ok {
		return 0, &UnknownVariableError{Name: n.name}
	}
	return v, nil
}

type binaryNode struct {
	op          tokKind
	left, right node
}

func (n *binaryNode) eval(lookup Lookup) (float64, error) {
	l, err := n.left.eval(lookup)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(lookup)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case tokPlus:
		return l + r, nil
	case tokMinus:
		return l - r, nil
	case tokStar:
		return l * r, nil
	default:
		if r == 0 {
			// Division by zero resolves to the tie-break value.
			return 0, nil
		}
		return l / r, nil
	}
}

type callNode struct {
	fn   string
	args []node
}

func (n *callNode) eval(lookup Lookup) (float64, error) {
	vals := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(lookup)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	switch n.fn {
	case "abs":
		if vals[0] < 0 {
			return -vals[0], nil
		}
		return vals[0], nil
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	default: // max
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	}
}

func collectVars(n node, seen map[string]bool, out *[]string) {
	switch t := n.(type) {
	case *identNode:
		if !seen[t.name] {
			seen[t.name] = true
			*out = append(*out, t.name)
		}
	case *binaryNode:
		collectVars(t.left, seen, out)
		collectVars(t.right, seen, out)
	case *callNode:
		for _, arg := range t.args {
			collectVars(arg, seen, out)
		}
	}
}
