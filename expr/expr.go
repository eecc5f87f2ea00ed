// Package expr compiles the restricted arithmetic formulas used for unit
// conversions and derived channels.
//
// Supported: + - * /, power (^ or **) with a literal exponent, parentheses,
// column identifiers (bare or `backtick quoted`), numeric literals and
// sqrt(x). A unary minus may only open a parenthesized group, as in (-x).
package expr

import (
	"fmt"
	"strings"
)

// Expression is a compiled formula.
type Expression struct {
	source  string
	root    node
	columns []string
}

// Compile parses formula into an Expression. Malformed input returns a
// *SyntaxError carrying the offending token and its position.
func Compile(formula string) (*Expression, error) {
	if strings.TrimSpace(formula) == "" {
		return nil, &SyntaxError{Formula: formula, Msg: "empty formula"}
	}
	toks, err := tokenize(formula)
	if err != nil {
		return nil, err
	}
	p := &parser{src: formula, toks: toks}
	root, err := p.parseExpr(false)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		msg := "unexpected token after complete expression"
		if t.kind == tokRParen {
			msg = "unbalanced parenthesis: ')' has no matching '('"
		}
		return nil, p.errorAt(t, msg)
	}

	var cols []string
	collectColumns(root, make(map[string]struct{}), &cols)
	return &Expression{source: formula, root: root, columns: cols}, nil
}

// MustCompile is like Compile but panics on error. It is meant for formulas
// fixed at build time.
func MustCompile(formula string) *Expression {
	e, err := Compile(formula)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the formula as written.
func (e *Expression) Source() string { return e.source }

// String renders the canonical, fully parenthesized form with ** for powers.
func (e *Expression) String() string {
	var b strings.Builder
	render(&b, e.root)
	return b.String()
}

// Columns lists the referenced column names in first-use order.
func (e *Expression) Columns() []string {
	return append([]string(nil), e.columns...)
}

// Eval evaluates the expression for one row.
func (e *Expression) Eval(env Resolver) (float64, error) {
	v, missing := eval(e.root, env)
	if missing != "" {
		return 0, &EvalError{Formula: e.source, Column: missing, Msg: "unknown column"}
	}
	return v, nil
}

// EvalColumns evaluates the expression for n rows of column-major data.
// Every referenced column must be present and hold exactly n values.
func (e *Expression) EvalColumns(cols map[string][]float64, n int) ([]float64, error) {
	for _, name := range e.columns {
		values, ok := cols[name]
		if !ok {
			return nil, &EvalError{Formula: e.source, Column: name, Msg: "unknown column"}
		}
		if len(values) != n {
			return nil, &EvalError{Formula: e.source, Column: name, Msg: fmt.Sprintf("has %d values, want %d", len(values), n)}
		}
	}
	out := make([]float64, n)
	env := &columnRow{cols: cols}
	for i := 0; i < n; i++ {
		env.i = i
		v, missing := eval(e.root, env)
		if missing != "" {
			return nil, &EvalError{Formula: e.source, Column: missing, Msg: "unknown column"}
		}
		out[i] = v
	}
	return out, nil
}

type columnRow struct {
	cols map[string][]float64
	i    int
}

func (r *columnRow) Value(column string) (float64, bool) {
	values, ok := r.cols[column]
	if !ok {
		return 0, false
	}
	return values[r.i], true
}

// functions maps a function name to its rewrite into the core grammar.
var functions = map[string]func(arg node) node{
	"sqrt": func(arg node) node {
		return &powerNode{base: arg, exp: &numberNode{value: 0.5}}
	},
}

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorAt(t token, msg string) *SyntaxError {
	return &SyntaxError{Formula: p.src, Pos: t.pos, Token: t.text, Msg: msg}
}

// parseExpr parses a sum. When negateFirst is set the first term is negated,
// which gives (-a + b) the usual meaning (-a) + b.
func (p *parser) parseExpr(negateFirst bool) (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if negateFirst {
		left = &negateNode{x: left}
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text[0], l: left, r: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text[0], l: left, r: right}
	}
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokPow {
		return base, nil
	}
	op := p.next()
	exp, err := p.parseExponent(op)
	if err != nil {
		return nil, err
	}
	return &powerNode{base: base, exp: exp}, nil
}

// parseExponent accepts a numeric literal or a parenthesized group made only
// of literals. Column references are rejected on purpose.
func (p *parser) parseExponent(op token) (node, error) {
	t := p.peek()
	var exp node
	switch t.kind {
	case tokNumber:
		p.next()
		exp = &numberNode{value: t.num}
	case tokLParen:
		group, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		var refs []string
		collectColumns(group, make(map[string]struct{}), &refs)
		if len(refs) > 0 {
			return nil, p.errorAt(t, fmt.Sprintf("exponent must not reference column %q", refs[0]))
		}
		exp = group
	case tokEOF:
		return nil, p.errorAt(t, fmt.Sprintf("missing exponent after %q", op.text))
	case tokIdent:
		return nil, p.errorAt(t, "exponent must be a numeric literal, not an identifier")
	default:
		return nil, p.errorAt(t, "exponent must be a numeric literal")
	}
	if p.peek().kind == tokPow {
		inner := p.next()
		rest, err := p.parseExponent(inner)
		if err != nil {
			return nil, err
		}
		exp = &powerNode{base: exp, exp: rest}
	}
	return exp, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return &numberNode{value: t.num}, nil
	case tokIdent:
		p.next()
		if fn, ok := functions[t.text]; ok && !t.quoted {
			if p.peek().kind != tokLParen {
				return nil, p.errorAt(t, fmt.Sprintf("function %s must be followed by a parenthesized argument", t.text))
			}
			arg, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			return fn(arg), nil
		}
		return &columnNode{name: t.text}, nil
	case tokLParen:
		return p.parseGroup()
	case tokMinus:
		return nil, p.errorAt(t, "unary minus is only allowed directly after '('")
	case tokEOF:
		return nil, p.errorAt(t, "expected an operand")
	case tokRParen:
		return nil, p.errorAt(t, "unexpected ')'")
	default:
		return nil, p.errorAt(t, "expected an operand")
	}
}

func (p *parser) parseGroup() (node, error) {
	open := p.next()
	negate := false
	if p.peek().kind == tokMinus {
		p.next()
		negate = true
	}
	inner, err := p.parseExpr(negate)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokRParen {
		if t.kind == tokEOF {
			return nil, p.errorAt(open, "unbalanced parenthesis: '(' is never closed")
		}
		return nil, p.errorAt(t, "expected ')'")
	}
	p.next()
	return inner, nil
}
