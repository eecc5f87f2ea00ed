package expr

import (
	"math"
	"strconv"
	"strings"
)

// node is one of the five closed AST kinds below. Evaluation is a type switch
// over exactly these kinds; there is no way for a formula to reach anything else.
type node interface {
	isNode()
}

type numberNode struct {
	value float64
}

type columnNode struct {
	name string
}

type negateNode struct {
	x node
}

type binaryNode struct {
	op   byte // one of + - * /
	l, r node
}

type powerNode struct {
	base, exp node
}

func (numberNode) isNode() {}
func (columnNode) isNode() {}
func (negateNode) isNode() {}
func (binaryNode) isNode() {}
func (powerNode) isNode()  {}

// Resolver supplies column values for a single row.
type Resolver interface {
	Value(column string) (float64, bool)
}

// Row is a Resolver backed by a map.
type Row map[string]float64

// Value implements Resolver.
func (r Row) Value(column string) (float64, bool) {
	v, ok := r[column]
	return v, ok
}

func eval(n node, env Resolver) (float64, string) {
	switch n := n.(type) {
	case *numberNode:
		return n.value, ""
	case *columnNode:
		v, ok := env.Value(n.name)
		if !ok {
			return 0, n.name
		}
		return v, ""
	case *negateNode:
		v, missing := eval(n.x, env)
		return -v, missing
	case *binaryNode:
		l, missing := eval(n.l, env)
		if missing != "" {
			return 0, missing
		}
		r, missing := eval(n.r, env)
		if missing != "" {
			return 0, missing
		}
		switch n.op {
		case '+':
			return l + r, ""
		case '-':
			return l - r, ""
		case '*':
			return l * r, ""
		default:
			return l / r, ""
		}
	case *powerNode:
		b, missing := eval(n.base, env)
		if missing != "" {
			return 0, missing
		}
		e, missing := eval(n.exp, env)
		if missing != "" {
			return 0, missing
		}
		return math.Pow(b, e), ""
	}
	return math.NaN(), ""
}

func collectColumns(n node, seen map[string]struct{}, out *[]string) {
	switch n := n.(type) {
	case *columnNode:
		if _, ok := seen[n.name]; !ok {
			seen[n.name] = struct{}{}
			*out = append(*out, n.name)
		}
	case *negateNode:
		collectColumns(n.x, seen, out)
	case *binaryNode:
		collectColumns(n.l, seen, out)
		collectColumns(n.r, seen, out)
	case *powerNode:
		collectColumns(n.base, seen, out)
		collectColumns(n.exp, seen, out)
	}
}

func render(b *strings.Builder, n node) {
	switch n := n.(type) {
	case *numberNode:
		b.WriteString(strconv.FormatFloat(n.value, 'g', -1, 64))
	case *columnNode:
		if _, fn := functions[n.name]; isPlainIdent(n.name) && !fn {
			b.WriteString(n.name)
		} else {
			b.WriteByte('`')
			b.WriteString(n.name)
			b.WriteByte('`')
		}
	case *negateNode:
		b.WriteString("(-")
		render(b, n.x)
		b.WriteByte(')')
	case *binaryNode:
		b.WriteByte('(')
		render(b, n.l)
		b.WriteByte(' ')
		b.WriteByte(n.op)
		b.WriteByte(' ')
		render(b, n.r)
		b.WriteByte(')')
	case *powerNode:
		b.WriteByte('(')
		render(b, n.base)
		b.WriteString(" ** ")
		render(b, n.exp)
		b.WriteByte(')')
	}
}

func isPlainIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}
