package expr

import "fmt"

// SyntaxError reports a malformed formula. Pos is the byte offset of the
// offending token; Token is empty when the formula ended prematurely.
type SyntaxError struct {
	Formula string
	Pos     int
	Token   string
	Msg     string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("formula %q: syntax error at end of input (position %d): %s", e.Formula, e.Pos, e.Msg)
	}
	return fmt.Sprintf("formula %q: syntax error at position %d near %q: %s", e.Formula, e.Pos, e.Token, e.Msg)
}

// EvalError reports a formula that cannot be evaluated against the supplied
// columns, such as a reference to a column that does not exist.
type EvalError struct {
	Formula string
	Column  string
	Msg     string
}

func (e *EvalError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("formula %q: %s", e.Formula, e.Msg)
	}
	return fmt.Sprintf("formula %q: column %q: %s", e.Formula, e.Column, e.Msg)
}
