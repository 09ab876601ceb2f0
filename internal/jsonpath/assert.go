package jsonpath

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is the assertion operator.
type Op int

const (
	OpExists Op = iota
	OpEquals
	OpContains
	OpLen
)

// Assertion is a parsed assertion expression such as `len >= 3`.
type Assertion struct {
	Op        Op
	Literal   Value
	Substring string
	Cmp       string
	N         int
	raw       string
}

func (a Assertion) String() string { return a.raw }

// Check is the outcome of applying an Assertion to a resolved value.
type Check struct {
	Passed bool
	Detail string
}

var lenRe = regexp.MustCompile(`^len\s*(>=|==|>)\s*(\S+)$`)

// ParseAssertion parses one of:
//
//	exists
//	equals <literal>
//	contains <substring>
//	len >= N | len == N | len > N
func ParseAssertion(expr string) (Assertion, error) {
	s := strings.TrimSpace(expr)
	a := Assertion{raw: s}
	switch {
	case s == "exists":
		a.Op = OpExists
		return a, nil
	case s == "equals" || strings.HasPrefix(s, "equals "):
		lit := strings.TrimSpace(strings.TrimPrefix(s, "equals"))
		if lit == "" {
			return Assertion{}, &SyntaxError{Expr: expr, Reason: "equals requires a literal"}
		}
		v, err := parseLiteral(lit)
		if err != nil {
			return Assertion{}, &SyntaxError{Expr: expr, Reason: err.Error()}
		}
		a.Op = OpEquals
		a.Literal = v
		return a, nil
	case s == "contains" || strings.HasPrefix(s, "contains "):
		sub := strings.TrimSpace(strings.TrimPrefix(s, "contains"))
		if sub == "" {
			return Assertion{}, &SyntaxError{Expr: expr, Reason: "contains requires a substring"}
		}
		if strings.HasPrefix(sub, `"`) {
			if err := json.Unmarshal([]byte(sub), &sub); err != nil {
				return Assertion{}, &SyntaxError{Expr: expr, Reason: "malformed quoted substring"}
			}
		}
		a.Op = OpContains
		a.Substring = sub
		return a, nil
	case strings.HasPrefix(s, "len"):
		m := lenRe.FindStringSubmatch(s)
		if m == nil {
			return Assertion{}, &SyntaxError{Expr: expr, Reason: "expected len >= N, len == N or len > N"}
		}
		n, err := parseIndex(m[2])
		if err != nil {
			return Assertion{}, &SyntaxError{Expr: expr, Reason: fmt.Sprintf("invalid length %q", m[2])}
		}
		a.Op = OpLen
		a.Cmp = m[1]
		a.N = n
		return a, nil
	}
	return Assertion{}, &SyntaxError{Expr: expr, Reason: "unknown assertion"}
}

// parseLiteral reads the operand of equals. Valid JSON wins; a quoted
// literal that is not valid JSON is an error; anything else is a bare string.
func parseLiteral(lit string) (Value, error) {
	v, err := Parse([]byte(lit))
	if err == nil {
		return v, nil
	}
	if strings.HasPrefix(lit, `"`) {
		return Value{}, fmt.Errorf("malformed quoted literal %s", lit)
	}
	return Value{Kind: String, String: lit}, nil
}

// Check applies the assertion. resolved is false when the path did not
// address a value; every operator fails in that case.
func (a Assertion) Check(v Value, resolved bool) Check {
	if !resolved {
		return Check{Detail: "path did not resolve"}
	}
	switch a.Op {
	case OpExists:
		if v.Kind == Null {
			return Check{Detail: "value is null"}
		}
		return Check{Passed: true, Detail: "value exists"}
	case OpEquals:
		if Equal(v, a.Literal) {
			return Check{Passed: true, Detail: fmt.Sprintf("value equals %s", a.Literal.Text())}
		}
		return Check{Detail: fmt.Sprintf("expected %s, got %s", a.Literal.Text(), v.Text())}
	case OpContains:
		if v.Kind != String {
			return Check{Detail: fmt.Sprintf("contains requires a string, got %s", v.Kind)}
		}
		if strings.Contains(v.String, a.Substring) {
			return Check{Passed: true, Detail: fmt.Sprintf("value contains %q", a.Substring)}
		}
		return Check{Detail: fmt.Sprintf("%q does not contain %q", v.String, a.Substring)}
	case OpLen:
		n, ok := v.Len()
		if !ok {
			return Check{Detail: fmt.Sprintf("len requires an array or object, got %s", v.Kind)}
		}
		var passed bool
		switch a.Cmp {
		case ">=":
			passed = n >= a.N
		case "==":
			passed = n == a.N
		case ">":
			passed = n > a.N
		}
		return Check{Passed: passed, Detail: fmt.Sprintf("len %d %s %s", n, verdict(passed), a.Cmp+" "+strconv.Itoa(a.N))}
	}
	return Check{Detail: "unknown assertion"}
}

func verdict(ok bool) string {
	if ok {
		return "satisfies"
	}
	return "does not satisfy"
}

// Evaluate parses pathExpr and assertionExpr and applies them to doc.
// Syntax errors are returned as *SyntaxError; a path that does not resolve
// yields a failed Check.
func Evaluate(doc Value, pathExpr, assertionExpr string) (Check, error) {
	p, err := ParsePath(pathExpr)
	if err != nil {
		return Check{}, err
	}
	a, err := ParseAssertion(assertionExpr)
	if err != nil {
		return Check{}, err
	}
	v, err := p.Resolve(doc)
	if err != nil {
		c := a.Check(Value{}, false)
		c.Detail = err.Error()
		return c, nil
	}
	return a.Check(v, true), nil
}
