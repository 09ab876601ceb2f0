package jsonpath

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports a malformed path or assertion expression.
type SyntaxError struct {
	Expr   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Expr, e.Reason)
}

// ResolveError reports that a path does not address any value in a
// document. A path that addresses an explicit null does not produce one.
type ResolveError struct {
	Path   string
	At     string
	Reason string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("path %s did not resolve at %s: %s", e.Path, e.At, e.Reason)
}

// Segment is one step of a Path: an object member or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return "." + s.Key
}

// Path is a parsed `$.a[0].b` expression.
type Path struct {
	raw      string
	segments []Segment
}

func (p Path) String() string { return p.raw }

// Segments returns the steps after the root.
func (p Path) Segments() []Segment { return p.segments }

// ParsePath parses a root-anchored path. Identifiers run until the next
// `.` or `[`; indexes are non-negative decimal integers.
func ParsePath(expr string) (Path, error) {
	s := strings.TrimSpace(expr)
	if !strings.HasPrefix(s, "$") {
		return Path{}, &SyntaxError{Expr: expr, Reason: "path must start with $"}
	}
	p := Path{raw: s}
	i := 1
	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			start := i
			for i < len(s) && s[i] != '.' && s[i] != '[' {
				i++
			}
			key := s[start:i]
			if key == "" {
				return Path{}, &SyntaxError{Expr: expr, Reason: fmt.Sprintf("empty member name at offset %d", start)}
			}
			p.segments = append(p.segments, Segment{Key: key})
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return Path{}, &SyntaxError{Expr: expr, Reason: fmt.Sprintf("unclosed bracket at offset %d", i)}
			}
			text := s[i+1 : i+end]
			idx, err := parseIndex(text)
			if err != nil {
				return Path{}, &SyntaxError{Expr: expr, Reason: fmt.Sprintf("invalid index %q", text)}
			}
			p.segments = append(p.segments, Segment{Index: idx, IsIndex: true})
			i += end + 1
		default:
			return Path{}, &SyntaxError{Expr: expr, Reason: fmt.Sprintf("unexpected %q at offset %d", s[i], i)}
		}
	}
	return p, nil
}

func parseIndex(text string) (int, error) {
	if text == "" {
		return 0, fmt.Errorf("empty index")
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit in index")
		}
	}
	return strconv.Atoi(text)
}

// Resolve walks the path through doc.
func (p Path) Resolve(doc Value) (Value, error) {
	cur := doc
	at := "$"
	for _, seg := range p.segments {
		at += seg.String()
		if seg.IsIndex {
			if cur.Kind != Array {
				return Value{}, &ResolveError{Path: p.raw, At: at, Reason: fmt.Sprintf("cannot index %s", cur.Kind)}
			}
			if seg.Index >= len(cur.Array) {
				return Value{}, &ResolveError{Path: p.raw, At: at, Reason: fmt.Sprintf("index %d out of range (length %d)", seg.Index, len(cur.Array))}
			}
			cur = cur.Array[seg.Index]
			continue
		}
		if cur.Kind != Object {
			return Value{}, &ResolveError{Path: p.raw, At: at, Reason: fmt.Sprintf("cannot select member %q of %s", seg.Key, cur.Kind)}
		}
		next, ok := cur.Object[seg.Key]
		if !ok {
			return Value{}, &ResolveError{Path: p.raw, At: at, Reason: fmt.Sprintf("no member %q", seg.Key)}
		}
		cur = next
	}
	return cur, nil
}
