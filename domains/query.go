package domains

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rbaliyan/domainbus"
	"github.com/tidwall/match"
)

var (
	// ErrInvalidQuery is returned by ParseQuery for malformed component queries
	ErrInvalidQuery = errors.New("domains: invalid component query")
)

// attribute filter operators
const (
	opExists = ""
	opEq     = "="
	opNe     = "!="
	opGlob   = "~="
)

type attrFilter struct {
	name  string
	op    string
	value string
}

// compound is one comma-separated alternative of a query:
// optional type, optional #id, attribute filters
type compound struct {
	xtype   string
	id      string
	filters []attrFilter
}

// Query is a parsed component query such as
//
//	button#save[disabled=false], panel[title~=Order*]
//
// A target matches when any alternative matches.
type Query struct {
	source string
	alts   []compound
}

// String returns the query source
func (q *Query) String() string {
	return q.source
}

// ParseQuery parses a component query
func ParseQuery(s string) (*Query, error) {
	q := &Query{source: s}
	for _, part := range splitTopLevel(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty alternative in %q", ErrInvalidQuery, s)
		}
		c, err := parseCompound(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidQuery, s, err)
		}
		q.alts = append(q.alts, c)
	}
	return q, nil
}

// splitTopLevel splits on commas outside brackets and quotes
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func isNameChar(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0

	switch {
	case s[0] == '*':
		i = 1
	case isNameChar(s[0]):
		for i < len(s) && isNameChar(s[i]) {
			i++
		}
		c.xtype = s[:i]
	}

	for i < len(s) {
		switch s[i] {
		case '#':
			if c.id != "" {
				return c, errors.New("more than one id")
			}
			j := i + 1
			for j < len(s) && s[j] != '[' && s[j] != '#' {
				j++
			}
			c.id = s[i+1 : j]
			if c.id == "" {
				return c, errors.New("empty id")
			}
			i = j
		case '[':
			f, n, err := parseFilter(s[i:])
			if err != nil {
				return c, err
			}
			c.filters = append(c.filters, f)
			i += n
		default:
			return c, fmt.Errorf("unexpected %q at %d", s[i], i)
		}
	}
	return c, nil
}

// parseFilter parses "[name]", "[name=value]", "[name!=value]" or
// "[name~=glob]" at the start of s and returns the bytes consumed
func parseFilter(s string) (attrFilter, int, error) {
	var f attrFilter
	i := 1
	for i < len(s) && isNameChar(s[i]) {
		i++
	}
	f.name = s[1:i]
	if f.name == "" {
		return f, 0, errors.New("empty attribute name")
	}
	if i >= len(s) {
		return f, 0, errors.New("unterminated attribute filter")
	}

	switch {
	case s[i] == ']':
		return f, i + 1, nil
	case s[i] == '=':
		f.op, i = opEq, i+1
	case strings.HasPrefix(s[i:], opNe):
		f.op, i = opNe, i+2
	case strings.HasPrefix(s[i:], opGlob):
		f.op, i = opGlob, i+2
	default:
		return f, 0, fmt.Errorf("unexpected %q in attribute filter", s[i])
	}

	if i < len(s) && (s[i] == '"' || s[i] == '\'') {
		end := strings.IndexByte(s[i+1:], s[i])
		if end < 0 {
			return f, 0, errors.New("unterminated quote")
		}
		f.value = s[i+1 : i+1+end]
		i += end + 2
		if i >= len(s) || s[i] != ']' {
			return f, 0, errors.New("unterminated attribute filter")
		}
		return f, i + 1, nil
	}

	end := strings.IndexByte(s[i:], ']')
	if end < 0 {
		return f, 0, errors.New("unterminated attribute filter")
	}
	f.value = strings.TrimSpace(s[i : i+end])
	return f, i + end + 1, nil
}

// Match reports whether target satisfies any alternative of the query
func (q *Query) Match(target domainbus.Target) bool {
	for _, c := range q.alts {
		if c.match(target) {
			return true
		}
	}
	return false
}

func (c compound) match(target domainbus.Target) bool {
	if c.xtype != "" && !isXType(target, c.xtype) {
		return false
	}
	if c.id != "" {
		id, ok := domainbus.PropertyString(target, "id")
		if !ok || id != c.id {
			return false
		}
	}
	for _, f := range c.filters {
		if !f.match(target) {
			return false
		}
	}
	return true
}

func (f attrFilter) match(target domainbus.Target) bool {
	v, ok := target.Property(f.name)
	switch f.op {
	case opExists:
		return ok && v != nil && v != false
	case opEq:
		return ok && v != nil && fmt.Sprint(v) == f.value
	case opNe:
		return !ok || v == nil || fmt.Sprint(v) != f.value
	case opGlob:
		return ok && v != nil && match.Match(fmt.Sprint(v), f.value)
	}
	return false
}

// isXType reports whether target's xtype, or any entry of its xtypes
// hierarchy, equals xtype
func isXType(target domainbus.Target, xtype string) bool {
	if t, ok := domainbus.PropertyString(target, "xtype"); ok && t == xtype {
		return true
	}
	v, ok := target.Property("xtypes")
	if !ok {
		return false
	}
	switch list := v.(type) {
	case []string:
		for _, t := range list {
			if t == xtype {
				return true
			}
		}
	case []any:
		for _, t := range list {
			if s, ok := t.(string); ok && s == xtype {
				return true
			}
		}
	case string:
		for _, t := range strings.Split(list, "/") {
			if t == xtype {
				return true
			}
		}
	}
	return false
}

// queryCache memoizes parsed queries by source. Invalid queries are cached
// as nil and never match.
type queryCache struct {
	m sync.Map
}

func (c *queryCache) get(s string) *Query {
	if v, ok := c.m.Load(s); ok {
		return v.(*Query)
	}
	q, err := ParseQuery(s)
	if err != nil {
		q = nil
	}
	v, _ := c.m.LoadOrStore(s, q)
	return v.(*Query)
}
