// Package planner turns WHERE clauses and sort specs into plans the query
// executor can run: the longest index-answerable AND prefix of a WHERE
// becomes the fast conditions, everything after it is evaluated per row.
package planner

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
)

type WhereType string

const (
	WhereNone   WhereType = "none"
	WhereFast   WhereType = "fast"
	WhereMedium WhereType = "medium"
	WhereSlow   WhereType = "slow"
	WhereFn     WhereType = "fn"
)

const (
	ConnAnd = "AND"
	ConnOr  = "OR"
)

// Predicate is a row filter supplied from Go in place of a clause tree.
type Predicate func(row builder.Row, i int) bool

type Node struct {
	Path       []string
	PathStr    string
	Comparator values.Comparator
	Value      any
	// the index answering this node when it is a fast condition
	Index *builder.Index
	IsPK  bool
	Func  *FuncCall
	// row values are compared as unix milliseconds
	Date bool

	// set for parenthesized groups
	Group []Term
}

func (n *Node) IsGroup() bool { return n.Group != nil }

func (n *Node) String() string {
	if n.IsGroup() {
		parts := make([]string, 0, len(n.Group))
		for _, t := range n.Group {
			parts = append(parts, t.String())
		}
		return "(" + strings.TrimSpace(strings.Join(parts, " ")) + ")"
	}
	target := n.PathStr
	if n.Func != nil {
		target = n.Func.Name + "(...)"
	}
	return fmt.Sprintf("%s %s %v", target, n.Comparator, n.Value)
}

// Term is a node and the connector joining it to the term before it. The
// first term of a list carries no connector, except in a residual list
// where it keeps the connector that broke the fast prefix.
type Term struct {
	Conn string
	Node *Node
}

func (t Term) String() string {
	if len(t.Conn) == 0 {
		return t.Node.String()
	}
	return t.Conn + " " + t.Node.String()
}

type Where struct {
	Type WhereType
	// AND-joined conditions answered by indexes
	Fast []*Node
	// residual terms evaluated against each candidate row
	Slow        []Term
	IndexesUsed []string
	Fn          Predicate
}

type Planner struct {
	functions *builder.Functions
	caches    *builder.Caches
}

func New(db *builder.Database) *Planner {
	return &Planner{functions: db.Functions, caches: db.Caches}
}

// NewWith builds a planner over standalone registries.
func NewWith(functions *builder.Functions, caches *builder.Caches) *Planner {
	return &Planner{functions: functions, caches: caches}
}

func (p *Planner) Matcher() *values.Matcher { return p.caches.Matcher }

func malformed(format string, args ...any) error {
	return errors.Wrapf(builder.ErrMalformedClause, format, args...)
}

type parseOpts struct {
	table          *builder.Table
	ignore_indexes bool
	// leaves address output rows; aggregates name their output key
	having bool
}

// ParseWhere classifies a clause against table. With ignore_indexes set the
// whole clause is evaluated per row.
func (p *Planner) ParseWhere(table *builder.Table, clause any, ignore_indexes bool) (*Where, error) {
	return p.parse(clause, parseOpts{table: table, ignore_indexes: ignore_indexes})
}

// ParseWhereCached is ParseWhere memoized under a caller supplied id.
func (p *Planner) ParseWhereCached(table *builder.Table, clause any, ignore_indexes bool, cache_id string) (*Where, error) {
	if len(cache_id) == 0 {
		return p.ParseWhere(table, clause, ignore_indexes)
	}
	key := fmt.Sprintf("%s\x00%t", cache_id, ignore_indexes)
	if prepared, ok := p.caches.Where(table.Name, key); ok {
		if w, ok := prepared.(*Where); ok {
			return w, nil
		}
	}
	w, err := p.ParseWhere(table, clause, ignore_indexes)
	if err != nil {
		return nil, err
	}
	p.caches.SetWhere(table.Name, key, w)
	return w, nil
}

// ParseHaving parses a clause evaluated against grouped output rows.
func (p *Planner) ParseHaving(clause any) (*Where, error) {
	return p.parse(clause, parseOpts{ignore_indexes: true, having: true})
}

func (p *Planner) parse(clause any, opts parseOpts) (*Where, error) {
	var list []any
	switch c := clause.(type) {
	case nil:
		return &Where{Type: WhereNone}, nil
	case Predicate:
		return &Where{Type: WhereFn, Fn: c}, nil
	case func(builder.Row, int) bool:
		return &Where{Type: WhereFn, Fn: c}, nil
	default:
		l, ok := values.ToSlice(clause)
		if !ok {
			return nil, malformed("where must be a list, got %T", clause)
		}
		list = l
	}
	if len(list) == 0 {
		return &Where{Type: WhereNone}, nil
	}

	terms, err := p.parseTerms(list, opts)
	if err != nil {
		return nil, err
	}

	w := &Where{}
	has_or := false
	for _, t := range terms {
		if t.Conn == ConnOr {
			has_or = true
			break
		}
	}

	split := 0
	if !opts.ignore_indexes && !has_or {
		for split < len(terms) && p.eligible(opts.table, terms[split].Node) {
			split++
		}
	}
	for _, t := range terms[:split] {
		w.Fast = append(w.Fast, t.Node)
		w.IndexesUsed = append(w.IndexesUsed, t.Node.PathStr)
	}
	w.Slow = terms[split:]

	switch {
	case len(w.Fast) == 0:
		w.Type = WhereSlow
	case len(w.Slow) == 0:
		w.Type = WhereFast
	default:
		w.Type = WhereMedium
	}
	return w, nil
}

func isLeaf(list []any) bool {
	if len(list) == 0 {
		return false
	}
	_, ok := list[0].(string)
	return ok
}

func (p *Planner) parseTerms(list []any, opts parseOpts) ([]Term, error) {
	if isLeaf(list) {
		node, err := p.parseLeaf(list, opts)
		if err != nil {
			return nil, err
		}
		return []Term{{Node: node}}, nil
	}
	if len(list)%2 == 0 {
		return nil, malformed("expected a condition after the last connector")
	}

	terms := make([]Term, 0, len(list)/2+1)
	conn := ""
	for i, item := range list {
		if i%2 == 1 {
			s, ok := item.(string)
			s = strings.ToUpper(strings.TrimSpace(s))
			if !ok || (s != ConnAnd && s != ConnOr) {
				return nil, malformed("expected AND or OR at position %d, got %v", i, item)
			}
			conn = s
			continue
		}

		sub, ok := values.ToSlice(item)
		if !ok || len(sub) == 0 {
			return nil, malformed("expected a condition at position %d, got %v", i, item)
		}
		var node *Node
		var err error
		if isLeaf(sub) {
			node, err = p.parseLeaf(sub, opts)
		} else {
			var group []Term
			group, err = p.parseTerms(sub, opts)
			node = &Node{Group: group}
		}
		if err != nil {
			return nil, err
		}
		terms = append(terms, Term{Conn: conn, Node: node})
	}
	return terms, nil
}

func (p *Planner) parseLeaf(leaf []any, opts parseOpts) (*Node, error) {
	var target string
	var comp values.Comparator
	var operand any

	switch len(leaf) {
	case 2:
		target, _ = leaf[0].(string)
		comp = values.CompareEqual
		operand = leaf[1]
	case 3:
		target, _ = leaf[0].(string)
		c, ok := leaf[1].(string)
		if !ok {
			return nil, malformed("comparator must be a string, got %T", leaf[1])
		}
		comp = values.Comparator(strings.ToUpper(strings.Join(strings.Fields(c), " ")))
		operand = leaf[2]
	default:
		return nil, malformed("condition must have 2 or 3 elements, got %d", len(leaf))
	}
	if len(target) == 0 {
		return nil, malformed("condition is missing a field")
	}
	if !comp.IsValid() {
		return nil, malformed("unknown comparator %s", comp)
	}
	if err := checkOperand(comp, operand); err != nil {
		return nil, err
	}

	node := &Node{Comparator: comp, Value: operand}
	if isFuncCall(target) {
		if opts.having {
			call, err := p.parseFunc(target, true)
			if err != nil {
				return nil, err
			}
			if call.Aggregate {
				node.Path = []string{strings.TrimSpace(target)}
				node.PathStr = node.Path[0]
				return node, nil
			}
			node.Func = call
			return node, nil
		}
		call, err := p.parseFunc(target, false)
		if err != nil {
			return nil, err
		}
		node.Func = call
		return node, nil
	}

	node.Path = p.caches.Paths.Resolve(target)
	node.PathStr = path.Join(node.Path)
	if opts.table != nil {
		p.coerceNode(opts.table, node)
	}
	return node, nil
}

func checkOperand(comp values.Comparator, operand any) error {
	switch comp {
	case values.CompareIn, values.CompareNotIn, values.CompareIntersect,
		values.CompareNotIntersect, values.CompareIntersectAll:
		if _, ok := values.ToSlice(operand); !ok {
			return malformed("%s expects a list, got %v", comp, operand)
		}
	case values.CompareBetween, values.CompareNotBetween:
		l, ok := values.ToSlice(operand)
		if !ok || len(l) != 2 {
			return malformed("%s expects a list of two bounds, got %v", comp, operand)
		}
	case values.CompareRegexp, values.CompareNotRegexp:
		if _, ok := operand.(string); !ok {
			return malformed("%s expects a string pattern, got %T", comp, operand)
		}
	}
	return nil
}

func isListComparator(comp values.Comparator) bool {
	switch comp {
	case values.CompareIn, values.CompareNotIn, values.CompareBetween, values.CompareNotBetween,
		values.CompareIntersect, values.CompareNotIntersect, values.CompareIntersectAll:
		return true
	}
	return false
}

func isPatternComparator(comp values.Comparator) bool {
	switch comp {
	case values.CompareLike, values.CompareNotLike, values.CompareRegexp, values.CompareNotRegexp,
		values.CompareIncludesLike, values.CompareNotIncludesLike:
		return true
	}
	return false
}

func isArrayComparator(comp values.Comparator) bool {
	switch comp {
	case values.CompareIncludes, values.CompareNotIncludes, values.CompareIncludesLike,
		values.CompareNotIncludesLike, values.CompareIntersect, values.CompareNotIntersect,
		values.CompareIntersectAll:
		return true
	}
	return false
}

// coerceNode casts the operand to the declared type of the column so that
// index keys and row values compare in one representation.
func (p *Planner) coerceNode(table *builder.Table, node *Node) {
	col := table.Column(node.PathStr)
	if col == nil || values.IsNullCheck(node.Value) || isPatternComparator(node.Comparator) {
		return
	}
	t := col.Type
	if t == types.FieldTypeVector {
		if !isArrayComparator(node.Comparator) || col.VectorLevel > 1 {
			return
		}
		t = col.VectorType
	}
	if t == types.FieldTypeDate {
		node.Date = true
	}

	coerce := func(v any) any {
		if c, ok := values.Coerce(t, v); ok {
			return c
		}
		return v
	}
	if isListComparator(node.Comparator) {
		list, _ := values.ToSlice(node.Value)
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = coerce(v)
		}
		node.Value = out
		return
	}
	node.Value = coerce(node.Value)
}

func isTextType(t types.FieldType) bool {
	return t == types.FieldTypeString || t == types.FieldTypeUUID || t == types.FieldTypeTimeId
}

// eligible reports whether node can be answered from the primary key or a
// secondary index, and records which.
func (p *Planner) eligible(table *builder.Table, node *Node) bool {
	if table == nil || node.IsGroup() || node.Func != nil || node.Value == nil || values.IsNullCheck(node.Value) {
		return false
	}

	is_pk := table.IsPk(node.PathStr)
	idx := table.Index(node.PathStr)
	var key_type types.FieldType
	switch {
	case is_pk:
		key_type = table.PkType
	case idx != nil:
		key_type = idx.Type
	default:
		return false
	}

	ok := false
	if is_pk || !idx.Array {
		switch node.Comparator {
		case values.CompareEqual:
			_, is_list := values.ToSlice(node.Value)
			ok = !is_list
		case values.CompareBetween:
			bounds, _ := values.ToSlice(node.Value)
			ok = bounds[0] != nil && bounds[1] != nil && values.Comparable(bounds[0], bounds[1])
		case values.CompareIn:
			list, _ := values.ToSlice(node.Value)
			ok = !containsNil(list)
		case values.CompareLike:
			s, is_str := node.Value.(string)
			_, has_prefix := values.LikePrefix(s)
			ok = is_str && has_prefix && isTextType(key_type)
		}
	} else {
		switch node.Comparator {
		case values.CompareIncludes:
			_, is_list := values.ToSlice(node.Value)
			ok = !is_list
		case values.CompareIntersect, values.CompareIntersectAll:
			list, _ := values.ToSlice(node.Value)
			ok = len(list) > 0 && !containsNil(list)
		case values.CompareIncludesLike:
			s, is_str := node.Value.(string)
			_, has_prefix := values.LikePrefix(s)
			ok = is_str && has_prefix && isTextType(key_type)
		}
	}
	if !ok || !keyable(key_type, is_pk, node.Comparator, node.Value) {
		return false
	}
	node.IsPK = is_pk
	if !is_pk {
		node.Index = idx
	}
	return true
}

func containsNil(list []any) bool {
	for _, v := range list {
		if v == nil {
			return true
		}
	}
	return false
}

// keyable reports whether every operand value has a representation of the
// key type. Other values cannot be looked up and stay residual. Secondary
// indexes hold no empty strings, so those operands stay residual too.
func keyable(key_type types.FieldType, is_pk bool, comp values.Comparator, operand any) bool {
	if isPatternComparator(comp) {
		return true
	}
	list, is_list := values.ToSlice(operand)
	if !is_list {
		list = []any{operand}
	}
	for _, v := range list {
		c, ok := values.Coerce(key_type, v)
		if !ok {
			return false
		}
		if !is_pk && isEmptyString(v, c) {
			return false
		}
	}
	return true
}

func isEmptyString(raw, coerced any) bool {
	if s, ok := raw.(string); ok && len(s) == 0 {
		return true
	}
	s, ok := coerced.(string)
	return ok && len(s) == 0
}
