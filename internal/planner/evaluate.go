package planner

import (
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/values"
)

// Evaluate reports whether row passes the residual part of where. Rows
// produced by the fast conditions only need this check.
func (p *Planner) Evaluate(where *Where, row builder.Row, i int) (bool, error) {
	switch where.Type {
	case WhereNone, WhereFast:
		return true, nil
	case WhereFn:
		return where.Fn(row, i), nil
	}
	return p.evalTerms(where.Slow, row)
}

// EvaluateAll checks every condition of where, fast ones included.
func (p *Planner) EvaluateAll(where *Where, row builder.Row, i int) (bool, error) {
	for _, node := range where.Fast {
		ok, err := p.evalNode(node, row)
		if err != nil || !ok {
			return false, err
		}
	}
	return p.Evaluate(where, row, i)
}

// evalTerms folds terms left to right with AND binding tighter than OR: an
// OR closes the running AND group.
func (p *Planner) evalTerms(terms []Term, row builder.Row) (bool, error) {
	result := false
	current := true
	for _, t := range terms {
		if t.Conn == ConnOr {
			if result = result || current; result {
				return true, nil
			}
			current = true
		}
		if !current {
			continue
		}
		ok, err := p.evalNode(t.Node, row)
		if err != nil {
			return false, err
		}
		current = ok
	}
	return result || current, nil
}

func (p *Planner) evalNode(node *Node, row builder.Row) (bool, error) {
	if node.IsGroup() {
		return p.evalTerms(node.Group, row)
	}

	var v any
	if node.Func != nil {
		var err error
		if v, err = p.call(node.Func, row); err != nil {
			return false, err
		}
	} else {
		v, _ = path.Get(row, node.Path)
	}
	if node.Date && v != nil {
		if ts, ok := values.Timestamp(v); ok {
			v = ts
		}
	}
	return p.caches.Matcher.Match(v, node.Comparator, node.Value), nil
}
