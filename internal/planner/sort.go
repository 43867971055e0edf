package planner

import (
	"slices"
	"strings"

	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/values"
)

// PkIndex names the primary key when it is the index a sort can stream.
const PkIndex = "$pk"

type SortKey struct {
	Expr
	Desc bool
}

type Sort struct {
	Keys []SortKey
	// when set, rows can be produced already ordered by walking this index
	Index   string
	Reverse bool
}

func (s *Sort) Empty() bool { return s == nil || len(s.Keys) == 0 }

func (s *Sort) Streamable() bool { return s != nil && len(s.Index) > 0 }

// ParseSort reads `"path"`, `"path DESC"` or a list of them. A single plain
// key on the primary key or a scalar index is marked streamable when
// check_indexes is set.
func (p *Planner) ParseSort(table *builder.Table, order any, check_indexes bool) (*Sort, error) {
	var entries []any
	switch s := order.(type) {
	case nil:
		return &Sort{}, nil
	case string:
		if len(strings.TrimSpace(s)) == 0 {
			return &Sort{}, nil
		}
		entries = []any{s}
	default:
		l, ok := values.ToSlice(order)
		if !ok {
			return nil, malformed("order by must be a string or a list, got %T", order)
		}
		entries = l
	}

	sort := &Sort{}
	for _, e := range entries {
		raw, ok := e.(string)
		if !ok {
			return nil, malformed("order by entries must be strings, got %T", e)
		}
		key, err := p.parseSortKey(raw)
		if err != nil {
			return nil, err
		}
		sort.Keys = append(sort.Keys, key)
	}

	if check_indexes && table != nil && len(sort.Keys) == 1 && sort.Keys[0].Func == nil {
		key := sort.Keys[0]
		if table.IsPk(key.PathStr) {
			sort.Index = PkIndex
		} else if idx := table.Index(key.PathStr); idx != nil && !idx.Array {
			sort.Index = idx.ID
		}
		sort.Reverse = len(sort.Index) > 0 && key.Desc
	}
	return sort, nil
}

func (p *Planner) parseSortKey(raw string) (SortKey, error) {
	raw = strings.TrimSpace(raw)
	desc := false
	upper := strings.ToUpper(raw)
	if strings.HasSuffix(upper, " DESC") {
		desc = true
		raw = strings.TrimSpace(raw[:len(raw)-len(" DESC")])
	} else if strings.HasSuffix(upper, " ASC") {
		raw = strings.TrimSpace(raw[:len(raw)-len(" ASC")])
	}
	e, err := p.ParseExpr(raw, true)
	if err != nil {
		return SortKey{}, err
	}
	return SortKey{Expr: *e, Desc: desc}, nil
}

// Compare orders two rows by the sort keys.
func (p *Planner) Compare(sort *Sort, a, b builder.Row) int {
	for i := range sort.Keys {
		key := &sort.Keys[i]
		va, _ := p.Value(&key.Expr, a)
		vb, _ := p.Value(&key.Expr, b)
		c := values.Compare(va, vb)
		if key.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// SortRows orders rows in place. Rows with equal keys keep their order.
func (p *Planner) SortRows(sort *Sort, rows []builder.Row) {
	if sort.Empty() {
		return
	}
	slices.SortStableFunc(rows, func(a, b builder.Row) int { return p.Compare(sort, a, b) })
}
