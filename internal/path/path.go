// Package path resolves dotted and bracketed field paths ("a.b[0].c") into
// segments and reads or writes nested row values through them.
package path

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tobsdb/tdb/pkg"
)

type Resolver struct {
	cache *lru.Cache[string, []string]
}

func NewResolver(size int) *Resolver {
	if size <= 0 {
		size = 1024
	}
	cache, _ := lru.New[string, []string](size)
	return &Resolver{cache: cache}
}

// Resolve splits a path into segments. The returned slice is shared with
// the cache and must not be modified.
func (r *Resolver) Resolve(p string) []string {
	if segs, ok := r.cache.Get(p); ok {
		return segs
	}
	segs := Split(p)
	r.cache.Add(p, segs)
	return segs
}

// Split is the uncached form of Resolve.
func Split(p string) []string {
	p = strings.ReplaceAll(p, "[", ".")
	p = strings.ReplaceAll(p, "]", "")
	return pkg.Filter(strings.Split(p, "."), func(s string) bool { return len(s) > 0 })
}

func Join(segs []string) string { return strings.Join(segs, ".") }

func isIndex(seg string) (int, bool) {
	i, err := strconv.Atoi(seg)
	return i, err == nil && i >= 0
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case pkg.Map[string, any]:
		return m, true
	}
	return nil, false
}

// Get reads the value at segs. ok is false when any segment is missing.
func Get(v any, segs []string) (any, bool) {
	cur := v
	for _, seg := range segs {
		if m, ok := asMap(cur); ok {
			cur, ok = m[seg]
			if !ok {
				return nil, false
			}
			continue
		}
		list, ok := cur.([]any)
		if !ok {
			return nil, false
		}
		i, ok := isIndex(seg)
		if !ok || i >= len(list) {
			return nil, false
		}
		cur = list[i]
	}
	return cur, true
}

// Set writes value at segs inside root, creating intermediate containers
// as needed: a list when the following segment is numeric, a map otherwise.
func Set(root map[string]any, segs []string, value any) {
	if len(segs) == 0 {
		return
	}
	root[segs[0]] = setIn(root[segs[0]], segs[1:], value)
}

func newContainer(next string) any {
	if _, ok := isIndex(next); ok {
		return []any{}
	}
	return map[string]any{}
}

func setIn(cur any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	seg := segs[0]

	if cur == nil {
		cur = newContainer(seg)
	}

	if m, ok := asMap(cur); ok {
		m[seg] = setIn(m[seg], segs[1:], value)
		return cur
	}

	if list, ok := cur.([]any); ok {
		if i, ok := isIndex(seg); ok {
			for len(list) <= i {
				list = append(list, nil)
			}
			list[i] = setIn(list[i], segs[1:], value)
			return list
		}
	}

	// scalar in the way, replace it
	return setIn(newContainer(seg), segs, value)
}

// Delete removes the value at segs. List elements are set to nil rather
// than removed so sibling indexes stay stable.
func Delete(root map[string]any, segs []string) {
	if len(segs) == 0 {
		return
	}
	parent, ok := Get(root, segs[:len(segs)-1])
	if !ok {
		return
	}
	last := segs[len(segs)-1]
	if m, ok := asMap(parent); ok {
		delete(m, last)
		return
	}
	if list, ok := parent.([]any); ok {
		if i, ok := isIndex(last); ok && i < len(list) {
			list[i] = nil
		}
	}
}
