package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/path"
)

var func_call_regex = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)

// Arg is one argument of a function call: a row path or a literal.
type Arg struct {
	Path    []string
	Literal any
	IsPath  bool
}

type FuncCall struct {
	Name string
	Args []Arg
	// set for scalar functions; aggregates are computed by the executor
	Fn        builder.Func
	Aggregate bool
}

// Expr is a value read from a row: a plain path or a function call.
type Expr struct {
	// the expression as written, used as the output key
	Text    string
	Path    []string
	PathStr string
	Func    *FuncCall
}

func (e *Expr) IsAggregate() bool { return e.Func != nil && e.Func.Aggregate }

func isFuncCall(s string) bool { return func_call_regex.MatchString(strings.TrimSpace(s)) }

// splitArgs splits on top level commas, keeping quoted text intact.
func splitArgs(raw string) []string {
	args := []string{}
	var b strings.Builder
	var quote rune
	for _, r := range raw {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			b.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			b.WriteRune(r)
		case r == ',':
			args = append(args, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if last := strings.TrimSpace(b.String()); len(last) > 0 || len(args) > 0 {
		args = append(args, last)
	}
	return args
}

func (p *Planner) parseArg(raw string) Arg {
	if len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0] {
		return Arg{Literal: raw[1 : len(raw)-1]}
	}
	if raw == "*" {
		return Arg{Literal: "*"}
	}
	if i, err := strconv.ParseInt(raw, 10, 0); err == nil {
		return Arg{Literal: int(i)}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Arg{Literal: f}
	}
	switch strings.ToLower(raw) {
	case "true":
		return Arg{Literal: true}
	case "false":
		return Arg{Literal: false}
	case "null":
		return Arg{Literal: nil}
	}
	return Arg{Path: p.caches.Paths.Resolve(raw), IsPath: true}
}

func (p *Planner) parseFunc(expr string, allow_aggregate bool) (*FuncCall, error) {
	m := func_call_regex.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, errors.Wrapf(builder.ErrMalformedClause, "%s is not a function call", expr)
	}
	name := strings.ToUpper(m[1])
	call := &FuncCall{Name: name}
	for _, raw := range splitArgs(m[2]) {
		call.Args = append(call.Args, p.parseArg(raw))
	}

	if builder.IsAggregate(name) {
		if !allow_aggregate {
			return nil, errors.Wrapf(builder.ErrMalformedClause, "aggregate %s is not allowed here", name)
		}
		if len(call.Args) != 1 {
			return nil, errors.Wrapf(builder.ErrMalformedClause, "%s expects one argument", name)
		}
		call.Aggregate = true
		return call, nil
	}

	fn, ok := p.functions.Get(name)
	if !ok {
		return nil, errors.Wrapf(builder.ErrUnknownFunction, "%s", name)
	}
	call.Fn = fn
	return call, nil
}

// ParseExpr reads a projection or sort expression: `path` or `FUNC(args)`.
func (p *Planner) ParseExpr(expr string, allow_aggregate bool) (*Expr, error) {
	expr = strings.TrimSpace(expr)
	if len(expr) == 0 {
		return nil, errors.Wrap(builder.ErrMalformedClause, "empty expression")
	}
	if isFuncCall(expr) {
		call, err := p.parseFunc(expr, allow_aggregate)
		if err != nil {
			return nil, err
		}
		return &Expr{Text: expr, Func: call}, nil
	}
	segs := p.caches.Paths.Resolve(expr)
	return &Expr{Text: expr, Path: segs, PathStr: path.Join(segs)}, nil
}

func (p *Planner) call(fc *FuncCall, row builder.Row) (any, error) {
	args := make([]any, len(fc.Args))
	for i, a := range fc.Args {
		if a.IsPath {
			args[i], _ = path.Get(row, a.Path)
		} else {
			args[i] = a.Literal
		}
	}
	v, err := fc.Fn(args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", fc.Name)
	}
	return v, nil
}

// Value evaluates a non-aggregate expression against row. Aggregates read
// the value the executor stored under their text.
func (p *Planner) Value(e *Expr, row builder.Row) (any, error) {
	if e.Func == nil {
		v, _ := path.Get(row, e.Path)
		return v, nil
	}
	if e.Func.Aggregate {
		return row.Get(e.Text), nil
	}
	return p.call(e.Func, row)
}
