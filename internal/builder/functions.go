package builder

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
)

// Func is a scalar function usable in WHERE leaves, projections and sort
// keys, e.g. `LOWER(name)`.
type Func func(args ...any) (any, error)

var AGGREGATE_FUNCTIONS = []string{"COUNT", "SUM", "AVG", "MIN", "MAX"}

func IsAggregate(name string) bool {
	return slices.Contains(AGGREGATE_FUNCTIONS, strings.ToUpper(name))
}

type Functions struct {
	locker sync.RWMutex
	fns    pkg.Map[string, Func]
}

func (f *Functions) GetLocker() *sync.RWMutex { return &f.locker }

// NewFunctions returns a registry holding the built-in functions.
func NewFunctions() *Functions {
	f := &Functions{fns: pkg.Map[string, Func]{}}
	f.Register("LOWER", stringFunc(strings.ToLower))
	f.Register("UPPER", stringFunc(strings.ToUpper))
	f.Register("TRIM", stringFunc(strings.TrimSpace))
	f.Register("LENGTH", length)
	f.Register("ABS", numberFunc(math.Abs))
	f.Register("CEIL", numberFunc(math.Ceil))
	f.Register("FLOOR", numberFunc(math.Floor))
	f.Register("ROUND", round)
	f.Register("COALESCE", coalesce)
	return f
}

// Register adds or replaces a function. Names are case-insensitive.
func (f *Functions) Register(name string, fn Func) {
	pkg.LockWrap(f, func() { f.fns.Set(strings.ToUpper(name), fn) })
}

func (f *Functions) Get(name string) (Func, bool) {
	f.locker.RLock()
	defer f.locker.RUnlock()
	return f.fns.Lookup(strings.ToUpper(name))
}

func argCount(name string, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func stringFunc(fn func(string) string) Func {
	return func(args ...any) (any, error) {
		if err := argCount("string function", args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return fn(v), nil
		default:
			return fn(fmt.Sprint(v)), nil
		}
	}
}

func numberFunc(fn func(float64) float64) Func {
	return func(args ...any) (any, error) {
		if err := argCount("number function", args, 1); err != nil {
			return nil, err
		}
		if args[0] == nil {
			return nil, nil
		}
		n, ok := values.ToFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("%v is not a number", args[0])
		}
		return fn(n), nil
	}
}

func length(args ...any) (any, error) {
	if err := argCount("LENGTH", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return utf8.RuneCountInString(v), nil
	case []byte:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	}
	if list, ok := values.ToSlice(args[0]); ok {
		return len(list), nil
	}
	return nil, fmt.Errorf("LENGTH of %T", args[0])
}

func round(args ...any) (any, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, fmt.Errorf("ROUND expects 1 or 2 arguments, got %d", len(args))
	}
	if args[0] == nil {
		return nil, nil
	}
	n, ok := values.ToFloat(args[0])
	if !ok {
		return nil, fmt.Errorf("%v is not a number", args[0])
	}
	digits := 0
	if len(args) == 2 {
		digits = pkg.NumToInt(args[1])
	}
	scale := math.Pow(10, float64(digits))
	return math.Round(n*scale) / scale, nil
}

func coalesce(args ...any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}
