// Package transform compiles Expr expressions that reshape an action's
// payload for one of its call targets.
//
// An expression sees the sanitized payload as `payload`:
//
//	payload.by * 2
//	{"text": upper(payload.text), "by": default(payload.by, 1)}
package transform

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrEmptyExpression is returned when compiling blank source.
var ErrEmptyExpression = errors.New("empty expression")

// Env is the environment an expression runs in.
type Env struct {
	Payload any `expr:"payload"`
}

// Compiler compiles and caches expressions.
type Compiler struct {
	cache   map[string]*vm.Program
	cacheMu sync.RWMutex

	// Expr environment options with custom functions
	envOptions []expr.Option
}

// NewCompiler creates a compiler with the helper functions registered.
func NewCompiler() *Compiler {
	c := &Compiler{
		cache: make(map[string]*vm.Program),
	}

	c.envOptions = []expr.Option{
		expr.Env(Env{}),

		// String functions
		expr.Function("lower", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("lower requires 1 argument")
			}
			return strings.ToLower(toString(params[0])), nil
		}),
		expr.Function("upper", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("upper requires 1 argument")
			}
			return strings.ToUpper(toString(params[0])), nil
		}),
		expr.Function("trim", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("trim requires 1 argument")
			}
			return strings.TrimSpace(toString(params[0])), nil
		}),

		// Defaults
		expr.Function("coalesce", func(params ...any) (any, error) {
			for _, p := range params {
				if p != nil && p != "" {
					return p, nil
				}
			}
			return nil, nil
		}),
		expr.Function("default", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("default requires 2 arguments (value, defaultValue)")
			}
			if params[0] == nil || params[0] == "" {
				return params[1], nil
			}
			return params[0], nil
		}),

		// Type conversion
		expr.Function("toString", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("toString requires 1 argument")
			}
			return toString(params[0]), nil
		}),
		expr.Function("toFloat", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("toFloat requires 1 argument")
			}
			return toFloat(params[0]), nil
		}),
	}

	return c
}

// Program is a compiled payload expression.
type Program struct {
	source  string
	program *vm.Program
}

// Compile returns the compiled program for source, compiling it once.
func (c *Compiler) Compile(source string) (*Program, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, ErrEmptyExpression
	}

	c.cacheMu.RLock()
	program, ok := c.cache[source]
	c.cacheMu.RUnlock()
	if ok {
		return &Program{source: source, program: program}, nil
	}

	program, err := expr.Compile(source, c.envOptions...)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}

	c.cacheMu.Lock()
	c.cache[source] = program
	c.cacheMu.Unlock()

	return &Program{source: source, program: program}, nil
}

// ClearCache clears the compiled expression cache.
func (c *Compiler) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]*vm.Program)
	c.cacheMu.Unlock()
}

// Source returns the expression text.
func (p *Program) Source() string { return p.source }

// Map evaluates the program against payload. Integer results are
// returned as float64 so mapped payloads look like decoded JSON.
// Map has the shape of an action map function.
func (p *Program) Map(payload any) (any, error) {
	result, err := expr.Run(p.program, Env{Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("run expression %q: %w", p.source, err)
	}
	return normalize(result), nil
}

var defaultCompiler = NewCompiler()

// Compile compiles source with the shared compiler.
func Compile(source string) (*Program, error) {
	return defaultCompiler.Compile(source)
}

func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) float64 {
	if v == nil {
		return 0
	}
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		var f float64
		fmt.Sscanf(val, "%f", &f)
		return f
	default:
		return 0
	}
}
