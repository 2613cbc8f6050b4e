// Package gate implements the multi-stage review gate workflow engine: a
// sandboxed conditional evaluator for `when` clauses, and the state machine
// that advances, rejects, or blocks a task as it moves through a workflow's
// gates.
package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultEvalTimeout is the hard wall-clock budget for a single `when`
// evaluation; anything slower resolves to false.
const defaultEvalTimeout = 100 * time.Millisecond

// programCacheSize bounds the compiled-program LRU; workflows rarely carry
// more than a few dozen distinct `when` expressions across all gates.
const programCacheSize = 256

// EvalContext is the read-only context a `when` expression may reference.
// No other identifiers resolve — CEL has no ambient globals, so any
// reference outside these three simply fails to compile.
type EvalContext struct {
	Tags        []string
	Metadata    map[string]any
	GateHistory []map[string]any
}

// Evaluator compiles and evaluates `when` clauses in a sandboxed CEL
// environment with a bounded program cache and a per-call wall-clock
// timeout.
type Evaluator struct {
	env     *cel.Env
	cache   *lru.Cache[string, cel.Program]
	timeout time.Duration
}

// NewEvaluator builds an Evaluator whose environment exposes exactly
// tags/metadata/gateHistory.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("gateHistory", cel.ListType(cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("gate: build cel environment: %w", err)
	}
	cache, err := lru.New[string, cel.Program](programCacheSize)
	if err != nil {
		return nil, fmt.Errorf("gate: build program cache: %w", err)
	}
	return &Evaluator{env: env, cache: cache, timeout: defaultEvalTimeout}, nil
}

// Eval evaluates expr against ctx. An empty/whitespace expression resolves
// to true (no gate barrier). Any compile error, runtime error, or timeout
// resolves to false — including prototype-pollution-style probes, which
// simply fail to compile since no identifier besides the three declared
// variables is in scope.
func (e *Evaluator) Eval(expr string, ctx EvalContext) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}

	prg, err := e.compile(expr)
	if err != nil {
		return false
	}

	type result struct {
		val ref.Val
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("gate: eval panic: %v", r)}
			}
		}()
		val, _, evalErr := prg.Eval(map[string]any{
			"tags":        ctx.Tags,
			"metadata":    ctx.Metadata,
			"gateHistory": ctx.GateHistory,
		})
		done <- result{val: val, err: evalErr}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return false
		}
		return coerceBool(r.val)
	case <-time.After(e.timeout):
		return false
	}
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	if prg, ok := e.cache.Get(expr); ok {
		return prg, nil
	}
	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.cache.Add(expr, prg)
	return prg, nil
}

// coerceBool applies JS-like truthiness to a CEL result: nil/false/"" are
// falsy, an empty list is still truthy (it's present, just empty).
func coerceBool(val ref.Val) bool {
	if val == nil {
		return false
	}
	switch v := val.Value().(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
