package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatorEmptyExpressionIsTrue(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.True(t, eval.Eval("", EvalContext{}))
	assert.True(t, eval.Eval("   ", EvalContext{}))
}

func TestEvaluatorTagsIncludes(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.True(t, eval.Eval(`"urgent" in tags`, EvalContext{Tags: []string{"urgent", "backend"}}))
	assert.False(t, eval.Eval(`"urgent" in tags`, EvalContext{Tags: []string{"backend"}}))
}

func TestEvaluatorMetadataComparison(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.True(t, eval.Eval(`metadata.kind == "bugfix"`, EvalContext{Metadata: map[string]any{"kind": "bugfix"}}))
}

func TestEvaluatorSyntaxErrorResolvesFalse(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.False(t, eval.Eval(`tags.includes(`, EvalContext{}))
}

// P9 Sandbox safety: no global scope, no prototype-chain traversal — any
// reference outside tags/metadata/gateHistory fails to compile and
// resolves to false.
func TestEvaluatorRejectsGlobalScopeProbes(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.False(t, eval.Eval(`__proto__.polluted == true`, EvalContext{}))
	assert.False(t, eval.Eval(`globalThis.process.env`, EvalContext{}))
	assert.False(t, eval.Eval(`this.constructor`, EvalContext{}))
}

func TestEvaluatorGateHistorySome(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	history := []map[string]any{{"toGate": "qa", "outcome": "complete"}}
	assert.True(t, eval.Eval(`gateHistory.exists(g, g.toGate == "qa")`, EvalContext{GateHistory: history}))
}
