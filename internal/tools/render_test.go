package tools

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSuccessUsesCheckMarkerAndExitZero(t *testing.T) {
	line, code := Render(Envelope{Summary: "created TASK-001"}, nil)
	assert.Contains(t, line, string(MarkerSuccess))
	assert.Equal(t, 0, code)
}

func TestRenderFailureUsesCrossMarkerAndExitOne(t *testing.T) {
	line, code := Render(Envelope{Summary: "created TASK-001"}, errors.New("conflicting lease"))
	assert.Contains(t, line, string(MarkerFailure))
	assert.Contains(t, line, "conflicting lease")
	assert.Equal(t, 1, code)
}

func TestRenderWarningUsesWarningMarkerAndExitZero(t *testing.T) {
	env := Envelope{Summary: "resurrected TASK-001", Fields: map[string]any{"warnings": []string{"stale lease cleared"}}}
	line, code := Render(env, nil)
	assert.Contains(t, line, string(MarkerWarning))
	assert.Contains(t, line, "stale lease cleared")
	assert.Equal(t, 0, code)
}

func TestRenderLinesNoViolationsIsSuccess(t *testing.T) {
	lines, code := RenderLines("no violations found", nil)
	assert.Equal(t, 0, code)
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], string(MarkerSuccess))
}

func TestRenderLinesWithViolationsWarnsEachAndFailsOverall(t *testing.T) {
	lines, code := RenderLines("ignored", []string{"TASK-001\tstatus_drift\tdetail"})
	assert.Equal(t, 1, code)
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], string(MarkerWarning))
	assert.Contains(t, lines[1], string(MarkerFailure))
}
