package tools

import "fmt"

// Marker is the glyph rendered for a tool-call outcome on CLI-adjacent
// surfaces (the cmd/aof subcommands, agent-facing summaries).
type Marker string

const (
	MarkerSuccess Marker = "✅"
	MarkerFailure Marker = "❌"
	MarkerWarning Marker = "⚠"
)

// ExitCode is the process exit code a CLI-adjacent surface should use for a
// rendered outcome: 0 for success or warning, 1 for failure.
func (m Marker) ExitCode() int {
	if m == MarkerFailure {
		return 1
	}
	return 0
}

// Render formats a tool call's outcome as a single marker-prefixed line and
// reports the exit code the caller should use. A non-nil err always renders
// ❌ regardless of env, matching the tools layer's "summaries plus exit code
// 1 on failure" contract. A nil err with a non-empty warnings field renders
// ⚠ while still exiting 0 — the call succeeded but the caller should look
// closer.
func Render(env Envelope, err error) (string, int) {
	if err != nil {
		marker := MarkerFailure
		return fmt.Sprintf("%s %s", marker, err.Error()), marker.ExitCode()
	}
	if warnings, ok := env.Fields["warnings"].([]string); ok && len(warnings) > 0 {
		marker := MarkerWarning
		return fmt.Sprintf("%s %s (%d warning(s): %v)", marker, env.Summary, len(warnings), warnings), marker.ExitCode()
	}
	marker := MarkerSuccess
	return fmt.Sprintf("%s %s", marker, env.Summary), marker.ExitCode()
}

// RenderLines renders one line per violation line, warning-marked since a
// violation is a drift report rather than an operation failure, followed by
// a final line with the overall marker and the exit code the CLI should use:
// ✅/0 when violations is empty, ❌/1 otherwise (lint treats any drift as a
// hard failure for scripting purposes).
func RenderLines(summary string, violationLines []string) ([]string, int) {
	if len(violationLines) == 0 {
		return []string{fmt.Sprintf("%s %s", MarkerSuccess, summary)}, MarkerSuccess.ExitCode()
	}
	lines := make([]string, 0, len(violationLines)+1)
	for _, v := range violationLines {
		lines = append(lines, fmt.Sprintf("%s %s", MarkerWarning, v))
	}
	lines = append(lines, fmt.Sprintf("%s %d violation(s) found", MarkerFailure, len(violationLines)))
	return lines, MarkerFailure.ExitCode()
}
