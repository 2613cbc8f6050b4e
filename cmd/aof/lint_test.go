package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d0labs/aof/internal/taskstore"
)

func TestRunLintReportsNoViolationsOnCleanStore(t *testing.T) {
	dir := t.TempDir()
	store := taskstore.New(dir, "proj-a")
	require.NoError(t, store.Init())
	_, err := store.Create(taskstore.CreateOptions{Title: "clean task", CreatedBy: "alice"})
	require.NoError(t, err)

	err = runLint(dir, "proj-a")
	assert.NoError(t, err)
}

func TestRunLintReportsStatusDrift(t *testing.T) {
	dir := t.TempDir()
	store := taskstore.New(dir, "proj-a")
	require.NoError(t, store.Init())

	path := filepath.Join(dir, "tasks", "ready", "TASK-drift.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := "---\nid: TASK-drift\ntitle: drifted\nstatus: backlog\n---\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	err := runLint(dir, "proj-a")
	assert.Error(t, err)
}
