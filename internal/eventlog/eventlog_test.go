package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitWritesJSONLAndAssignsMonotonicIDs(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	log := New(dir, WithClock(func() time.Time { return day }))

	log.Emit("task.created", "agent-a", "TASK-2026-02-13-001", map[string]any{"title": "x"})
	log.Emit("task.transitioned", "agent-a", "TASK-2026-02-13-001", map[string]any{"to": "ready"})
	require.NoError(t, log.Close())

	events, err := Query(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].EventID)
	assert.Equal(t, int64(2), events[1].EventID)
	assert.Equal(t, "task.created", events[0].Type)
}

func TestSymlinkPointsAtCurrentDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	log := New(dir, WithClock(func() time.Time { return day }))
	log.Emit("system.startup", "", "", nil)
	require.NoError(t, log.Close())

	target, err := os.Readlink(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "2026-02-13.jsonl", target)
}

func TestRotatesOnDayRollover(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2026, 2, 13, 23, 59, 0, 0, time.UTC)
	log := New(dir, WithClock(func() time.Time { return current }))

	log.Emit("system.startup", "", "", nil)
	current = current.Add(2 * time.Minute)
	log.Emit("system.startup", "", "", nil)
	require.NoError(t, log.Close())

	all, err := Query(dir, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "query with no since bound must scan both day files")

	target, err := os.Readlink(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "2026-02-14.jsonl", target)
}

func TestQueryFiltersByTypeTaskIDAndActor(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	log := New(dir, WithClock(func() time.Time { return day }))

	log.Emit("task.created", "agent-a", "TASK-2026-02-13-001", nil)
	log.Emit("task.transitioned", "agent-a", "TASK-2026-02-13-001", map[string]any{"to": "ready"})
	log.Emit("task.created", "agent-b", "TASK-2026-02-13-002", nil)
	require.NoError(t, log.Close())

	byType, err := Query(dir, Filter{Type: "task.created"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byTask, err := Query(dir, Filter{TaskID: "TASK-2026-02-13-001"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	byActor, err := Query(dir, Filter{Actor: "agent-b"})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, "TASK-2026-02-13-002", byActor[0].TaskID)

	combined, err := Query(dir, Filter{Type: "task.created", Actor: "agent-a"})
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, "TASK-2026-02-13-001", combined[0].TaskID)
}

func TestQuerySinceBoundsScannedDaysAndEvents(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	log := New(dir, WithClock(func() time.Time { return current }))

	log.Emit("system.startup", "", "", nil) // day 1, before the since bound
	current = time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	log.Emit("system.startup", "", "", nil) // day 2, at the since bound
	require.NoError(t, log.Close())

	since := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	events, err := Query(dir, Filter{Since: since})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].EventID)
}

func TestQueryMissingDirReturnsNoEvents(t *testing.T) {
	events, err := Query(filepath.Join(t.TempDir(), "absent"), Filter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
