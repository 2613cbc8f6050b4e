// Package eventlog appends structured domain events to a daily-rotated
// JSONL file, with a symlink that always points at the current day.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one line in the log.
type Event struct {
	EventID   int64          `json:"eventId"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	TaskID    string         `json:"taskId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Log appends events to <dir>/YYYY-MM-DD.jsonl and keeps <dir>/events.jsonl
// symlinked to the current day's file. Safe for concurrent use; event ids
// are a process-local monotonic counter.
type Log struct {
	dir     string
	clock   func() time.Time
	mu      sync.Mutex
	nextID  int64
	curDay  string
	curFile *os.File
	curW    *bufio.Writer
}

// Option customizes a new Log.
type Option func(*Log)

// WithClock overrides time.Now, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// New returns a Log writing under dir. The directory is created lazily on
// the first Emit.
func New(dir string, opts ...Option) *Log {
	l := &Log{dir: dir, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit appends one event, assigning it the next monotonic event id and
// rotating the day file (and re-pointing the symlink) if the UTC date has
// rolled over since the last call.
func (l *Log) Emit(eventType, actor, taskID string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if err := l.ensureDayLocked(now); err != nil {
		return // best-effort: event logging must never block the caller
	}

	id := atomic.AddInt64(&l.nextID, 1)
	evt := Event{EventID: id, Type: eventType, Timestamp: now, Actor: actor, TaskID: taskID, Payload: payload}

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	l.curW.Write(data)
	l.curW.WriteByte('\n')
	l.curW.Flush()
}

// ensureDayLocked opens (or rotates to) today's file. Caller must hold l.mu.
func (l *Log) ensureDayLocked(now time.Time) error {
	day := now.UTC().Format("2006-01-02")
	if day == l.curDay && l.curFile != nil {
		return nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("eventlog: mkdir: %w", err)
	}
	path := filepath.Join(l.dir, day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	if l.curFile != nil {
		l.curW.Flush()
		l.curFile.Close()
	}
	l.curFile = f
	l.curW = bufio.NewWriter(f)
	l.curDay = day

	if err := l.swapSymlinkLocked(day); err != nil {
		return err
	}
	return nil
}

// swapSymlinkLocked atomically repoints events.jsonl at <day>.jsonl via a
// temp symlink + rename, so readers never see a missing or half-swapped link.
func (l *Log) swapSymlinkLocked(day string) error {
	target := day + ".jsonl"
	linkPath := filepath.Join(l.dir, "events.jsonl")
	tmpLink := linkPath + ".tmp"

	_ = os.Remove(tmpLink)
	if err := os.Symlink(target, tmpLink); err != nil {
		return fmt.Errorf("eventlog: create temp symlink: %w", err)
	}
	if err := os.Rename(tmpLink, linkPath); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("eventlog: swap symlink: %w", err)
	}
	return nil
}

// Close flushes and closes the current day file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.curFile == nil {
		return nil
	}
	l.curW.Flush()
	return l.curFile.Close()
}

// Filter narrows a Query to events matching every set field. A zero Filter
// matches everything.
type Filter struct {
	Type   string
	TaskID string
	Actor  string
	Since  time.Time
}

func (f Filter) matches(evt Event) bool {
	if f.Type != "" && evt.Type != f.Type {
		return false
	}
	if f.TaskID != "" && evt.TaskID != f.TaskID {
		return false
	}
	if f.Actor != "" && evt.Actor != f.Actor {
		return false
	}
	if !f.Since.IsZero() && evt.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Query scans every "YYYY-MM-DD.jsonl" file under dir (skipping the
// events.jsonl symlink), in filename order, decoding and filtering events
// against filter. Day filenames sort lexically with their dates, so when
// filter.Since is set, files whose date precedes it are skipped without
// being opened. Malformed lines are skipped; a missing or empty dir yields
// no events, not an error.
func Query(dir string, filter Filter) ([]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: read dir %s: %w", dir, err)
	}

	var sinceDay string
	if !filter.Since.IsZero() {
		sinceDay = filter.Since.UTC().Format("2006-01-02")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "events.jsonl" {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".jsonl" {
			continue
		}
		day := strings.TrimSuffix(name, ".jsonl")
		if sinceDay != "" && day < sinceDay {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var events []Event
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("eventlog: read %s: %w", name, err)
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var evt Event
			if err := json.Unmarshal(line, &evt); err != nil {
				continue
			}
			if filter.matches(evt) {
				events = append(events, evt)
			}
		}
	}
	return events, nil
}
