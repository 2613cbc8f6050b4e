package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/d0labs/aof/internal/logging"
)

// ConsoleAdapter writes notifications to an io.Writer (stdout by default),
// one line per send.
type ConsoleAdapter struct {
	out io.Writer
	mu  sync.Mutex
}

// NewConsoleAdapter returns a ConsoleAdapter writing to out, or os.Stdout if
// out is nil.
func NewConsoleAdapter(out io.Writer) *ConsoleAdapter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleAdapter{out: out}
}

func (a *ConsoleAdapter) Name() string { return "console" }

func (a *ConsoleAdapter) Send(_ context.Context, n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := fmt.Fprintf(a.out, "[%s] %s: %s\n", n.EventType, n.Title, n.Body)
	return err
}

// FileAdapter appends a plain-text line per notification to a file.
type FileAdapter struct {
	path   string
	logger logging.Logger
	mu     sync.Mutex
}

// NewFileAdapter returns a FileAdapter appending to path.
func NewFileAdapter(path string, logger logging.Logger) *FileAdapter {
	return &FileAdapter{path: path, logger: logging.OrNop(logger)}
}

func (a *FileAdapter) Name() string { return "file" }

func (a *FileAdapter) Send(_ context.Context, n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("notify: open %s: %w", a.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "[%s] %s: %s\n", n.EventType, n.Title, n.Body); err != nil {
		return fmt.Errorf("notify: write %s: %w", a.path, err)
	}
	a.logger.Debug("notify: wrote %s notification to %s", n.EventType, a.path)
	return nil
}

// MockNotificationAdapter records every send for test inspection.
type MockNotificationAdapter struct {
	mu  sync.Mutex
	Got []Notification
}

// NewMockNotificationAdapter returns an empty recording adapter.
func NewMockNotificationAdapter() *MockNotificationAdapter {
	return &MockNotificationAdapter{}
}

func (a *MockNotificationAdapter) Name() string { return "mock" }

func (a *MockNotificationAdapter) Send(_ context.Context, n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Got = append(a.Got, n)
	return nil
}

// Sent returns a snapshot of every notification recorded so far.
func (a *MockNotificationAdapter) Sent() []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Notification, len(a.Got))
	copy(out, a.Got)
	return out
}
