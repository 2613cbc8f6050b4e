package taskstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// nextID allocates the next TASK-YYYY-MM-DD-NNN id for today, scanning every
// status directory for existing ids on that day and taking max(NNN)+1.
// Caller must hold the store's write lock — allocation is not itself safe
// for concurrent use across processes.
func nextID(root string, now time.Time) (string, error) {
	day := now.UTC().Format("2006-01-02")
	prefix := "TASK-" + day + "-"

	max := 0
	for _, status := range Statuses {
		dir := filepath.Join(root, "tasks", string(status))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("taskstore: scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".md") {
				continue
			}
			numStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".md")
			n, err := strconv.Atoi(numStr)
			if err != nil {
				continue
			}
			if n > max {
				max = n
			}
		}
	}
	return fmt.Sprintf("%s%03d", prefix, max+1), nil
}
