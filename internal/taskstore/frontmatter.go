package taskstore

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterFence = "---"

// renderFile joins t's YAML frontmatter and body into the on-disk file form.
func renderFile(t *Task) ([]byte, error) {
	fm, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("taskstore: marshal frontmatter: %w", err)
	}
	var b strings.Builder
	b.WriteString(frontmatterFence)
	b.WriteByte('\n')
	b.Write(fm)
	b.WriteString(frontmatterFence)
	b.WriteByte('\n')
	b.WriteString(t.Body)
	return []byte(b.String()), nil
}

// parseFile splits raw into frontmatter + body and decodes the frontmatter
// into a Task. Body retains no leading blank line beyond the closing fence.
func parseFile(raw []byte) (*Task, error) {
	content := string(raw)
	if !strings.HasPrefix(content, frontmatterFence) {
		return nil, fmt.Errorf("%w: missing frontmatter fence", ErrValidation)
	}
	rest := strings.TrimPrefix(content, frontmatterFence)
	rest = strings.TrimPrefix(rest, "\n")

	idx := strings.Index(rest, "\n"+frontmatterFence)
	if idx < 0 {
		return nil, fmt.Errorf("%w: unterminated frontmatter fence", ErrValidation)
	}
	fm := rest[:idx]
	body := rest[idx+len("\n"+frontmatterFence):]
	body = strings.TrimPrefix(body, "\n")

	var t Task
	if err := yaml.Unmarshal([]byte(fm), &t); err != nil {
		return nil, fmt.Errorf("%w: decode frontmatter: %v", ErrValidation, err)
	}
	t.Body = body
	return &t, nil
}
