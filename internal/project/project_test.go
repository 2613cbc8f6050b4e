package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesWorkflowsAndParticipants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	content := `
id: acme
name: Acme
participants: [agent-a, agent-b]
executor:
  command: ["./run.sh"]
workflows:
  - name: dev-qa-deploy
    gates:
      - id: dev
        role: developer
      - id: qa
        role: qa
        canReject: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", m.ID)
	assert.True(t, m.IsParticipant("agent-a"))
	assert.False(t, m.IsParticipant("agent-z"))
	assert.Equal(t, []string{"./run.sh"}, m.Executor.Command)

	lookup := m.WorkflowLookup()
	wf, err := lookup("dev-qa-deploy")
	require.NoError(t, err)
	gateDef, idx, ok := wf.Gate("qa")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.True(t, gateDef.CanReject)

	_, err = lookup("missing")
	assert.Error(t, err)
}

func TestIsParticipantUnrestrictedWhenEmpty(t *testing.T) {
	m := &Manifest{ID: "solo"}
	assert.True(t, m.IsParticipant("anyone"))
}
