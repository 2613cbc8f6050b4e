package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// stdoutSession launches a configured external command per project.yaml's
// executor.command, writing its stdout into the task's run artifact
// directory. It does not wait for the command to finish — completion
// arrives later via the protocol router's completion.report, same as any
// other agent session.
type stdoutSession struct {
	command []string
	runRoot string // <projectRoot>/state/runs
}

// NewStdoutSession returns a session that execs command (argv[0] plus args)
// for each dispatched task, writing its stdout to runRoot/<taskId>/stdout.log.
func NewStdoutSession(command []string, runRoot string) Session {
	return &stdoutSession{command: command, runRoot: runRoot}
}

func (s *stdoutSession) SpawnSession(ctx context.Context, tc TaskContext, opts SpawnOptions) (SpawnResult, error) {
	if len(s.command) == 0 {
		return SpawnResult{}, fmt.Errorf("executor: no command configured")
	}

	dir := filepath.Join(s.runRoot, tc.Task.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SpawnResult{}, fmt.Errorf("executor: mkdir %s: %w", dir, err)
	}
	logPath := filepath.Join(dir, "stdout.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return SpawnResult{}, fmt.Errorf("executor: create %s: %w", logPath, err)
	}
	defer logFile.Close()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout(opts))
	cmd := exec.CommandContext(runCtx, s.command[0], s.command[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"AOF_TASK_ID="+tc.Task.ID,
		"AOF_PROJECT_ID="+tc.ProjectID,
	)

	if err := cmd.Start(); err != nil {
		cancel()
		return SpawnResult{Started: false, Error: err.Error()}, nil
	}
	go func() {
		_ = cmd.Wait()
		cancel()
	}()
	return SpawnResult{Started: true}, nil
}
