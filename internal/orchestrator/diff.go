package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
)

// DiffCapturer captures the project's source changes after an execute
// phase. Capture failures are logged by the loop, never fatal.
type DiffCapturer interface {
	Capture(ctx context.Context, workingDir string) ([]byte, error)
}

// GitDiff captures uncommitted changes with git.
type GitDiff struct{}

// Capture runs git diff against HEAD in the working directory.
func (GitDiff) Capture(ctx context.Context, workingDir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
	cmd.Dir = workingDir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	return out, nil
}
