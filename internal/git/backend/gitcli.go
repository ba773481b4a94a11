package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

type gitCLI struct {
	path string
}

func OpenCLI(repoPath string) (Backend, error) {
	return openCLI(repoPath)
}

func openCLI(repoPath string) (*gitCLI, error) {
	if err := ensureMinGitVersion(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	tmp := &gitCLI{path: abs}
	root, err := tmp.runGitCommand(context.Background(), []string{"rev-parse", "--show-toplevel"}, false, "git rev-parse")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("open repository: git rev-parse returned empty root")
	}
	return &gitCLI{path: root}, nil
}

func (g *gitCLI) RepoPath() string {
	if g == nil {
		return ""
	}
	return g.path
}

// runGitCommand returns stdout of a git invocation. With allowExit1, an exit
// status of 1 without stderr output counts as success with whatever was printed.
func (g *gitCLI) runGitCommand(ctx context.Context, args []string, allowExit1 bool, label string) (string, error) {
	out, exit1, err := g.run(ctx, args, label)
	if err != nil {
		return "", err
	}
	if exit1 && !allowExit1 {
		return "", fmt.Errorf("%s: exit status 1", label)
	}
	return out, nil
}

// gitSucceeds maps exit status 0 to true and a quiet exit status 1 to false, for
// predicate commands such as "merge-base --is-ancestor" or "show-ref --verify".
func (g *gitCLI) gitSucceeds(ctx context.Context, args []string, label string) (bool, error) {
	_, exit1, err := g.run(ctx, args, label)
	if err != nil {
		return false, err
	}
	return !exit1, nil
}

func (g *gitCLI) run(ctx context.Context, args []string, label string) (stdoutText string, exit1 bool, err error) {
	if g == nil || g.path == "" {
		return "", false, fmt.Errorf("repository root not set")
	}
	cmdArgs := append([]string{"-C", g.path}, args...)
	slog.Debug("running git", slog.String("args", strings.Join(args, " ")))
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && stderr.Len() == 0 {
			return stdout.String(), true, nil
		}
		if stderr.Len() > 0 {
			return "", false, fmt.Errorf("%s: %v: %s", label, err, strings.TrimSpace(stderr.String()))
		}
		return "", false, fmt.Errorf("%s: %w", label, err)
	}
	return stdout.String(), false, nil
}
