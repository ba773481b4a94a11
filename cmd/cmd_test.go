package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thiagokokada/bundle-blame/internal/sandbox"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "plain", err: errors.New("boom"), want: ExitFailure},
		{name: "usage", err: &usageError{err: errors.New("bad flag")}, want: ExitUsage},
		{name: "cleanup", err: fmt.Errorf("walk: %w", &sandbox.CleanupError{Err: errors.New("switch failed")}), want: ExitCleanup},
		{name: "cancelled", err: context.Canceled, want: ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRecoveryHint(t *testing.T) {
	t.Parallel()

	if hint := recoveryHint(errors.New("boom")); hint != "" {
		t.Fatalf("recoveryHint(plain) = %q, want empty", hint)
	}
	branchErr := &sandbox.CleanupError{
		State: sandbox.State{Branch: "main", Commit: "abc", Stash: "bundle-blame sandbox 42"},
		Err:   errors.New("switch failed"),
	}
	hint := recoveryHint(branchErr)
	for _, want := range []string{"git switch main", "bundle-blame sandbox 42", "git stash pop --index"} {
		if !strings.Contains(hint, want) {
			t.Fatalf("recoveryHint() = %q, missing %q", hint, want)
		}
	}
	detachedErr := &sandbox.CleanupError{State: sandbox.State{Commit: "abc"}, Err: errors.New("switch failed")}
	hint = recoveryHint(detachedErr)
	if !strings.Contains(hint, "git switch --detach abc") || strings.Contains(hint, "stash") {
		t.Fatalf("recoveryHint(detached) = %q", hint)
	}
}

func TestRootCommandFlags(t *testing.T) {
	t.Parallel()

	c := newRootCommand(new(strings.Builder), new(strings.Builder))
	for _, tt := range []struct{ name, shorthand, def string }{
		{name: "repo", shorthand: "C", def: "."},
		{name: "config"},
		{name: "cache-dir"},
		{name: "cache-backend"},
		{name: "git-backend"},
		{name: "color", def: "auto"},
		{name: "verbose", shorthand: "v", def: "false"},
		{name: "version", def: "false"},
	} {
		f := c.Flags().Lookup(tt.name)
		if f == nil {
			t.Fatalf("flag --%s missing", tt.name)
		}
		if f.Shorthand != tt.shorthand || f.DefValue != tt.def {
			t.Fatalf("flag --%s = (-%s, %q), want (-%s, %q)", tt.name, f.Shorthand, f.DefValue, tt.shorthand, tt.def)
		}
	}
}

// Tests below go through Run, which installs the process-wide slog handler,
// so they do not run in parallel.

func TestRun_UsageErrors(t *testing.T) {

	tests := []struct {
		name string
		args []string
	}{
		{name: "too_many_args", args: []string{"main", "HEAD"}},
		{name: "unknown_flag", args: []string{"--bogus"}},
		{name: "bad_color", args: []string{"--color", "rainbow"}},
		{name: "bad_cache_backend", args: []string{"--cache-backend", "redis", "-C", t.TempDir()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr strings.Builder
			if code := Run(context.Background(), tt.args, &stdout, &stderr); code != ExitUsage {
				t.Fatalf("Run(%v) = %d, want %d (stderr: %s)", tt.args, code, ExitUsage, stderr.String())
			}
			if !strings.HasPrefix(stderr.String(), "bundle-blame: ") {
				t.Fatalf("stderr = %q", stderr.String())
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	t.Parallel()

	var stdout, stderr strings.Builder
	if code := Run(context.Background(), []string{"--version"}, &stdout, &stderr); code != ExitOK {
		t.Fatalf("Run(--version) = %d, stderr %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "bundle-blame ") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestFindConfig(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sub := filepath.Join(root, "apps", "web")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := findConfig(sub); got != "" {
		t.Fatalf("findConfig() = %q, want none", got)
	}
	rootCfg := filepath.Join(root, ".bundle-blame.yaml")
	if err := os.WriteFile(rootCfg, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := findConfig(sub); got != rootCfg {
		t.Fatalf("findConfig() = %q, want %q", got, rootCfg)
	}
	subCfg := filepath.Join(sub, ".bundle-blame.yaml")
	if err := os.WriteFile(subCfg, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := findConfig(sub); got != subCfg {
		t.Fatalf("findConfig() = %q, want %q", got, subCfg)
	}
}

func requireTools(t *testing.T) {
	t.Helper()

	for _, tool := range []string{"git", "sh"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL="+os.DevNull,
		"GIT_CONFIG_NOSYSTEM=1",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "--quiet", "-m", message)
}

// incompressible returns n bytes that gzip cannot shrink much.
func incompressible(n int) string {
	var b strings.Builder
	x := uint32(2463534242)
	for b.Len() < n {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b.WriteByte(byte('!' + x%90))
	}
	return b.String()
}

// newProject creates a repository whose "build" copies app.js into the
// output directory and appends a line to a log for every build.
func newProject(t *testing.T) (repo, configPath, buildLog string) {
	t.Helper()

	repo = t.TempDir()
	runGit(t, repo, "init", "--quiet")
	runGit(t, repo, "symbolic-ref", "HEAD", "refs/heads/main")
	runGit(t, repo, "config", "user.name", "Test")
	runGit(t, repo, "config", "user.email", "test@example.com")

	if err := os.WriteFile(filepath.Join(repo, ".gitignore"), []byte(".next/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, repo, "add", ".gitignore")
	commitFile(t, repo, "app.js", "console.log(1)\n", "initial")
	commitFile(t, repo, "app.js", "console.log(1)\n"+incompressible(4000), "add dependency")
	commitFile(t, repo, "README.md", "docs\n", "docs only")
	commitFile(t, repo, "app.js", "console.log(2)\n", "drop dependency")

	dir := t.TempDir()
	buildLog = filepath.Join(dir, "builds.log")
	script := fmt.Sprintf(`set -e
echo built >> %q
mkdir -p .next/static
cp app.js .next/static/app.js
printf '{"pages":{"/":["static/app.js"]}}' > .next/build-manifest.json
`, buildLog)
	configPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("build:\n  command: [sh, -c, %q]\n", script)
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return repo, configPath, buildLog
}

func countBuilds(t *testing.T, path string) int {
	t.Helper()

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(b), "built\n")
}

func TestRun_EndToEnd(t *testing.T) {
	requireTools(t)

	for _, backends := range [][2]string{{"native", "file"}, {"cli", "bolt"}} {
		t.Run(backends[0]+"_"+backends[1], func(t *testing.T) {
			repo, configPath, buildLog := newProject(t)
			start := runGit(t, repo, "rev-list", "--max-parents=0", "HEAD")
			// Leave the user with uncommitted work the sandbox must preserve.
			if err := os.WriteFile(filepath.Join(repo, "app.js"), []byte("work in progress\n"), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(repo, "notes.txt"), []byte("untracked\n"), 0o644); err != nil {
				t.Fatal(err)
			}

			args := []string{
				"-C", repo,
				"--config", configPath,
				"--cache-dir", t.TempDir(),
				"--git-backend", backends[0],
				"--cache-backend", backends[1],
				"--color", "never",
				start,
			}
			var stdout, stderr strings.Builder
			if code := Run(context.Background(), args, &stdout, &stderr); code != ExitOK {
				t.Fatalf("Run() = %d\nstderr:\n%s", code, stderr.String())
			}
			if got := countBuilds(t, buildLog); got != 4 {
				t.Fatalf("first run built %d revisions, want 4", got)
			}

			out := stdout.String()
			for _, want := range []string{
				`"initial" (`,
				`vs "add dependency" (`,
				"/: increased by",
				`"docs only" (`,
				`vs "drop dependency" (`,
				"/: decreased by",
			} {
				if !strings.Contains(out, want) {
					t.Fatalf("output missing %q:\n%s", want, out)
				}
			}
			// Commits that do not touch app.js produce no block.
			if strings.Contains(out, `vs "docs only"`) || strings.Contains(out, `vs "initial"`) {
				t.Fatalf("output has a block for an unchanged pair:\n%s", out)
			}

			if branch := runGit(t, repo, "symbolic-ref", "--short", "HEAD"); branch != "main" {
				t.Fatalf("branch after run = %q, want main", branch)
			}
			if b, _ := os.ReadFile(filepath.Join(repo, "app.js")); string(b) != "work in progress\n" {
				t.Fatalf("app.js after run = %q", b)
			}
			if _, err := os.Stat(filepath.Join(repo, "notes.txt")); err != nil {
				t.Fatalf("untracked file lost: %v", err)
			}
			if stashes := runGit(t, repo, "stash", "list"); stashes != "" {
				t.Fatalf("stash left behind: %s", stashes)
			}

			stdout.Reset()
			stderr.Reset()
			if code := Run(context.Background(), args, &stdout, &stderr); code != ExitOK {
				t.Fatalf("second Run() = %d\nstderr:\n%s", code, stderr.String())
			}
			if got := countBuilds(t, buildLog); got != 4 {
				t.Fatalf("second run rebuilt: %d builds total, want 4", got)
			}
			if stdout.String() != out {
				t.Fatalf("second run output differs:\n%s\nvs\n%s", stdout.String(), out)
			}
		})
	}
}

func TestRun_BuildFailureRestoresCheckout(t *testing.T) {
	requireTools(t)

	repo, _, _ := newProject(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("build:\n  command: [sh, -c, \"echo broken >&2; exit 1\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	head := runGit(t, repo, "rev-parse", "HEAD")
	runGit(t, repo, "switch", "--quiet", "--detach", "HEAD~1")

	var stdout, stderr strings.Builder
	code := Run(context.Background(), []string{"-C", repo, "--config", configPath, "--cache-dir", t.TempDir(), "main~2"}, &stdout, &stderr)
	if code != ExitFailure {
		t.Fatalf("Run() = %d, want %d\nstderr:\n%s", code, ExitFailure, stderr.String())
	}
	if !strings.Contains(stderr.String(), "broken") {
		t.Fatalf("stderr does not carry the build error:\n%s", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout = %q, want no reports", stdout.String())
	}
	// Still detached at the same commit.
	if got := runGit(t, repo, "rev-parse", "HEAD"); got == head {
		t.Fatalf("HEAD moved to %s", got)
	}
	if got, want := runGit(t, repo, "rev-parse", "HEAD"), runGit(t, repo, "rev-parse", "main~1"); got != want {
		t.Fatalf("HEAD = %s, want %s", got, want)
	}
}

func TestRun_BadStart(t *testing.T) {
	requireTools(t)

	repo, configPath, buildLog := newProject(t)
	var stdout, stderr strings.Builder
	code := Run(context.Background(), []string{"-C", repo, "--config", configPath, "--cache-dir", t.TempDir(), "no-such-branch"}, &stdout, &stderr)
	if code != ExitFailure {
		t.Fatalf("Run() = %d, want %d", code, ExitFailure)
	}
	if countBuilds(t, buildLog) != 0 {
		t.Fatal("built despite a bad start revision")
	}
}
