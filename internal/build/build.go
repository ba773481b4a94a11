// Package build runs a project's production build and measures the compressed
// size of each page it emits.
package build

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/thiagokokada/bundle-blame/internal/stats"
)

const (
	DefaultOutputDir = ".next"
	DefaultManifest  = "build-manifest.json"
)

var DefaultExtensions = []string{".js"}

// Builder builds whatever is currently checked out.
type Builder interface {
	Build(ctx context.Context) (stats.Stats, error)
}

// BuildError is any failure to produce stats for the current checkout.
type BuildError struct {
	Op  string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed: %s: %v", e.Op, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

type Options struct {
	// Dir is the project root.
	Dir string
	// Command overrides the detected "<package manager> build".
	Command    []string
	OutputDir  string
	Manifest   string
	Extensions []string
	Workers    int
	// Output receives the build tool's stdout and stderr. Nil discards it.
	Output io.Writer
}

// NextBuilder builds a Next.js project and sizes the pages listed in its
// build manifest.
type NextBuilder struct {
	opts Options

	runCommand func(ctx context.Context, dir string, argv []string, out io.Writer) error
	sizer      Sizer
}

func NewNextBuilder(opts Options) *NextBuilder {
	if opts.OutputDir == "" {
		opts.OutputDir = DefaultOutputDir
	}
	if opts.Manifest == "" {
		opts.Manifest = DefaultManifest
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	return &NextBuilder{opts: opts, runCommand: runCommand, sizer: GzipSize}
}

func (b *NextBuilder) Build(ctx context.Context) (stats.Stats, error) {
	argv := b.opts.Command
	if len(argv) == 0 {
		pm, err := DetectPackageManager(b.opts.Dir)
		if err != nil {
			return nil, &BuildError{Op: "detect package manager", Err: err}
		}
		argv = []string{pm, "build"}
	}

	slog.Info("building", slog.String("command", strings.Join(argv, " ")), slog.String("dir", b.opts.Dir))
	start := time.Now()
	if err := b.runCommand(ctx, b.opts.Dir, argv, b.opts.Output); err != nil {
		return nil, &BuildError{Op: "run " + argv[0], Err: err}
	}
	slog.Debug("build finished", slog.Duration("elapsed", time.Since(start)))

	outDir := filepath.Join(b.opts.Dir, b.opts.OutputDir)
	pages, err := ReadManifest(filepath.Join(outDir, b.opts.Manifest))
	if err != nil {
		return nil, &BuildError{Op: "read manifest", Err: err}
	}
	s, err := Measure(ctx, outDir, pages, MeasureOptions{
		Extensions: b.opts.Extensions,
		Workers:    b.opts.Workers,
		Sizer:      b.sizer,
	})
	if err != nil {
		return nil, &BuildError{Op: "measure output", Err: err}
	}
	return s, nil
}

func runCommand(ctx context.Context, dir string, argv []string, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	var stderr bytes.Buffer
	sw := &syncWriter{w: out}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = sw
	cmd.Stderr = io.MultiWriter(sw, &stderr)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if tail := lastLine(stderr.String()); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	return nil
}

// syncWriter serializes the stdout and stderr copy goroutines of exec.Cmd.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// Lock files checked by DetectPackageManager, in priority order.
var lockFiles = []struct {
	name    string
	manager string
}{
	{"package-lock.json", "npm"},
	{"yarn.lock", "yarn"},
	{"pnpm-lock.yaml", "pnpm"},
}

var ErrUnknownPackageManager = errors.New("cannot determine package manager: no package-lock.json, yarn.lock or pnpm-lock.yaml")

// DetectPackageManager picks npm, yarn or pnpm from the lock file in dir.
func DetectPackageManager(dir string) (string, error) {
	for _, lf := range lockFiles {
		_, err := os.Stat(filepath.Join(dir, lf.name))
		if err == nil {
			return lf.manager, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", ErrUnknownPackageManager
}

type manifest struct {
	Pages map[string][]string `json:"pages"`
}

// ReadManifest returns the page to files mapping of a build manifest. File
// paths are relative to the manifest's output directory.
func ReadManifest(path string) (map[string][]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Pages == nil {
		return nil, fmt.Errorf("parse %s: no pages", path)
	}
	return m.Pages, nil
}
