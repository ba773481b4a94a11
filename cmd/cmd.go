package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/bundle-blame/internal/build"
	"github.com/thiagokokada/bundle-blame/internal/buildinfo"
	"github.com/thiagokokada/bundle-blame/internal/cache"
	"github.com/thiagokokada/bundle-blame/internal/config"
	"github.com/thiagokokada/bundle-blame/internal/git"
	"github.com/thiagokokada/bundle-blame/internal/report"
	"github.com/thiagokokada/bundle-blame/internal/sandbox"
	"github.com/thiagokokada/bundle-blame/internal/walker"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	// ExitCleanup means the working tree may not be where the user left it.
	ExitCleanup = 3
)

type options struct {
	repo         string
	configPath   string
	cacheDir     string
	cacheBackend string
	gitBackend   string
	color        string
	verbose      bool
	version      bool
}

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// Run executes the command line and returns the process exit code. Errors are
// written to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "bundle-blame: %v\n", err)
	if hint := recoveryHint(err); hint != "" {
		fmt.Fprintln(stderr, hint)
	}
	return ExitCode(err)
}

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cleanupErr *sandbox.CleanupError
	if errors.As(err, &cleanupErr) {
		return ExitCleanup
	}
	var uErr *usageError
	if errors.As(err, &uErr) {
		return ExitUsage
	}
	return ExitFailure
}

func recoveryHint(err error) string {
	var cleanupErr *sandbox.CleanupError
	if !errors.As(err, &cleanupErr) {
		return ""
	}
	st := cleanupErr.State
	hint := "The working tree was not restored. To recover manually:\n"
	if st.Detached() {
		hint += fmt.Sprintf("  git switch --detach %s\n", st.Commit)
	} else {
		hint += fmt.Sprintf("  git switch %s\n", st.Branch)
	}
	if st.Stash != "" {
		hint += fmt.Sprintf("  git stash list   # find %q\n", st.Stash)
		hint += "  git stash pop --index <entry>\n"
	}
	return hint
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	c := &cobra.Command{
		Use:   "bundle-blame [start]",
		Short: "Find the commits that changed your bundle sizes",
		Long: `bundle-blame builds every commit from start (default: main, or master)
up to HEAD, caches the gzip size of each page, and prints the size changes
between each pair of adjacent commits.

Uncommitted changes are stashed while building and restored afterwards.`,
		Args: func(c *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(c, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			if opts.version {
				fmt.Fprintln(stdout, versionString())
				return nil
			}
			setupLogging(stderr, opts.verbose)
			var start string
			if len(args) == 1 {
				start = args[0]
			}
			return run(c, opts, start, stdout, stderr)
		},
	}
	c.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	f := c.Flags()
	f.StringVarP(&opts.repo, "repo", "C", ".", "project directory inside the git repository")
	f.StringVar(&opts.configPath, "config", "", "config file (default: "+config.FileName+" at the repository root)")
	f.StringVar(&opts.cacheDir, "cache-dir", "", "directory for cached build stats (default: user cache dir)")
	f.StringVar(&opts.cacheBackend, "cache-backend", "", "cache storage: file or bolt")
	f.StringVar(&opts.gitBackend, "git-backend", "", "git implementation: native or cli")
	f.StringVar(&opts.color, "color", string(report.ColorAuto), "colorize output: auto, always or never")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	f.BoolVar(&opts.version, "version", false, "print version information and exit")
	return c
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func versionString() string {
	v := "bundle-blame " + buildinfo.String()
	gitVersion, err := git.GitVersion()
	if err != nil {
		return fmt.Sprintf("%s\ngit: %v (need >= %s)", v, err, git.MinGitVersion())
	}
	return v + "\n" + gitVersion
}

// loadConfig applies defaults, then the config file, then explicitly set
// flags.
func loadConfig(c *cobra.Command, opts *options, projectDir string) (config.Config, error) {
	path, required := opts.configPath, true
	if path == "" {
		path, required = findConfig(projectDir), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return config.Config{}, err
	}
	flags := c.Flags()
	if flags.Changed("cache-dir") {
		cfg.Cache.Dir = opts.cacheDir
	}
	if flags.Changed("cache-backend") {
		cfg.Cache.Backend = opts.cacheBackend
	}
	if flags.Changed("git-backend") {
		cfg.Git.Backend = opts.gitBackend
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &usageError{err: err}
	}
	if path != "" {
		slog.Debug("configuration loaded", slog.String("path", path))
	}
	return cfg, nil
}

// findConfig looks for the config file from dir up to the repository root,
// which is the first directory holding a .git entry. It returns "" when
// there is none.
func findConfig(dir string) string {
	for {
		candidate := filepath.Join(dir, config.FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func run(c *cobra.Command, opts *options, start string, stdout, stderr io.Writer) (err error) {
	ctx := c.Context()
	colorMode, err := report.ParseColorMode(opts.color)
	if err != nil {
		return &usageError{err: err}
	}
	projectDir, err := filepath.Abs(opts.repo)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, opts, projectDir)
	if err != nil {
		return err
	}

	svc, err := git.Open(cfg.Git.Backend, projectDir)
	if err != nil {
		return err
	}
	cacheDir, err := cfg.CacheDir()
	if err != nil {
		return err
	}
	store, err := cache.Open(cfg.Cache.Backend, cacheDir)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close cache: %w", closeErr)
		}
	}()
	slog.Debug("starting",
		slog.String("repo", svc.RepoPath()),
		slog.String("project", projectDir),
		slog.String("git_backend", cfg.Git.Backend),
		slog.String("cache_backend", cfg.Cache.Backend),
	)

	w := &walker.Walker{
		Source:  svc,
		Sandbox: sandbox.New(svc.Worktree()),
		Cache:   store,
		Builder: build.NewNextBuilder(build.Options{
			Dir:        projectDir,
			Command:    cfg.Build.Command,
			OutputDir:  cfg.Build.OutputDir,
			Manifest:   cfg.Build.Manifest,
			Extensions: cfg.Build.Extensions,
			Workers:    cfg.Build.Workers,
			Output:     stderr,
		}),
		OnBuild: func(i, n int, rev git.Revision) {
			slog.Info("building revision",
				slog.Int("index", i+1),
				slog.Int("total", n),
				slog.String("revision", rev.Short()),
				slog.String("message", rev.Message),
			)
		},
	}
	reports, err := w.Walk(ctx, start)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		slog.Info("no size changes found")
		return nil
	}
	return report.NewWriter(stdout, colorMode).WriteAll(reports)
}
