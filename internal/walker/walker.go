// Package walker builds every revision in a range, at most once across runs,
// and reports how output sizes changed between neighbouring revisions.
package walker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thiagokokada/bundle-blame/internal/build"
	"github.com/thiagokokada/bundle-blame/internal/cache"
	"github.com/thiagokokada/bundle-blame/internal/git"
	"github.com/thiagokokada/bundle-blame/internal/stats"
)

// RevisionSource lists revisions and moves the checkout between them.
type RevisionSource interface {
	DefaultBaseline(ctx context.Context) (string, error)
	Revisions(ctx context.Context, start string) ([]git.Revision, error)
	Checkout(ctx context.Context, identity string) error
}

// Sandbox runs work and restores the checkout afterwards.
type Sandbox interface {
	Run(ctx context.Context, work func(ctx context.Context) error) error
}

// Report lists the units whose size changed between two adjacent revisions.
type Report struct {
	From        git.Revision
	To          git.Revision
	Differences []stats.Difference
}

type Walker struct {
	Source  RevisionSource
	Sandbox Sandbox
	Cache   cache.Store
	Builder build.Builder

	// OnBuild, when set, is called before revision i of n is built. Cached
	// revisions are skipped silently.
	OnBuild func(i, n int, rev git.Revision)
}

// Walk builds every revision from start (or the default baseline when start
// is empty) to HEAD that is not cached yet, then diffs each adjacent pair.
// Builds run one at a time. The first error stops the walk; revisions built
// before it stay cached, and no reports are returned.
func (w *Walker) Walk(ctx context.Context, start string) ([]Report, error) {
	if start == "" {
		baseline, err := w.Source.DefaultBaseline(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve default baseline: %w", err)
		}
		start = baseline
	}
	revisions, err := w.Source.Revisions(ctx, start)
	if err != nil {
		return nil, err
	}
	slog.Info("walking revisions", slog.String("start", start), slog.Int("count", len(revisions)))

	if err := w.buildAll(ctx, revisions); err != nil {
		return nil, err
	}
	return w.diffAll(revisions)
}

func (w *Walker) buildAll(ctx context.Context, revisions []git.Revision) error {
	for i, rev := range revisions {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, ok, err := w.Cache.Read(rev.Identity)
		if err != nil {
			return err
		}
		if ok {
			slog.Debug("cache hit", slog.String("revision", rev.Identity))
			continue
		}
		if w.OnBuild != nil {
			w.OnBuild(i, len(revisions), rev)
		}
		s, err := w.buildOne(ctx, rev)
		if err != nil {
			return err
		}
		if err := w.Cache.Write(rev.Identity, s); err != nil {
			return fmt.Errorf("cache stats for %s: %w", rev.Short(), err)
		}
	}
	return nil
}

func (w *Walker) buildOne(ctx context.Context, rev git.Revision) (stats.Stats, error) {
	var s stats.Stats
	err := w.Sandbox.Run(ctx, func(ctx context.Context) error {
		if err := w.Source.Checkout(ctx, rev.Identity); err != nil {
			return err
		}
		var err error
		s, err = w.Builder.Build(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("revision %s (%s): %w", rev.Short(), rev.Message, err)
	}
	return s, nil
}

func (w *Walker) diffAll(revisions []git.Revision) ([]Report, error) {
	var reports []Report
	for i := 1; i < len(revisions); i++ {
		from, to := revisions[i-1], revisions[i]
		before, err := w.cached(from)
		if err != nil {
			return nil, err
		}
		after, err := w.cached(to)
		if err != nil {
			return nil, err
		}
		if diffs := stats.Diff(before, after); len(diffs) > 0 {
			reports = append(reports, Report{From: from, To: to, Differences: diffs})
		}
	}
	return reports, nil
}

func (w *Walker) cached(rev git.Revision) (stats.Stats, error) {
	s, ok, err := w.Cache.Read(rev.Identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("internal error: no cached stats for %s after the build phase", rev.Identity)
	}
	return s, nil
}
