package backend

import (
	"context"
	"fmt"
)

// History answers read-only questions about the repository's commit graph.
type History interface {
	RepoPath() string

	// RefExists reports whether a fully qualified ref (e.g. refs/heads/main) exists.
	RefExists(ctx context.Context, ref string) (bool, error)
	// Commit resolves any revision expression to a commit. ok is false when the
	// revision does not name a commit.
	Commit(ctx context.Context, rev string) (commit Commit, ok bool, err error)
	HeadState(ctx context.Context) (hash string, branch string, ok bool, err error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	// Log returns the commits in start..HEAD, oldest first. start itself is not
	// included.
	Log(ctx context.Context, start string) ([]Commit, error)
}

// Worktree mutates the checked-out state of the repository.
type Worktree interface {
	HeadState(ctx context.Context) (hash string, branch string, ok bool, err error)
	LocalChangesStatus(ctx context.Context) (LocalChanges, error)

	StashPush(ctx context.Context, message string) error
	StashPop(ctx context.Context, message string) error
	// DiscardChanges resets tracked files to HEAD and removes untracked files.
	// Ignored files are kept.
	DiscardChanges(ctx context.Context) error
	SwitchBranch(ctx context.Context, branch string) error
	SwitchDetach(ctx context.Context, commit string) error
}

// Backend abstracts access to repository data.
//
// The CLI implementation shells out to the git executable for everything. The
// native implementation reads history through go-git and keeps the CLI for
// worktree mutation, which go-git does not support (stash in particular).
type Backend interface {
	History
	Worktree
}

// Open returns the backend selected by kind ("native" or "cli").
func Open(kind string, repoPath string) (Backend, error) {
	switch kind {
	case "", KindNative:
		return OpenNative(repoPath)
	case KindCLI:
		return OpenCLI(repoPath)
	default:
		return nil, &UnknownKindError{Kind: kind}
	}
}

const (
	KindNative = "native"
	KindCLI    = "cli"
)

type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown git backend %q (want %s or %s)", e.Kind, KindNative, KindCLI)
}
