// Package sandbox runs work against a temporarily mutated working tree and
// always puts the checkout back the way it was found.
//
// Run captures the current branch (or detached commit), stashes uncommitted
// changes when there are any, runs the work, discards whatever the work left in
// the tree, then switches back and reapplies the stash. Restoration happens on every exit path: success, error, panic and
// context cancellation. A failed restoration is reported as *CleanupError and
// never replaces the work's own outcome.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	gitbackend "github.com/thiagokokada/bundle-blame/internal/git/backend"
)

const stashPrefix = "bundle-blame sandbox "

// Workspace is the subset of the git backend the sandbox drives.
type Workspace interface {
	HeadState(ctx context.Context) (hash string, branch string, ok bool, err error)
	LocalChangesStatus(ctx context.Context) (gitbackend.LocalChanges, error)
	StashPush(ctx context.Context, message string) error
	StashPop(ctx context.Context, message string) error
	DiscardChanges(ctx context.Context) error
	SwitchBranch(ctx context.Context, branch string) error
	SwitchDetach(ctx context.Context, commit string) error
}

// State records how to return the checkout to where it started.
type State struct {
	Branch string // empty when detached
	Commit string

	// Stash is the message of the stash entry holding uncommitted changes, or
	// empty when the tree was clean.
	Stash string
}

func (s State) Detached() bool { return s.Branch == "" }

func (s State) String() string {
	where := "branch " + s.Branch
	if s.Detached() {
		where = "detached at " + s.Commit
	}
	if s.Stash != "" {
		return where + " (changes stashed)"
	}
	return where
}

// CleanupError means the sandbox could not restore the original checkout. The
// working tree may need manual recovery; State says what it should be.
type CleanupError struct {
	State State
	Err   error
	// Cause is the error returned by the work itself, if any. It is kept apart
	// from Err and is not part of the unwrap chain.
	Cause error
}

func (e *CleanupError) Error() string {
	msg := fmt.Sprintf("workspace cleanup failed, expected %s: %v", e.State, e.Err)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (after: %v)", e.Cause)
	}
	return msg
}

func (e *CleanupError) Unwrap() error { return e.Err }

type Sandbox struct {
	ws       Workspace
	newToken func() string
}

func New(ws Workspace) *Sandbox {
	return &Sandbox{ws: ws, newToken: uuid.NewString}
}

// Capture records the current checkout without changing anything.
func (s *Sandbox) Capture(ctx context.Context) (State, error) {
	hash, branch, ok, err := s.ws.HeadState(ctx)
	if err != nil {
		return State{}, fmt.Errorf("capture workspace state: %w", err)
	}
	if !ok {
		return State{}, fmt.Errorf("capture workspace state: HEAD has no commits")
	}
	return State{Branch: branch, Commit: hash}, nil
}

// Run executes work with the working tree free to be switched around, then
// restores the captured state. work's error is returned as is; a restoration
// failure is returned as *CleanupError.
func (s *Sandbox) Run(ctx context.Context, work func(ctx context.Context) error) (err error) {
	state, err := s.Capture(ctx)
	if err != nil {
		return err
	}
	changes, err := s.ws.LocalChangesStatus(ctx)
	if err != nil {
		return fmt.Errorf("inspect local changes: %w", err)
	}
	if changes.Dirty() {
		msg := stashPrefix + s.newToken()
		if err := s.ws.StashPush(ctx, msg); err != nil {
			return fmt.Errorf("stash local changes: %w", err)
		}
		state.Stash = msg
	}
	slog.Debug("sandbox entered", slog.String("state", state.String()))

	defer func() {
		r := recover()
		if cleanupErr := s.restore(context.WithoutCancel(ctx), state); cleanupErr != nil {
			slog.Error("sandbox cleanup failed",
				slog.String("state", state.String()),
				slog.Any("error", cleanupErr),
			)
			cause := err
			if r != nil {
				cause = fmt.Errorf("panic: %v", r)
			}
			err = &CleanupError{State: state, Err: cleanupErr, Cause: cause}
			if r != nil {
				panic(fmt.Errorf("%v (cleanup: %w)", r, err))
			}
		}
		if r != nil {
			panic(r)
		}
	}()

	return work(ctx)
}

// restore discards what the work left behind, switches back and then
// reapplies the stash. The user's own changes are stashed at this point, so
// anything in the tree came from the work. A failed switch leaves the stash in
// place: popping it onto the wrong commit would make recovery harder.
func (s *Sandbox) restore(ctx context.Context, state State) error {
	if err := s.discardLeftovers(ctx); err != nil {
		return stranded(state, err)
	}
	var switchErr error
	if state.Detached() {
		switchErr = s.ws.SwitchDetach(ctx, state.Commit)
	} else {
		switchErr = s.ws.SwitchBranch(ctx, state.Branch)
	}
	if switchErr != nil {
		return stranded(state, fmt.Errorf("restore checkout: %w", switchErr))
	}
	if state.Stash == "" {
		slog.Debug("sandbox restored", slog.String("state", state.String()))
		return nil
	}
	if err := s.ws.StashPop(ctx, state.Stash); err != nil {
		return fmt.Errorf("reapply stashed changes %q: %w", state.Stash, err)
	}
	slog.Debug("sandbox restored", slog.String("state", state.String()))
	return nil
}

func (s *Sandbox) discardLeftovers(ctx context.Context) error {
	changes, err := s.ws.LocalChangesStatus(ctx)
	if err != nil {
		return fmt.Errorf("inspect changes left by work: %w", err)
	}
	if !changes.Dirty() {
		return nil
	}
	slog.Warn("discarding changes left in the working tree",
		slog.Bool("tracked", changes.HasWorktree || changes.HasStaged),
		slog.Bool("untracked", changes.HasUntracked),
	)
	if err := s.ws.DiscardChanges(ctx); err != nil {
		return fmt.Errorf("discard changes left by work: %w", err)
	}
	return nil
}

// stranded notes where the user's changes are when restoration stops before
// the stash is reapplied.
func stranded(state State, err error) error {
	if state.Stash == "" {
		return err
	}
	return errors.Join(err, fmt.Errorf("local changes remain stashed as %q", state.Stash))
}
