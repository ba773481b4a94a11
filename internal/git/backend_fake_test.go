package git

import (
	"context"
	"errors"

	gitbackend "github.com/thiagokokada/bundle-blame/internal/git/backend"
)

type fakeBackend struct {
	repoPath string

	refExistsFunc    func(ref string) (bool, error)
	commitFunc       func(rev string) (gitbackend.Commit, bool, error)
	headStateFunc    func() (hash string, branch string, ok bool, err error)
	isAncestorFunc   func(ancestor, descendant string) (bool, error)
	logFunc          func(start string) ([]gitbackend.Commit, error)
	switchDetachFunc func(commit string) error

	refsQueried      []string
	lastLogStart     string
	lastSwitchDetach string
}

func (f *fakeBackend) RepoPath() string { return f.repoPath }

func (f *fakeBackend) RefExists(_ context.Context, ref string) (bool, error) {
	f.refsQueried = append(f.refsQueried, ref)
	if f.refExistsFunc != nil {
		return f.refExistsFunc(ref)
	}
	return false, errors.New("unexpected RefExists call")
}

func (f *fakeBackend) Commit(_ context.Context, rev string) (gitbackend.Commit, bool, error) {
	if f.commitFunc != nil {
		return f.commitFunc(rev)
	}
	return gitbackend.Commit{}, false, errors.New("unexpected Commit call")
}

func (f *fakeBackend) HeadState(context.Context) (string, string, bool, error) {
	if f.headStateFunc != nil {
		return f.headStateFunc()
	}
	return "", "", false, errors.New("unexpected HeadState call")
}

func (f *fakeBackend) IsAncestor(_ context.Context, ancestor, descendant string) (bool, error) {
	if f.isAncestorFunc != nil {
		return f.isAncestorFunc(ancestor, descendant)
	}
	return false, errors.New("unexpected IsAncestor call")
}

func (f *fakeBackend) Log(_ context.Context, start string) ([]gitbackend.Commit, error) {
	f.lastLogStart = start
	if f.logFunc != nil {
		return f.logFunc(start)
	}
	return nil, errors.New("unexpected Log call")
}

func (f *fakeBackend) LocalChangesStatus(context.Context) (gitbackend.LocalChanges, error) {
	return gitbackend.LocalChanges{}, errors.New("unexpected LocalChangesStatus call")
}

func (f *fakeBackend) StashPush(context.Context, string) error {
	return errors.New("unexpected StashPush call")
}

func (f *fakeBackend) StashPop(context.Context, string) error {
	return errors.New("unexpected StashPop call")
}

func (f *fakeBackend) DiscardChanges(context.Context) error {
	return errors.New("unexpected DiscardChanges call")
}

func (f *fakeBackend) SwitchBranch(context.Context, string) error {
	return errors.New("unexpected SwitchBranch call")
}

func (f *fakeBackend) SwitchDetach(_ context.Context, commit string) error {
	f.lastSwitchDetach = commit
	if f.switchDetachFunc != nil {
		return f.switchDetachFunc(commit)
	}
	return errors.New("unexpected SwitchDetach call")
}
