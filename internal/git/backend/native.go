package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// native reads history through go-git. Worktree mutation falls through to the
// embedded CLI backend.
type native struct {
	*gitCLI
	repo *gitlib.Repository
}

func OpenNative(repoPath string) (Backend, error) {
	cli, err := openCLI(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(cli.RepoPath(), &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return &native{gitCLI: cli, repo: repo}, nil
}

func (n *native) RefExists(_ context.Context, ref string) (bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false, fmt.Errorf("ref not specified")
	}
	_, err := n.repo.Reference(plumbing.ReferenceName(ref), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return true, nil
}

func (n *native) Commit(_ context.Context, rev string) (Commit, bool, error) {
	rev = strings.TrimSpace(rev)
	if err := validateRev(rev); err != nil {
		return Commit{}, false, err
	}
	hash, err := n.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		if isNotFound(err) {
			return Commit{}, false, nil
		}
		return Commit{}, false, fmt.Errorf("resolve %s: %w", rev, err)
	}
	c, err := n.repo.CommitObject(*hash)
	if err != nil {
		if isNotFound(err) {
			return Commit{}, false, nil
		}
		return Commit{}, false, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return toCommit(c), true, nil
}

func (n *native) HeadState(_ context.Context) (hash string, branch string, ok bool, err error) {
	ref, err := n.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("resolve HEAD: %w", err)
	}
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return ref.Hash().String(), branch, true, nil
}

func (n *native) IsAncestor(_ context.Context, ancestor, descendant string) (bool, error) {
	a, err := n.commitObject(ancestor)
	if err != nil {
		return false, err
	}
	d, err := n.commitObject(descendant)
	if err != nil {
		return false, err
	}
	if a.Hash == d.Hash {
		return true, nil
	}
	return a.IsAncestor(d)
}

// Log mirrors "git log --reverse start..HEAD": everything reachable from HEAD
// that is not reachable from start, in reverse committer-time order.
func (n *native) Log(ctx context.Context, start string) ([]Commit, error) {
	from, err := n.commitObject(start)
	if err != nil {
		return nil, err
	}
	head, err := n.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	headCommit, err := n.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", head.Hash(), err)
	}

	excluded := map[plumbing.Hash]bool{}
	ancestors := object.NewCommitPreorderIter(from, nil, nil)
	err = ancestors.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		excluded[c.Hash] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk ancestors of %s: %w", start, err)
	}

	iter := object.NewCommitIterCTime(headCommit, excluded, nil)
	defer iter.Close()
	var commits []Commit
	for {
		c, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate commits: %w", err)
		}
		if excluded[c.Hash] {
			continue
		}
		commits = append(commits, toCommit(c))
	}
	slices.Reverse(commits)
	return commits, nil
}

func (n *native) commitObject(rev string) (*object.Commit, error) {
	if err := validateRev(rev); err != nil {
		return nil, err
	}
	hash, err := n.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	c, err := n.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return c, nil
}

func toCommit(c *object.Commit) Commit {
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return Commit{Hash: c.Hash.String(), Subject: strings.TrimSpace(subject)}
}

func isNotFound(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, plumbing.ErrObjectNotFound)
}
