package git

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gitbackend "github.com/thiagokokada/bundle-blame/internal/git/backend"
)

// Primary branches probed by DefaultBaseline, in order. The last one is
// returned without probing.
var primaryBranches = []string{"main", "master"}

type Service struct {
	backend gitbackend.Backend
}

// Open opens the repository containing repoPath with the given backend kind
// ("native" or "cli").
func Open(kind, repoPath string) (*Service, error) {
	b, err := gitbackend.Open(kind, repoPath)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(b), nil
}

func NewWithBackend(b gitbackend.Backend) *Service {
	return &Service{backend: b}
}

func (s *Service) RepoPath() string {
	if s.backend == nil {
		return ""
	}
	return s.backend.RepoPath()
}

// Worktree exposes the checkout-mutating half of the backend for the sandbox.
func (s *Service) Worktree() gitbackend.Worktree {
	return s.backend
}

// DefaultBaseline returns the repository's primary line: main when it exists,
// master otherwise.
func (s *Service) DefaultBaseline(ctx context.Context) (string, error) {
	if s.backend == nil {
		return "", fmt.Errorf("repository not initialized")
	}
	for _, name := range primaryBranches[:len(primaryBranches)-1] {
		ok, err := s.backend.RefExists(ctx, "refs/heads/"+name)
		if err != nil {
			return "", fmt.Errorf("look up branch %s: %w", name, err)
		}
		if ok {
			return name, nil
		}
	}
	fallback := primaryBranches[len(primaryBranches)-1]
	slog.Debug("default baseline fallback", slog.String("branch", fallback))
	return fallback, nil
}

// Revisions returns every revision from start to HEAD, both included, oldest
// first.
func (s *Service) Revisions(ctx context.Context, start string) ([]Revision, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	start = strings.TrimSpace(start)
	if start == "" {
		return nil, &RepositoryStateError{Reason: "start revision not specified"}
	}
	first, ok, err := s.backend.Commit(ctx, start)
	if err != nil {
		return nil, &RepositoryStateError{Ref: start, Reason: "cannot be resolved", Err: err}
	}
	if !ok {
		return nil, &RepositoryStateError{Ref: start, Reason: "does not name a commit"}
	}
	head, _, ok, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	if !ok {
		return nil, &RepositoryStateError{Ref: "HEAD", Reason: "has no commits"}
	}
	isAncestor, err := s.backend.IsAncestor(ctx, first.Hash, head)
	if err != nil {
		return nil, fmt.Errorf("check ancestry of %s: %w", start, err)
	}
	if !isAncestor {
		return nil, &RepositoryStateError{Ref: start, Reason: "is not an ancestor of HEAD"}
	}

	rest, err := s.backend.Log(ctx, first.Hash)
	if err != nil {
		return nil, fmt.Errorf("list revisions %s..HEAD: %w", start, err)
	}
	revisions := make([]Revision, 0, len(rest)+1)
	revisions = append(revisions, toRevision(first))
	for _, c := range rest {
		revisions = append(revisions, toRevision(c))
	}
	slog.Debug("revisions listed",
		slog.String("start", start),
		slog.String("head", head),
		slog.Int("count", len(revisions)),
	)
	return revisions, nil
}

// Checkout detaches the working tree at identity.
func (s *Service) Checkout(ctx context.Context, identity string) error {
	if s.backend == nil {
		return fmt.Errorf("repository not initialized")
	}
	if err := s.backend.SwitchDetach(ctx, identity); err != nil {
		return fmt.Errorf("check out %s: %w", identity, err)
	}
	return nil
}

func toRevision(c gitbackend.Commit) Revision {
	return Revision{Identity: c.Hash, Message: c.Subject}
}
