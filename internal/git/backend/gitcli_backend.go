package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// fieldSep separates fields in custom --format output; subjects never contain it.
const fieldSep = "\x1f"

func (g *gitCLI) HeadState(ctx context.Context) (hash string, branch string, ok bool, err error) {
	if g == nil || g.path == "" {
		return "", "", false, fmt.Errorf("repository root not set")
	}
	out, err := g.runGitCommand(ctx, []string{"rev-parse", "-q", "--verify", "HEAD"}, true, "git rev-parse")
	if err != nil {
		return "", "", false, err
	}
	hash = strings.TrimSpace(out)
	if hash == "" {
		return "", "", false, nil
	}
	ref, err := g.runGitCommand(ctx, []string{"symbolic-ref", "-q", "--short", "HEAD"}, true, "git symbolic-ref")
	if err != nil {
		return "", "", false, err
	}
	// Empty branch means detached HEAD.
	return hash, strings.TrimSpace(ref), true, nil
}

func (g *gitCLI) RefExists(ctx context.Context, ref string) (bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false, fmt.Errorf("ref not specified")
	}
	return g.gitSucceeds(ctx, []string{"show-ref", "--verify", "--quiet", ref}, "git show-ref")
}

func (g *gitCLI) Commit(ctx context.Context, rev string) (Commit, bool, error) {
	rev = strings.TrimSpace(rev)
	if err := validateRev(rev); err != nil {
		return Commit{}, false, err
	}
	out, err := g.runGitCommand(ctx, []string{"rev-parse", "-q", "--verify", rev + "^{commit}"}, true, "git rev-parse")
	if err != nil {
		return Commit{}, false, err
	}
	hash := strings.TrimSpace(out)
	if hash == "" {
		return Commit{}, false, nil
	}
	out, err = g.runGitCommand(ctx, []string{"show", "-s", "--format=%H%x1f%s", hash}, false, "git show")
	if err != nil {
		return Commit{}, false, err
	}
	commits, err := parseLogRecords(out)
	if err != nil {
		return Commit{}, false, err
	}
	if len(commits) != 1 {
		return Commit{}, false, fmt.Errorf("git show: expected 1 commit for %s, got %d", hash, len(commits))
	}
	return commits[0], true, nil
}

func (g *gitCLI) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	if err := validateRev(ancestor); err != nil {
		return false, err
	}
	if err := validateRev(descendant); err != nil {
		return false, err
	}
	return g.gitSucceeds(ctx, []string{"merge-base", "--is-ancestor", ancestor, descendant}, "git merge-base")
}

func (g *gitCLI) Log(ctx context.Context, start string) ([]Commit, error) {
	if err := validateRev(start); err != nil {
		return nil, err
	}
	out, err := g.runGitCommand(
		ctx,
		[]string{"log", "--reverse", "--no-color", "--format=%H%x1f%s", start + "..HEAD"},
		false,
		"git log",
	)
	if err != nil {
		return nil, err
	}
	return parseLogRecords(out)
}

// parseLogRecords parses "<hash>\x1f<subject>" lines.
func parseLogRecords(out string) ([]Commit, error) {
	var commits []Commit
	for rawLine := range strings.SplitSeq(out, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if line == "" {
			continue
		}
		hash, subject, ok := strings.Cut(line, fieldSep)
		if !ok || !isFullHash(hash) {
			return nil, fmt.Errorf("unexpected git log output line: %q", rawLine)
		}
		commits = append(commits, Commit{Hash: hash, Subject: subject})
	}
	return commits, nil
}

func (g *gitCLI) LocalChangesStatus(ctx context.Context) (LocalChanges, error) {
	var res LocalChanges
	if g == nil || g.path == "" {
		return res, fmt.Errorf("repository root not set")
	}
	out, err := g.runGitCommand(ctx, []string{"status", "--porcelain=v2", "--untracked-files=all"}, false, "git status")
	if err != nil {
		return res, err
	}
	res, err = parseStatusPorcelainV2(strings.NewReader(out))
	if err != nil {
		return res, fmt.Errorf("parse git status: %w", err)
	}
	return res, nil
}

func parseStatusPorcelainV2(r io.Reader) (LocalChanges, error) {
	var res LocalChanges
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case '1', '2', 'u':
			if len(line) < 4 {
				continue
			}
			if line[2] != '.' {
				res.HasStaged = true
			}
			if line[3] != '.' {
				res.HasWorktree = true
			}
		case '?':
			res.HasUntracked = true
		default:
			// '!' ignored and '#' headers
		}
	}
	return res, scanner.Err()
}

func (g *gitCLI) StashPush(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("stash message not specified")
	}
	_, err := g.runGitCommand(
		ctx,
		[]string{"stash", "push", "--include-untracked", "--message", message},
		false,
		"git stash push",
	)
	return err
}

func (g *gitCLI) StashPop(ctx context.Context, message string) error {
	out, err := g.runGitCommand(ctx, []string{"stash", "list", "--format=%gd%x1f%gs"}, false, "git stash list")
	if err != nil {
		return err
	}
	ref, ok := findStash(out, message)
	if !ok {
		return fmt.Errorf("git stash pop: no stash entry with message %q", message)
	}
	_, err = g.runGitCommand(ctx, []string{"stash", "pop", "--index", "--quiet", ref}, false, "git stash pop")
	return err
}

func (g *gitCLI) DiscardChanges(ctx context.Context) error {
	if _, err := g.runGitCommand(ctx, []string{"reset", "--hard", "--quiet"}, false, "git reset"); err != nil {
		return err
	}
	_, err := g.runGitCommand(ctx, []string{"clean", "-d", "--force", "--quiet"}, false, "git clean")
	return err
}

// findStash returns the stash ref (stash@{n}) whose reflog subject carries
// message. "git stash push -m msg" records "On <branch>: msg".
func findStash(list string, message string) (string, bool) {
	if message == "" {
		return "", false
	}
	for rawLine := range strings.SplitSeq(list, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		ref, subject, ok := strings.Cut(line, fieldSep)
		if !ok || ref == "" {
			continue
		}
		if subject == message || strings.HasSuffix(subject, ": "+message) {
			return ref, true
		}
	}
	return "", false
}

func (g *gitCLI) SwitchBranch(ctx context.Context, branch string) error {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return fmt.Errorf("branch not specified")
	}
	if err := validateRev(branch); err != nil {
		return err
	}
	_, err := g.runGitCommand(ctx, []string{"switch", "--quiet", branch}, false, "git switch")
	return err
}

func (g *gitCLI) SwitchDetach(ctx context.Context, commit string) error {
	commit = strings.TrimSpace(commit)
	if err := validateRev(commit); err != nil {
		return err
	}
	_, err := g.runGitCommand(ctx, []string{"switch", "--quiet", "--detach", commit}, false, "git switch")
	return err
}

func validateRev(rev string) error {
	if rev == "" {
		return fmt.Errorf("revision not specified")
	}
	if strings.HasPrefix(rev, "-") {
		return fmt.Errorf("invalid revision %q", rev)
	}
	return nil
}

func isFullHash(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
