package git

import gitbackend "github.com/thiagokokada/bundle-blame/internal/git/backend"

// GitVersion reports the installed git and whether it is new enough.
func GitVersion() (string, error) {
	return gitbackend.GitVersion()
}

func MinGitVersion() string {
	return gitbackend.MinGitVersion()
}
