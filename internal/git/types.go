package git

import "fmt"

// Revision is a commit in the walked range. Identity is the full hash and the
// only key used for lookups; Message is the subject line, for display.
type Revision struct {
	Identity string
	Message  string
}

func (r Revision) Short() string {
	if len(r.Identity) > 7 {
		return r.Identity[:7]
	}
	return r.Identity
}

// RepositoryStateError reports a repository that cannot serve the requested
// range: an unknown start, an unborn HEAD, or a start that HEAD does not descend
// from.
type RepositoryStateError struct {
	Ref    string
	Reason string
	Err    error
}

func (e *RepositoryStateError) Error() string {
	msg := fmt.Sprintf("repository state: %s", e.Reason)
	if e.Ref != "" {
		msg = fmt.Sprintf("repository state: %q %s", e.Ref, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RepositoryStateError) Unwrap() error { return e.Err }
