package backend

type Commit struct {
	Hash    string
	Subject string
}

type LocalChanges struct {
	HasWorktree  bool
	HasStaged    bool
	HasUntracked bool
}

// Dirty reports whether anything would be lost by a checkout.
func (c LocalChanges) Dirty() bool {
	return c.HasWorktree || c.HasStaged || c.HasUntracked
}
