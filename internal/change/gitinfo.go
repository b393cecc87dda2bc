package change

import (
	git "github.com/go-git/go-git/v5"

	"github.com/ggrep/ggrep/internal/snapshot"
)

// ReadGitInfo inspects root's git state (if any) for a manifest's git
// block: HEAD commit, whether the working tree is dirty, and whether
// untracked files were folded into the change set. A root with no git
// repository (or one go-git cannot open) returns a zero-value GitInfo
// rather than an error - git metadata is descriptive, not required.
func ReadGitInfo(root string, untrackedIncluded bool) snapshot.GitInfo {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return snapshot.GitInfo{}
	}

	info := snapshot.GitInfo{UntrackedIncluded: untrackedIncluded}

	head, err := repo.Head()
	if err == nil {
		info.Head = head.Hash().String()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return info
	}
	status, err := wt.Status()
	if err != nil {
		return info
	}
	info.Dirty = !status.IsClean()
	return info
}
