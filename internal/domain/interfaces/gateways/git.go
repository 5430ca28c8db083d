// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"os"

	"github.com/ochairo/capn/internal/domain/entities"
)

// GitRepository defines read access to the repository a hook runs in
type GitRepository interface {
	// FindNewCommits walks back from inclusions, hiding everything reachable
	// from exclusions or any mainline ref. Zero ids are ignored. Commits are
	// returned in discovery order and carry the annotated tags that match
	// tagPattern (all tags when empty).
	FindNewCommits(ctx context.Context, exclusions, inclusions []entities.ObjectID, tagPattern string) ([]entities.Commit, error)

	// FindCommit loads a single commit
	FindCommit(ctx context.Context, id entities.ObjectID, tagPattern string) (entities.Commit, error)

	// IsMainline reports whether refName matches a configured mainline
	IsMainline(ctx context.Context, refName string) (bool, error)

	// IsTag reports whether refName names a tag rather than a branch
	IsTag(ctx context.Context, refName string) (bool, error)

	// IsMergeCommit reports whether the commit has more than one parent
	IsMergeCommit(ctx context.Context, id entities.ObjectID) (bool, error)

	// IsDescendantOf reports whether commit strictly descends from ancestor
	IsDescendantOf(ctx context.Context, commit, ancestor entities.ObjectID) (bool, error)

	// IsTrivialMergeCommit reports whether a two-parent commit's tree is what
	// an automatic merge of its parents produces
	IsTrivialMergeCommit(ctx context.Context, commit entities.Commit) (bool, error)

	// VerifyCommitSignature checks the commit carries a valid signature from
	// the key on file for its committer
	VerifyCommitSignature(ctx context.Context, commit entities.Commit, keyring *entities.Keyring) (bool, error)

	// VerifyTagSignature checks the tag carries a valid signature from the
	// key on file for its tagger
	VerifyTagSignature(ctx context.Context, tag entities.Tag, keyring *entities.Keyring) (bool, error)

	// ReadFile reads a file from the worktree, or from HEAD in bare repositories
	ReadFile(ctx context.Context, path string) (string, error)

	// CurrentBranch returns the short name of the checked-out branch
	CurrentBranch(ctx context.Context) (string, error)

	// WriteGitFile writes a file relative to the Git directory
	WriteGitFile(ctx context.Context, path string, mode os.FileMode, contents string) error

	// Close releases run-scoped resources such as the scratch repository
	Close() error
}
