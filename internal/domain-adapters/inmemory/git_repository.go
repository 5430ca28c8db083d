// Package inmemory provides in-memory gateway implementations for tests and
// dry runs of the verification engine.
package inmemory

import (
	"context"
	"crypto/sha1" //nolint:gosec // G505: object ids are SHA-1 by definition
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ochairo/capn/internal/domain-adapters/gateways"
	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

// ID derives a stable object id from a fixture name
func ID(name string) entities.ObjectID {
	return entities.ObjectID(sha1.Sum([]byte(name))) //nolint:gosec // G401: see import
}

// CommitSpec describes a fixture commit
type CommitSpec struct {
	Name           string
	Parents        []string
	AuthorEmail    string
	CommitterEmail string

	Signed        bool // carries a valid signature from the committer's roster key
	IdenticalTree bool // tree equals one of its parents' trees
	TrivialMerge  bool // tree is the clean merge of its two parents
}

type commitRecord struct {
	commit  entities.Commit
	when    time.Time
	signed  bool
	trivial bool
}

type tagRecord struct {
	tag    entities.Tag
	target entities.ObjectID
	signed bool
}

// WrittenFile is a file written below the Git directory
type WrittenFile struct {
	Mode     os.FileMode
	Contents string
}

// GitRepository is an in-memory GitRepository. Commits get increasing
// committer times in the order they are added.
type GitRepository struct {
	mu        sync.Mutex
	commits   map[entities.ObjectID]*commitRecord
	tags      []tagRecord
	branches  map[string]entities.ObjectID
	headRef   string
	mainlines *gateways.MainlineMatcher
	files     map[string]string
	written   map[string]WrittenFile
	sigErrs   map[entities.ObjectID]error
	clock     time.Time
	walk      *gateways.RevisionWalk
	closed    bool

	// TrivialMergeChecks counts IsTrivialMergeCommit calls
	TrivialMergeChecks int
}

// NewGitRepository creates an empty repository with the given mainline patterns
func NewGitRepository(mainlines ...string) (*GitRepository, error) {
	m, err := gateways.NewMainlineMatcher(mainlines)
	if err != nil {
		return nil, err
	}
	r := &GitRepository{
		commits:   make(map[entities.ObjectID]*commitRecord),
		branches:  make(map[string]entities.ObjectID),
		mainlines: m,
		files:     make(map[string]string),
		written:   make(map[string]WrittenFile),
		sigErrs:   make(map[entities.ObjectID]error),
		clock:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	r.walk = gateways.NewRevisionWalk(r.loadHeader, &interfaces.NoOpLogger{})
	return r, nil
}

// AddCommit stores a commit and returns its id. Parents must already exist.
func (r *GitRepository) AddCommit(spec CommitSpec) entities.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ID(spec.Name)
	parents := make([]entities.ObjectID, 0, len(spec.Parents))
	for _, p := range spec.Parents {
		pid := ID(p)
		if _, ok := r.commits[pid]; !ok {
			panic(fmt.Sprintf("inmemory: parent %q of %q not added", p, spec.Name))
		}
		parents = append(parents, pid)
	}

	r.clock = r.clock.Add(time.Minute)
	r.commits[id] = &commitRecord{
		commit: entities.Commit{
			ID:                         id,
			AuthorEmail:                spec.AuthorEmail,
			CommitterEmail:             spec.CommitterEmail,
			IsIdenticalTreeToAnyParent: spec.IdenticalTree,
			IsMergeCommit:              len(parents) > 1,
			Parents:                    parents,
		},
		when:    r.clock,
		signed:  spec.Signed,
		trivial: spec.TrivialMerge,
	}
	return id
}

// AddTag stores an annotated tag pointing at a commit
func (r *GitRepository) AddTag(name string, target entities.ObjectID, taggerEmail string, signed bool) entities.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ID("tag:" + name)
	r.tags = append(r.tags, tagRecord{
		tag:    entities.Tag{ID: id, Name: name, TaggerEmail: taggerEmail},
		target: target,
		signed: signed,
	})
	return id
}

// SetBranch points refs/heads/<name> at a commit
func (r *GitRepository) SetBranch(name string, id entities.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches["refs/heads/"+name] = id
}

// SetHead makes HEAD a symbolic ref to refs/heads/<name>
func (r *GitRepository) SetHead(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headRef = "refs/heads/" + name
}

// SetFile stores a file readable through ReadFile
func (r *GitRepository) SetFile(path, contents string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = contents
}

// FailSignatureCheck makes signature verification of a commit return err
func (r *GitRepository) FailSignatureCheck(id entities.ObjectID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigErrs[id] = err
}

// Written returns a file written with WriteGitFile
func (r *GitRepository) Written(path string) (WrittenFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.written[path]
	return f, ok
}

// Closed reports whether Close was called
func (r *GitRepository) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *GitRepository) loadHeader(_ context.Context, id entities.ObjectID) (gateways.CommitHeader, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.commits[id]
	if !ok {
		return gateways.CommitHeader{}, false, nil
	}
	return gateways.CommitHeader{Parents: rec.commit.Parents, CommitterTime: rec.when}, true, nil
}

// FindNewCommits implements GitRepository
func (r *GitRepository) FindNewCommits(ctx context.Context, exclusions, inclusions []entities.ObjectID, tagPattern string) ([]entities.Commit, error) {
	hide := append([]entities.ObjectID{}, exclusions...)
	r.mu.Lock()
	for ref, id := range r.branches {
		if r.mainlines.Match(ref, r.headRef) {
			hide = append(hide, id)
		}
	}
	r.mu.Unlock()

	ids, err := r.walk.Walk(ctx, hide, inclusions)
	if err != nil {
		return nil, err
	}
	commits := make([]entities.Commit, 0, len(ids))
	for _, id := range ids {
		c, err := r.FindCommit(ctx, id, tagPattern)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// FindCommit implements GitRepository
func (r *GitRepository) FindCommit(_ context.Context, id entities.ObjectID, tagPattern string) (entities.Commit, error) {
	pattern, err := gateways.CompileTagPattern(tagPattern)
	if err != nil {
		return entities.Commit{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.commits[id]
	if !ok {
		return entities.Commit{}, fmt.Errorf("commit %s not found", id)
	}
	c := rec.commit
	c.Tags = nil
	for _, t := range r.tags {
		if t.target == id && (pattern == nil || pattern.Match(t.tag.Name)) {
			c.Tags = append(c.Tags, t.tag)
		}
	}
	return c, nil
}

// IsMainline implements GitRepository
func (r *GitRepository) IsMainline(_ context.Context, refName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mainlines.Match(refName, r.headRef), nil
}

// IsTag implements GitRepository
func (r *GitRepository) IsTag(_ context.Context, refName string) (bool, error) {
	return strings.HasPrefix(refName, "refs/tags/"), nil
}

// IsMergeCommit implements GitRepository
func (r *GitRepository) IsMergeCommit(_ context.Context, id entities.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.commits[id]
	if !ok {
		return false, fmt.Errorf("commit %s not found", id)
	}
	return len(rec.commit.Parents) > 1, nil
}

// IsDescendantOf implements GitRepository
func (r *GitRepository) IsDescendantOf(_ context.Context, commit, ancestor entities.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commits[commit]; !ok {
		return false, fmt.Errorf("commit %s not found", commit)
	}

	seen := map[entities.ObjectID]bool{}
	stack := append([]entities.ObjectID{}, r.commits[commit].commit.Parents...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == ancestor {
			return true, nil
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if rec, ok := r.commits[id]; ok {
			stack = append(stack, rec.commit.Parents...)
		}
	}
	return false, nil
}

// IsTrivialMergeCommit implements GitRepository
func (r *GitRepository) IsTrivialMergeCommit(_ context.Context, commit entities.Commit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TrivialMergeChecks++
	rec, ok := r.commits[commit.ID]
	if !ok || len(rec.commit.Parents) != 2 {
		return false, nil
	}
	return rec.trivial, nil
}

// VerifyCommitSignature implements GitRepository
func (r *GitRepository) VerifyCommitSignature(_ context.Context, commit entities.Commit, keyring *entities.Keyring) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.sigErrs[commit.ID]; ok {
		return false, err
	}
	if commit.CommitterEmail == "" {
		return false, nil
	}
	fp, ok := keyring.Lookup(commit.CommitterEmail)
	if !ok || !fp.PublicKeyIsAvailableLocally {
		return false, nil
	}
	rec, ok := r.commits[commit.ID]
	return ok && rec.signed, nil
}

// VerifyTagSignature implements GitRepository
func (r *GitRepository) VerifyTagSignature(_ context.Context, tag entities.Tag, keyring *entities.Keyring) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tag.TaggerEmail == "" {
		return false, nil
	}
	fp, ok := keyring.Lookup(tag.TaggerEmail)
	if !ok || !fp.PublicKeyIsAvailableLocally {
		return false, nil
	}
	for _, t := range r.tags {
		if t.tag.ID == tag.ID {
			return t.signed, nil
		}
	}
	return false, nil
}

// ReadFile implements GitRepository
func (r *GitRepository) ReadFile(_ context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	contents, ok := r.files[path]
	if !ok {
		return "", fmt.Errorf("failed to read %s: %w", path, os.ErrNotExist)
	}
	return contents, nil
}

// CurrentBranch implements GitRepository
func (r *GitRepository) CurrentBranch(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headRef == "" {
		return "", fmt.Errorf("no branch name found")
	}
	return strings.TrimPrefix(r.headRef, "refs/heads/"), nil
}

// WriteGitFile implements GitRepository
func (r *GitRepository) WriteGitFile(_ context.Context, path string, mode os.FileMode, contents string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written[path] = WrittenFile{Mode: mode, Contents: contents}
	return nil
}

// Close implements GitRepository
func (r *GitRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
