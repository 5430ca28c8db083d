package gateways

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/gobwas/glob"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/interfaces/gateways"
	"github.com/ochairo/capn/internal/external-adapters/gitcli"
)

// GitRepositoryOptions configures the production repository gateway
type GitRepositoryOptions struct {
	Dir       string   // any directory inside the repository, "" for the process directory
	Mainlines []string // mainline patterns from configuration
	Logger    interfaces.Logger
}

// gitRepository implements GitRepository on the git command line. Object
// reads go through `git cat-file` so quarantined objects of a pre-receive
// hook are visible; go-git only decodes them.
type gitRepository struct {
	runner    *CommandRunner
	objects   *gitcli.ObjectReader
	mainlines *MainlineMatcher
	walk      *RevisionWalk
	scratch   *ScratchRepository
	logger    interfaces.Logger

	dir      string
	gitDir   string
	workTree string // empty for bare repositories
	headRef  string // empty when HEAD is detached or unborn

	commitsMu sync.Mutex
	commits   map[entities.ObjectID]*object.Commit

	tagsMu sync.Mutex
	tags   map[string]map[entities.ObjectID][]entities.Tag
}

// NewGitRepository opens the repository containing opts.Dir
func NewGitRepository(ctx context.Context, opts GitRepositoryOptions) (gateways.GitRepository, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	mainlines, err := NewMainlineMatcher(opts.Mainlines)
	if err != nil {
		return nil, err
	}

	r := &gitRepository{
		runner:    NewCommandRunner(opts.Dir),
		mainlines: mainlines,
		logger:    logger,
		dir:       opts.Dir,
		commits:   make(map[entities.ObjectID]*object.Commit),
		tags:      make(map[string]map[entities.ObjectID][]entities.Tag),
	}

	if r.gitDir, err = r.runner.Output(ctx, "rev-parse", "--absolute-git-dir"); err != nil {
		return nil, fmt.Errorf("failed to find git directory: %w", err)
	}
	bare, err := r.runner.Output(ctx, "rev-parse", "--is-bare-repository")
	if err != nil {
		return nil, fmt.Errorf("failed to inspect repository: %w", err)
	}
	if bare != "true" {
		if r.workTree, err = r.runner.Output(ctx, "rev-parse", "--show-toplevel"); err != nil {
			return nil, fmt.Errorf("failed to find work tree: %w", err)
		}
	}
	if result := r.runner.Run(ctx, CommandConfig{Args: []string{"symbolic-ref", "-q", "HEAD"}}); result.Success {
		r.headRef = strings.TrimSpace(string(result.Stdout))
	}

	if r.objects, err = gitcli.NewObjectReader(opts.Dir); err != nil {
		return nil, err
	}
	r.walk = NewRevisionWalk(r.loadHeader, logger)
	r.scratch = NewScratchRepository(r.runner, r.objectDirs, logger)
	return r, nil
}

// FindNewCommits implements GitRepository
func (r *gitRepository) FindNewCommits(ctx context.Context, exclusions, inclusions []entities.ObjectID, tagPattern string) ([]entities.Commit, error) {
	tips, err := r.mainlineTips(ctx)
	if err != nil {
		return nil, err
	}
	hide := append(append([]entities.ObjectID{}, exclusions...), tips...)

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
		r.logger.Debug("Commit to verify",
			interfaces.F("commit", c.ID.String()),
			interfaces.F("parents", len(c.Parents)),
			interfaces.F("author", c.AuthorEmail),
			interfaces.F("committer", c.CommitterEmail),
			interfaces.F("tags", len(c.Tags)))
		commits = append(commits, c)
	}
	return commits, nil
}

// mainlineTips returns the commits of every existing mainline branch
func (r *gitRepository) mainlineTips(ctx context.Context) ([]entities.ObjectID, error) {
	out, err := r.runner.Output(ctx, "for-each-ref", "--format=%(objectname) %(refname)", headsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}

	var tips []entities.ObjectID
	for _, line := range strings.Split(out, "\n") {
		oid, ref, ok := strings.Cut(line, " ")
		if !ok || !r.mainlines.Match(ref, r.headRef) {
			continue
		}
		id, err := entities.ParseObjectID(oid)
		if err != nil {
			return nil, err
		}
		tips = append(tips, id)
	}

	if r.mainlines.IncludesHead() {
		result := r.runner.Run(ctx, CommandConfig{Args: []string{"rev-parse", "--verify", "-q", "HEAD^{commit}"}})
		if id, err := entities.ParseObjectID(strings.TrimSpace(string(result.Stdout))); result.Success && err == nil {
			tips = append(tips, id)
		} else {
			r.logger.Debug("HEAD does not resolve to a commit, not hiding it")
		}
	}
	return tips, nil
}

func (r *gitRepository) loadCommit(id entities.ObjectID) (*object.Commit, error) {
	r.commitsMu.Lock()
	c, ok := r.commits[id]
	r.commitsMu.Unlock()
	if ok {
		return c, nil
	}

	c, err := r.objects.Commit(id.String())
	if err != nil {
		return nil, err
	}

	r.commitsMu.Lock()
	r.commits[id] = c
	r.commitsMu.Unlock()
	return c, nil
}

func (r *gitRepository) loadHeader(_ context.Context, id entities.ObjectID) (CommitHeader, bool, error) {
	c, err := r.loadCommit(id)
	if errors.Is(err, gitcli.ErrObjectMissing) {
		return CommitHeader{}, false, nil
	}
	if err != nil {
		return CommitHeader{}, false, err
	}
	return CommitHeader{Parents: parentIDs(c), CommitterTime: c.Committer.When}, true, nil
}

func parentIDs(c *object.Commit) []entities.ObjectID {
	ids := make([]entities.ObjectID, 0, len(c.ParentHashes))
	for _, h := range c.ParentHashes {
		ids = append(ids, entities.ObjectID(h))
	}
	return ids
}

// FindCommit implements GitRepository
func (r *gitRepository) FindCommit(ctx context.Context, id entities.ObjectID, tagPattern string) (entities.Commit, error) {
	c, err := r.loadCommit(id)
	if err != nil {
		return entities.Commit{}, fmt.Errorf("failed to load commit %s: %w", id, err)
	}

	identical := false
	for _, parent := range c.ParentHashes {
		p, err := r.loadCommit(entities.ObjectID(parent))
		if errors.Is(err, gitcli.ErrObjectMissing) {
			continue
		}
		if err != nil {
			return entities.Commit{}, fmt.Errorf("failed to load parent %s: %w", parent, err)
		}
		if p.TreeHash == c.TreeHash {
			identical = true
			break
		}
	}

	tags, err := r.tagsFor(ctx, tagPattern)
	if err != nil {
		return entities.Commit{}, err
	}

	return entities.Commit{
		ID:                         id,
		AuthorEmail:                c.Author.Email,
		CommitterEmail:             c.Committer.Email,
		IsIdenticalTreeToAnyParent: identical,
		IsMergeCommit:              len(c.ParentHashes) > 1,
		Tags:                       tags[id],
		Parents:                    parentIDs(c),
	}, nil
}

// tagsFor returns the annotated tags matching pattern, keyed by the commit
// they point at. Results are cached per pattern for the run.
func (r *gitRepository) tagsFor(ctx context.Context, pattern string) (map[entities.ObjectID][]entities.Tag, error) {
	r.tagsMu.Lock()
	defer r.tagsMu.Unlock()
	if tags, ok := r.tags[pattern]; ok {
		return tags, nil
	}

	g, err := CompileTagPattern(pattern)
	if err != nil {
		return nil, err
	}
	tags, err := r.listTags(ctx, g)
	if err != nil {
		return nil, err
	}
	r.tags[pattern] = tags
	return tags, nil
}

func (r *gitRepository) listTags(ctx context.Context, pattern glob.Glob) (map[entities.ObjectID][]entities.Tag, error) {
	out, err := r.runner.Output(ctx, "for-each-ref", "--format=%(objectname) %(objecttype) %(refname)", tagsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	tags := make(map[entities.ObjectID][]entities.Tag)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 || fields[1] != "tag" || !matchTag(pattern, fields[2]) {
			continue
		}
		t, err := r.objects.Tag(fields[0])
		if err != nil {
			return nil, err
		}
		if t.TargetType != plumbing.CommitObject {
			continue
		}
		target := entities.ObjectID(t.Target)
		tags[target] = append(tags[target], entities.Tag{
			ID:          entities.ObjectID(t.Hash),
			Name:        t.Name,
			TaggerEmail: t.Tagger.Email,
		})
	}
	return tags, nil
}

// IsMainline implements GitRepository
func (r *gitRepository) IsMainline(_ context.Context, refName string) (bool, error) {
	return r.mainlines.Match(refName, r.headRef), nil
}

// IsTag implements GitRepository
func (r *gitRepository) IsTag(ctx context.Context, refName string) (bool, error) {
	switch {
	case strings.HasPrefix(refName, tagsPrefix):
		return true, nil
	case strings.HasPrefix(refName, "refs/"):
		return false, nil
	}
	// short names resolve to a branch before a tag, like git does for pushes
	if r.runner.Run(ctx, CommandConfig{Args: []string{"show-ref", "--verify", "-q", headsPrefix + refName}}).Success {
		return false, nil
	}
	return r.runner.Run(ctx, CommandConfig{Args: []string{"show-ref", "--verify", "-q", tagsPrefix + refName}}).Success, nil
}

// IsMergeCommit implements GitRepository
func (r *gitRepository) IsMergeCommit(_ context.Context, id entities.ObjectID) (bool, error) {
	c, err := r.loadCommit(id)
	if err != nil {
		return false, fmt.Errorf("failed to load commit %s: %w", id, err)
	}
	return len(c.ParentHashes) > 1, nil
}

// IsDescendantOf implements GitRepository. A commit is not its own descendant.
func (r *gitRepository) IsDescendantOf(ctx context.Context, commit, ancestor entities.ObjectID) (bool, error) {
	if commit == ancestor {
		return false, nil
	}
	args := []string{"merge-base", "--is-ancestor", ancestor.String(), commit.String()}
	result := r.runner.Run(ctx, CommandConfig{Args: args})
	switch {
	case result.Success:
		return true, nil
	case result.ExitCode == 1:
		return false, nil
	default:
		return false, result.Err(args)
	}
}

// IsTrivialMergeCommit implements GitRepository
func (r *gitRepository) IsTrivialMergeCommit(ctx context.Context, commit entities.Commit) (bool, error) {
	if len(commit.Parents) != 2 {
		return false, nil
	}
	c, err := r.loadCommit(commit.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load commit %s: %w", commit.ID, err)
	}

	tree, clean, err := r.scratch.MergeTree(ctx, commit.ID, commit.Parents[0], commit.Parents[1])
	if err != nil {
		return false, fmt.Errorf("failed to reproduce merge %s: %w", commit.ID, err)
	}
	id := interfaces.F("commit", commit.ID.String())
	if !clean {
		r.logger.Debug("Merge of parents has conflicts", id)
		return false, nil
	}
	trivial := tree == c.TreeHash.String()
	r.logger.Debug("Reproduced merge of parents", id,
		interfaces.F("expected_tree", c.TreeHash.String()), interfaces.F("merged_tree", tree), interfaces.F("trivial", trivial))
	return trivial, nil
}

// objectDirs lists the object directories visible to this process, so the
// scratch repository sees quarantined objects too
func (r *gitRepository) objectDirs(ctx context.Context) ([]string, error) {
	primary, err := r.runner.Output(ctx, "rev-parse", "--path-format=absolute", "--git-path", "objects")
	if err != nil {
		return nil, err
	}

	dirs := []string{primary}
	if d := os.Getenv("GIT_OBJECT_DIRECTORY"); d != "" {
		dirs = append(dirs, r.absolute(d))
	}
	for _, d := range parseAlternates(os.Getenv("GIT_ALTERNATE_OBJECT_DIRECTORIES")) {
		dirs = append(dirs, r.absolute(d))
	}

	seen := make(map[string]bool, len(dirs))
	unique := dirs[:0]
	for _, d := range dirs {
		if !seen[d] {
			seen[d] = true
			unique = append(unique, d)
		}
	}
	return unique, nil
}

func (r *gitRepository) absolute(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if r.dir != "" {
		return filepath.Join(r.dir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// VerifyCommitSignature implements GitRepository
func (r *gitRepository) VerifyCommitSignature(ctx context.Context, commit entities.Commit, keyring *entities.Keyring) (bool, error) {
	id := interfaces.F("commit", commit.ID.String())
	if commit.CommitterEmail == "" {
		r.logger.Debug("Commit does not have a valid committer: no email address", id)
		return false, nil
	}
	fingerprint, ok := keyring.FingerprintFor(commit.CommitterEmail)
	if !ok {
		r.logger.Debug("Did not find GPG key for committer", id, interfaces.F("email", commit.CommitterEmail))
		return false, nil
	}
	return r.verifySignature(ctx, "verify-commit", commit.ID, fingerprint)
}

// VerifyTagSignature implements GitRepository
func (r *gitRepository) VerifyTagSignature(ctx context.Context, tag entities.Tag, keyring *entities.Keyring) (bool, error) {
	name := interfaces.F("tag", tag.Name)
	if tag.TaggerEmail == "" {
		r.logger.Debug("Tag does not have a valid tagger: no email address", name)
		return false, nil
	}
	fingerprint, ok := keyring.FingerprintFor(tag.TaggerEmail)
	if !ok {
		r.logger.Debug("Did not find GPG key for tagger", name, interfaces.F("email", tag.TaggerEmail))
		return false, nil
	}
	return r.verifySignature(ctx, "verify-tag", tag.ID, fingerprint)
}

// verifySignature runs `git <subcommand> --raw` and looks for a VALIDSIG
// status line naming the expected fingerprint. git's exit code is ignored.
func (r *gitRepository) verifySignature(ctx context.Context, subcommand string, id entities.ObjectID, fingerprint string) (bool, error) {
	args := []string{subcommand, "--raw", id.String()}
	result := r.runner.Run(ctx, CommandConfig{Args: args})
	if result.ExitCode == -1 {
		return false, fmt.Errorf("failed to run git %s: %w", subcommand, result.Error)
	}
	r.logger.Debug("Result from git "+subcommand, interfaces.F("object", id.String()), interfaces.F("exit_code", result.ExitCode))

	valid, err := hasValidSignature(result.Stderr, fingerprint)
	if err != nil {
		return false, fmt.Errorf("git %s %s: %w", subcommand, id, err)
	}
	if valid {
		r.logger.Debug("Signed with a valid signature", interfaces.F("object", id.String()))
	} else {
		r.logger.Debug("Not signed with a valid signature", interfaces.F("object", id.String()))
	}
	return valid, nil
}

// hasValidSignature scans GnuPG status output for
//
//	[GNUPG:] VALIDSIG <signing key fpr> <date> ... [<primary key fpr>]
//
// matching fingerprint exactly, either as the signing key or the primary key
// of a signing subkey
func hasValidSignature(status []byte, fingerprint string) (bool, error) {
	if !utf8.Valid(status) {
		return false, errors.New("signature status output is not UTF-8")
	}
	if fingerprint == "" {
		return false, nil
	}
	for _, line := range strings.Split(string(status), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "[GNUPG:]" || fields[1] != "VALIDSIG" {
			continue
		}
		if strings.EqualFold(fields[2], fingerprint) {
			return true, nil
		}
		if len(fields) >= 12 && strings.EqualFold(fields[11], fingerprint) {
			return true, nil
		}
	}
	return false, nil
}

// ReadFile implements GitRepository
func (r *gitRepository) ReadFile(_ context.Context, path string) (string, error) {
	var content []byte
	if r.workTree != "" {
		data, err := os.ReadFile(filepath.Join(r.workTree, path)) //nolint:gosec // G304: path comes from repository configuration
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		content = data
	} else {
		obj, err := r.objects.Read("HEAD:" + path)
		if errors.Is(err, gitcli.ErrObjectMissing) {
			return "", fmt.Errorf("failed to read HEAD:%s: %w", path, os.ErrNotExist)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read HEAD:%s: %w", path, err)
		}
		if obj.Type() != plumbing.BlobObject {
			return "", fmt.Errorf("file path does not refer to a file: %s", path)
		}
		rd, err := obj.Reader()
		if err != nil {
			return "", err
		}
		defer func() { _ = rd.Close() }()
		if content, err = io.ReadAll(rd); err != nil {
			return "", err
		}
	}

	if !utf8.Valid(content) {
		return "", fmt.Errorf("file is not UTF-8 encoded: %s", path)
	}
	return string(content), nil
}

// CurrentBranch implements GitRepository
func (r *gitRepository) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := r.runner.Output(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil || branch == "" {
		return "", errors.New("no branch name found")
	}
	return branch, nil
}

// WriteGitFile implements GitRepository
func (r *gitRepository) WriteGitFile(_ context.Context, path string, mode os.FileMode, contents string) error {
	target := filepath.Join(r.gitDir, path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	if err := os.WriteFile(target, []byte(contents), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	// WriteFile leaves the mode of an existing file alone
	if err := os.Chmod(target, mode); err != nil {
		return fmt.Errorf("failed to set mode of %s: %w", target, err)
	}
	return nil
}

// Close implements GitRepository
func (r *gitRepository) Close() error {
	r.scratch.Close()
	return r.objects.Close()
}
