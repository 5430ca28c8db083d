package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/interfaces/gateways"
	"github.com/ochairo/capn/internal/domain/interfaces/services"
)

// PolicyOptions configures the policy service
type PolicyOptions struct {
	MaxParallelism     int    // concurrent signature verifications
	OverrideTagPattern string // tag filter used when reloading a commit
}

// policyService implements PolicyService with pure business logic
type policyService struct {
	git    gateways.GitRepository
	keys   services.KeyService
	opts   PolicyOptions
	logger interfaces.Logger
}

// NewPolicyService creates a new policy service with dependency injection
func NewPolicyService(git gateways.GitRepository, keys services.KeyService, opts PolicyOptions, logger interfaces.Logger) services.PolicyService {
	if opts.MaxParallelism < 1 {
		opts.MaxParallelism = 1
	}
	return &policyService{git: git, keys: keys, opts: opts, logger: logger}
}

// FindAndVerifyOverrideTags implements PolicyService
func (s *policyService) FindAndVerifyOverrideTags(ctx context.Context, commits []entities.Commit, required uint8, keyring *entities.Keyring) ([]entities.ObjectID, error) {
	var candidates []entities.Commit
	var taggers []string
	for _, c := range commits {
		if len(c.Tags) >= int(required) {
			candidates = append(candidates, c)
			taggers = append(taggers, c.TaggerEmails()...)
		}
	}

	if err := s.keys.FetchMissingKeys(ctx, keyring, taggers); err != nil {
		return nil, fmt.Errorf("failed to fetch tagger keys: %w", err)
	}

	var verified []entities.ObjectID
	for _, c := range candidates {
		seen := make(map[string]struct{})
		for _, tag := range c.Tags {
			if tag.TaggerEmail == "" || !s.verifyTagLoggingErrors(ctx, tag, keyring) {
				continue
			}
			seen[tag.TaggerEmail] = struct{}{}
		}

		if len(seen) >= int(required) {
			s.logger.Info("Override tags found, this commit and its ancestors do not require validation",
				interfaces.F("commit", c.ID.String()),
				interfaces.F("taggers", sortedKeys(seen)))
			verified = append(verified, c.ID)
		}
	}
	return verified, nil
}

func (s *policyService) verifyTagLoggingErrors(ctx context.Context, tag entities.Tag, keyring *entities.Keyring) bool {
	ok, err := s.git.VerifyTagSignature(ctx, tag, keyring)
	if err != nil {
		s.logger.Error("Technical error occurred while trying to validate tag",
			interfaces.F("tag", tag.Name), interfaces.F("error", err))
		return false
	}
	return ok
}

// VerifyEmailAddresses implements PolicyService
func (s *policyService) VerifyEmailAddresses(authorDomain, committerDomain string, commits []entities.Commit) entities.PolicyResult {
	results := make([]entities.PolicyResult, 0, len(commits))
	for _, c := range commits {
		results = append(results, s.verifyEmailAddress(authorDomain, committerDomain, c))
	}
	return entities.FoldPolicyResults(results...)
}

func (s *policyService) verifyEmailAddress(authorDomain, committerDomain string, c entities.Commit) entities.PolicyResult {
	id := interfaces.F("commit", c.ID.String())
	switch {
	case c.AuthorEmail == "":
		s.logger.Error("Email address verification failed: missing author email", id)
		return entities.PolicyFailure(entities.MissingAuthorEmail, c.ID)
	case c.CommitterEmail == "":
		s.logger.Error("Email address verification failed: missing committer email", id)
		return entities.PolicyFailure(entities.MissingCommitterEmail, c.ID)
	case !strings.HasSuffix(c.AuthorEmail, "@"+authorDomain):
		s.logger.Error("Email address verification failed: invalid author email", id, interfaces.F("email", c.AuthorEmail))
		return entities.EmailFailure(entities.InvalidAuthorEmail, c.ID, c.AuthorEmail)
	case !strings.HasSuffix(c.CommitterEmail, "@"+committerDomain):
		s.logger.Error("Email address verification failed: invalid committer email", id, interfaces.F("email", c.CommitterEmail))
		return entities.EmailFailure(entities.InvalidCommitterEmail, c.ID, c.CommitterEmail)
	default:
		s.logger.Info("Email address verification passed", id)
		return entities.Ok()
	}
}

// VerifyCommitSignatures implements PolicyService
func (s *policyService) VerifyCommitSignatures(ctx context.Context, commits []entities.Commit, keyring *entities.Keyring) (entities.PolicyResult, error) {
	committers := make([]string, 0, len(commits))
	for _, c := range commits {
		if c.CommitterEmail != "" {
			committers = append(committers, c.CommitterEmail)
		}
	}
	if err := s.keys.FetchMissingKeys(ctx, keyring, committers); err != nil {
		return entities.Ok(), fmt.Errorf("failed to fetch committer keys: %w", err)
	}

	signed, err := s.verifySignaturesParallel(ctx, commits, keyring)
	if err != nil {
		return entities.Ok(), err
	}

	results := make([]entities.PolicyResult, 0, len(commits))
	for i, c := range commits {
		id := interfaces.F("commit", c.ID.String())

		if c.IsIdenticalTreeToAnyParent {
			s.logger.Info("Signature verification passed: identical to one of its parents, no signature required", id)
			results = append(results, entities.Ok())
			continue
		}
		if signed[i] {
			s.logger.Info("Signature verification passed: verified with a valid signature", id)
			results = append(results, entities.Ok())
			continue
		}

		trivial, err := s.git.IsTrivialMergeCommit(ctx, c)
		if err != nil {
			return entities.Ok(), fmt.Errorf("failed to check merge %s: %w", c.ID, err)
		}
		if trivial {
			s.logger.Info("Signature verification passed: trivial merge of its parents, no signature required", id)
			results = append(results, entities.Ok())
			continue
		}

		s.logger.Error("Signature verification failed", id)
		if c.IsMergeCommit {
			results = append(results, entities.PolicyFailure(entities.UnsignedMergeCommit, c.ID))
		} else {
			results = append(results, entities.PolicyFailure(entities.UnsignedCommit, c.ID))
		}
	}
	return entities.FoldPolicyResults(results...), nil
}

// verifySignaturesParallel returns one flag per commit, indexed like commits
func (s *policyService) verifySignaturesParallel(ctx context.Context, commits []entities.Commit, keyring *entities.Keyring) ([]bool, error) {
	signed := make([]bool, len(commits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallelism)
	for i, c := range commits {
		if c.IsIdenticalTreeToAnyParent {
			continue
		}
		g.Go(func() error {
			ok, err := s.git.VerifyCommitSignature(gctx, c, keyring)
			if err != nil {
				s.logger.Error("Technical error occurred while trying to validate commit signature",
					interfaces.F("commit", c.ID.String()), interfaces.F("error", err))
				return fmt.Errorf("failed to verify signature of %s: %w", c.ID, err)
			}
			signed[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return signed, nil
}

// VerifyDifferentAuthors implements PolicyService
func (s *policyService) VerifyDifferentAuthors(ctx context.Context, commits []entities.Commit, update entities.ReferenceUpdate) (entities.PolicyResult, error) {
	switch update.Kind() {
	case entities.ReferenceDelete:
		s.logger.Info("Multiple author verification passed: no checks required for deleting a branch")
		return entities.Ok(), nil
	case entities.ReferenceNew:
		newID, _ := update.NewID()
		s.logger.Info("Multiple author verification passed: new branch does not require multiple authors for a merge commit",
			interfaces.F("commit", newID.String()))
		return entities.Ok(), nil
	}

	newID, _ := update.NewID()
	id := interfaces.F("commit", newID.String())

	gate, err := s.mainlineMerge(ctx, update)
	if err != nil {
		return entities.Ok(), err
	}
	if gate != "" {
		s.logger.Info("Multiple author verification passed: "+gate+", does not require multiple authors", id)
		return entities.Ok(), nil
	}

	if len(commits) == 0 {
		s.logger.Info("Multiple author verification passed: no new commits pushed", id)
		return entities.Ok(), nil
	}
	if len(commits) == 1 {
		if commits[0].IsIdenticalTreeToAnyParent {
			s.logger.Info("Multiple author verification passed: only commit has an identical tree to one of its parents", id)
			return entities.Ok(), nil
		}
		trivial, err := s.git.IsTrivialMergeCommit(ctx, commits[0])
		if err != nil {
			return entities.Ok(), fmt.Errorf("failed to check merge %s: %w", commits[0].ID, err)
		}
		if trivial {
			s.logger.Info("Multiple author verification passed: only commit is a trivial merge between mainline branches", id)
			return entities.Ok(), nil
		}
	}

	authors := make(map[string]struct{})
	for _, c := range commits {
		for _, email := range c.TaggerEmails() {
			authors[email] = struct{}{}
		}
		if c.AuthorEmail != "" {
			authors[c.AuthorEmail] = struct{}{}
		}
	}

	found := interfaces.F("authors", sortedKeys(authors))
	if len(authors) <= 1 {
		s.logger.Error("Multiple author verification failed: requires multiple authors", id, found)
		return entities.PolicyFailure(entities.NotEnoughAuthors, newID), nil
	}
	s.logger.Info("Multiple author verification passed: found multiple authors", id, found)
	return entities.Ok(), nil
}

// VerifyRebased implements PolicyService
func (s *policyService) VerifyRebased(ctx context.Context, commits []entities.Commit, update entities.ReferenceUpdate) (entities.PolicyResult, error) {
	switch update.Kind() {
	case entities.ReferenceDelete:
		s.logger.Info("Rebase verification passed: no checks required for deleting a branch")
		return entities.Ok(), nil
	case entities.ReferenceNew:
		newID, _ := update.NewID()
		s.logger.Info("Rebase verification passed: new branch does not require being rebased for a merge commit",
			interfaces.F("commit", newID.String()))
		return entities.Ok(), nil
	}

	oldID, _ := update.OldID()
	newID, _ := update.NewID()
	id := interfaces.F("commit", newID.String())

	gate, err := s.mainlineMerge(ctx, update)
	if err != nil {
		return entities.Ok(), err
	}
	if gate != "" {
		s.logger.Info("Rebase verification passed: "+gate, id)
		return entities.Ok(), nil
	}

	if len(commits) == 0 {
		s.logger.Info("Rebase verification passed: no new commits pushed", id)
		return entities.Ok(), nil
	}

	descends, err := s.git.IsDescendantOf(ctx, newID, oldID)
	if err != nil {
		return entities.Ok(), fmt.Errorf("failed to check ancestry of %s: %w", newID, err)
	}
	if !descends {
		s.logger.Info("Rebase verification passed: not a descendant of the previous tip, most likely a force-push",
			id, interfaces.F("old_commit", oldID.String()))
		return entities.Ok(), nil
	}

	merge, err := s.git.FindCommit(ctx, newID, s.opts.OverrideTagPattern)
	if err != nil {
		return entities.Ok(), fmt.Errorf("failed to load commit %s: %w", newID, err)
	}
	for _, parent := range merge.Parents {
		if parent == oldID {
			continue
		}
		ok, err := s.git.IsDescendantOf(ctx, parent, oldID)
		if err != nil {
			return entities.Ok(), fmt.Errorf("failed to check ancestry of %s: %w", parent, err)
		}
		if !ok {
			s.logger.Error("Rebase verification failed: branch must be rebased before it can be merged into the mainline",
				id, interfaces.F("parent", parent.String()))
			return entities.PolicyFailure(entities.NotRebased, newID), nil
		}
	}

	s.logger.Info("Rebase verification passed: branch is up to date with the mainline it is being merged into", id)
	return entities.Ok(), nil
}

// mainlineMerge returns why an update is exempt from merge policies, or ""
// when the update moves a mainline to a merge commit
func (s *policyService) mainlineMerge(ctx context.Context, update entities.ReferenceUpdate) (string, error) {
	newID, _ := update.NewID()

	mainline, err := s.git.IsMainline(ctx, update.RefName())
	if err != nil {
		return "", fmt.Errorf("failed to match mainlines against %s: %w", update.RefName(), err)
	}
	if !mainline {
		return "not updating a mainline branch", nil
	}

	merge, err := s.git.IsMergeCommit(ctx, newID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect commit %s: %w", newID, err)
	}
	if !merge {
		return "not a merge commit", nil
	}
	return "", nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
