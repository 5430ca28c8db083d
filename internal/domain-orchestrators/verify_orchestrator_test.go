package orchestrators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/capn/internal/domain-adapters/inmemory"
	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/services"
)

const (
	alice      = "alice@example.com"
	bob        = "bob@example.com"
	rosterFile = "TEAM_FINGERPRINTS"
	roster     = "FPALICE,Alice,alice@example.com\nFPBOB,Bob,bob@example.com\n"
)

type engineFixture struct {
	repo   *inmemory.GitRepository
	keys   *inmemory.KeyServer
	config entities.VerifyGitCommitsConfig
	base   entities.ObjectID
}

// newEngineFixture creates a repository whose main branch, also HEAD, is a
// single signed commit named "base"
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo, err := inmemory.NewGitRepository("main")
	require.NoError(t, err)
	repo.SetHead("main")
	repo.SetFile(rosterFile, roster)

	base := repo.AddCommit(inmemory.CommitSpec{Name: "base", AuthorEmail: alice, CommitterEmail: alice, Signed: true})
	repo.SetBranch("main", base)

	config := entities.DefaultVerifyGitCommitsConfig()
	config.AuthorDomain = "example.com"
	config.CommitterDomain = "example.com"
	config.Keyserver = "hkp://keys.example.com"
	config.TeamFingerprintsFile = rosterFile
	config.VerifyDifferentAuthors = true
	config.VerifyRebased = true
	config.OverrideTagPattern = "capn-override-*"
	config.MaxParallelism = 4

	return &engineFixture{repo: repo, keys: inmemory.NewKeyServer(), config: config, base: base}
}

func (f *engineFixture) engine() *VerifyOrchestrator {
	logger := &interfaces.NoOpLogger{}
	keySvc := services.NewKeyService(f.keys, services.KeyFetchOptions{
		Parallel:       f.config.RecvKeysParallel,
		MaxParallelism: f.config.MaxParallelism,
	}, logger)
	policies := services.NewPolicyService(f.repo, keySvc, services.PolicyOptions{
		MaxParallelism:     f.config.MaxParallelism,
		OverrideTagPattern: f.config.OverrideTagPattern,
	}, logger)
	return NewVerifyOrchestrator(f.repo, policies, f.config, logger)
}

func (f *engineFixture) verify(t *testing.T, update entities.ReferenceUpdate) entities.PolicyResult {
	t.Helper()
	result, err := f.engine().Verify(context.Background(), update)
	require.NoError(t, err)
	return result
}

func signedBy(name, email string, parents ...string) inmemory.CommitSpec {
	return inmemory.CommitSpec{Name: name, Parents: parents, AuthorEmail: email, CommitterEmail: email, Signed: true}
}

func TestVerify_HappyPathNewBranch(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(signedBy("feature-1", alice, "base"))

	assert.Equal(t, entities.Ok(), f.verify(t, entities.NewBranch(c, "refs/heads/feature")))
}

func TestVerify_UnsignedCommitRejected(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(inmemory.CommitSpec{Name: "unsigned", Parents: []string{"base"}, AuthorEmail: alice, CommitterEmail: alice})

	got := f.verify(t, entities.UpdateBranch(f.base, c, "refs/heads/feature"))
	assert.Equal(t, entities.PolicyFailure(entities.UnsignedCommit, c), got)
}

func TestVerify_OverrideTagAccepted(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(inmemory.CommitSpec{Name: "unsigned", Parents: []string{"base"}, AuthorEmail: alice, CommitterEmail: alice})
	f.repo.AddTag("capn-override-alice", c, alice, true)
	f.repo.AddTag("capn-override-bob", c, bob, true)

	assert.Equal(t, entities.Ok(), f.verify(t, entities.UpdateBranch(f.base, c, "refs/heads/feature")))
}

func TestVerify_OverrideExemptsAncestors(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.AddCommit(inmemory.CommitSpec{Name: "bad-email", Parents: []string{"base"}, AuthorEmail: "alice@gmail.com", CommitterEmail: alice})
	tagged := f.repo.AddCommit(inmemory.CommitSpec{Name: "tagged", Parents: []string{"bad-email"}, AuthorEmail: alice, CommitterEmail: alice})
	f.repo.AddTag("capn-override-1", tagged, alice, true)
	f.repo.AddTag("capn-override-2", tagged, bob, true)
	tip := f.repo.AddCommit(signedBy("tip", alice, "tagged"))

	assert.Equal(t, entities.Ok(), f.verify(t, entities.UpdateBranch(f.base, tip, "refs/heads/feature")))
}

func TestVerify_OverrideTagsMustMatchPattern(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(inmemory.CommitSpec{Name: "unsigned", Parents: []string{"base"}, AuthorEmail: alice, CommitterEmail: alice})
	f.repo.AddTag("capn-override-alice", c, alice, true)
	f.repo.AddTag("release-1", c, bob, true)

	got := f.verify(t, entities.UpdateBranch(f.base, c, "refs/heads/feature"))
	assert.Equal(t, entities.PolicyFailure(entities.UnsignedCommit, c), got)
}

func TestVerify_MergeWithoutSecondAuthorRejectedOnMainline(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.AddCommit(signedBy("feature", alice, "base"))
	merge := f.repo.AddCommit(signedBy("merge", alice, "base", "feature"))

	got := f.verify(t, entities.UpdateBranch(f.base, merge, "refs/heads/main"))
	assert.Equal(t, entities.PolicyFailure(entities.NotEnoughAuthors, merge), got)
}

func TestVerify_MergeWithSecondAuthorAccepted(t *testing.T) {
	f := newEngineFixture(t)
	f.repo.AddCommit(signedBy("feature", bob, "base"))
	merge := f.repo.AddCommit(signedBy("merge", alice, "base", "feature"))

	assert.Equal(t, entities.Ok(), f.verify(t, entities.UpdateBranch(f.base, merge, "refs/heads/main")))
}

func TestVerify_InvalidCommitterDomain(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(inmemory.CommitSpec{
		Name: "c", Parents: []string{"base"}, AuthorEmail: alice, CommitterEmail: "alice@contractor.io", Signed: true,
	})

	got := f.verify(t, entities.UpdateBranch(f.base, c, "refs/heads/feature"))
	assert.Equal(t, entities.EmailFailure(entities.InvalidCommitterEmail, c, "alice@contractor.io"), got)
}

func TestVerify_EmailFailureReportedBeforeSignatureFailure(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(inmemory.CommitSpec{Name: "c", Parents: []string{"base"}, AuthorEmail: "mallory@evil.com", CommitterEmail: alice})

	got := f.verify(t, entities.UpdateBranch(f.base, c, "refs/heads/feature"))
	assert.Equal(t, entities.EmailFailure(entities.InvalidAuthorEmail, c, "mallory@evil.com"), got)
}

func TestVerify_ForcePushBypassesRebaseCheck(t *testing.T) {
	f := newEngineFixture(t)
	tip := f.repo.AddCommit(signedBy("main-tip", alice, "base"))
	f.repo.SetBranch("main", tip)
	f.repo.AddCommit(signedBy("feature", bob, "base"))
	f.repo.AddCommit(signedBy("rewritten", alice, "base"))
	merge := f.repo.AddCommit(signedBy("merge", alice, "rewritten", "feature"))

	assert.Equal(t, entities.Ok(), f.verify(t, entities.UpdateBranch(tip, merge, "refs/heads/main")))
}

func TestVerify_StaleMergeRejected(t *testing.T) {
	f := newEngineFixture(t)
	tip := f.repo.AddCommit(signedBy("main-tip", alice, "base"))
	f.repo.SetBranch("main", tip)
	f.repo.AddCommit(signedBy("feature", bob, "base"))
	merge := f.repo.AddCommit(signedBy("merge", alice, "main-tip", "feature"))

	got := f.verify(t, entities.UpdateBranch(tip, merge, "refs/heads/main"))
	assert.Equal(t, entities.PolicyFailure(entities.NotRebased, merge), got)
}

func TestVerify_DeletionShortCircuits(t *testing.T) {
	f := newEngineFixture(t)
	f.config.TeamFingerprintsFile = "does-not-exist"

	assert.Equal(t, entities.Ok(), f.verify(t, entities.DeleteBranch(f.base, "refs/heads/feature")))
	assert.Empty(t, f.keys.Batches())
	assert.Empty(t, f.keys.Received())
}

func TestVerify_TagShortCircuits(t *testing.T) {
	f := newEngineFixture(t)
	f.config.TeamFingerprintsFile = "does-not-exist"
	c := f.repo.AddCommit(inmemory.CommitSpec{Name: "unsigned", Parents: []string{"base"}})

	assert.Equal(t, entities.Ok(), f.verify(t, entities.NewBranch(c, "refs/tags/v1.0.0")))
	assert.Empty(t, f.keys.Received())
}

func TestVerify_MainlineCommitsAreNeverChecked(t *testing.T) {
	f := newEngineFixture(t)
	// an unsigned commit that is already on the mainline
	legacy := f.repo.AddCommit(inmemory.CommitSpec{Name: "legacy", Parents: []string{"base"}, AuthorEmail: "old@elsewhere.org"})
	f.repo.SetBranch("main", legacy)
	c := f.repo.AddCommit(signedBy("feature", alice, "legacy"))

	assert.Equal(t, entities.Ok(), f.verify(t, entities.NewBranch(c, "refs/heads/feature")))
}

func TestVerify_IdenticalTreeNeedsNoSignature(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(inmemory.CommitSpec{
		Name: "empty", Parents: []string{"base"}, AuthorEmail: alice, CommitterEmail: alice, IdenticalTree: true,
	})

	assert.Equal(t, entities.Ok(), f.verify(t, entities.UpdateBranch(f.base, c, "refs/heads/feature")))
}

func TestVerify_Idempotent(t *testing.T) {
	f := newEngineFixture(t)
	c := f.repo.AddCommit(inmemory.CommitSpec{Name: "unsigned", Parents: []string{"base"}, AuthorEmail: alice, CommitterEmail: alice})
	f.repo.AddTag("capn-override-alice", c, alice, true)
	update := entities.UpdateBranch(f.base, c, "refs/heads/feature")

	first := f.verify(t, update)
	second := f.verify(t, update)
	assert.Equal(t, first, second)
}

func TestVerify_MissingRosterIsTechnicalError(t *testing.T) {
	f := newEngineFixture(t)
	f.config.TeamFingerprintsFile = "does-not-exist"
	c := f.repo.AddCommit(signedBy("c", alice, "base"))

	_, err := f.engine().Verify(context.Background(), entities.UpdateBranch(f.base, c, "refs/heads/feature"))
	assert.Error(t, err)
}

func TestVerify_DisabledPoliciesDoNotRun(t *testing.T) {
	f := newEngineFixture(t)
	f.config.VerifyEmailAddresses = false
	f.config.VerifyCommitSignatures = false
	c := f.repo.AddCommit(inmemory.CommitSpec{Name: "c", Parents: []string{"base"}, AuthorEmail: "x@evil.com"})

	assert.Equal(t, entities.Ok(), f.verify(t, entities.UpdateBranch(f.base, c, "refs/heads/feature")))
}
