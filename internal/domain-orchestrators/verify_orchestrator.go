// Package orchestrators coordinates domain services into hook use cases.
package orchestrators

import (
	"context"
	"fmt"
	"time"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/interfaces/gateways"
	"github.com/ochairo/capn/internal/domain/interfaces/services"
)

// VerifyOrchestrator runs the commit verification engine for one reference update
type VerifyOrchestrator struct {
	git      gateways.GitRepository
	policies services.PolicyService
	config   entities.VerifyGitCommitsConfig
	logger   interfaces.Logger
}

// NewVerifyOrchestrator creates a new verification orchestrator
func NewVerifyOrchestrator(
	git gateways.GitRepository,
	policies services.PolicyService,
	config entities.VerifyGitCommitsConfig,
	logger interfaces.Logger,
) *VerifyOrchestrator {
	return &VerifyOrchestrator{
		git:      git,
		policies: policies,
		config:   config,
		logger:   logger,
	}
}

// Verify checks every commit an update introduces against the enabled
// policies. Only the first failure, in policy order, is returned.
func (o *VerifyOrchestrator) Verify(ctx context.Context, update entities.ReferenceUpdate) (entities.PolicyResult, error) {
	o.logger.Info("Executing policy: verify_git_commits", interfaces.F("update", update.String()))
	start := time.Now()
	defer func() {
		o.logger.Info("Policy verify_git_commits completed", interfaces.F("duration_ms", time.Since(start).Milliseconds()))
	}()

	if update.Kind() == entities.ReferenceDelete {
		o.logger.Debug("Delete branch detected, no commits to verify")
		return entities.Ok(), nil
	}
	isTag, err := o.git.IsTag(ctx, update.RefName())
	if err != nil {
		return entities.Ok(), fmt.Errorf("failed to resolve %s: %w", update.RefName(), err)
	}
	if isTag {
		o.logger.Debug("Tag detected, no commits to verify")
		return entities.Ok(), nil
	}

	allCommits, err := o.findNewCommits(ctx, update, nil)
	if err != nil {
		return entities.Ok(), err
	}
	o.logger.Debug("Commits to verify", interfaces.F("count", len(allCommits)))

	roster, err := o.git.ReadFile(ctx, o.config.TeamFingerprintsFile)
	if err != nil {
		return entities.Ok(), fmt.Errorf("failed to read team fingerprints file: %w", err)
	}
	keyring := entities.ParseKeyring(roster)
	o.logger.Debug("Loaded team fingerprints", interfaces.F("entries", keyring.Len()))

	overridden, err := o.policies.FindAndVerifyOverrideTags(ctx, allCommits, o.config.OverrideTagsRequired, keyring)
	if err != nil {
		return entities.Ok(), err
	}
	checkedCommits, err := o.findNewCommits(ctx, update, overridden)
	if err != nil {
		return entities.Ok(), err
	}

	// every enabled policy runs; the fold keeps the first failure
	result := entities.Ok()

	if o.config.VerifyEmailAddresses {
		result = result.And(o.policies.VerifyEmailAddresses(o.config.AuthorDomain, o.config.CommitterDomain, checkedCommits))
	}

	if o.config.VerifyCommitSignatures {
		r, err := o.policies.VerifyCommitSignatures(ctx, checkedCommits, keyring)
		if err != nil {
			return entities.Ok(), err
		}
		result = result.And(r)
	}

	if o.config.VerifyDifferentAuthors {
		r, err := o.policies.VerifyDifferentAuthors(ctx, allCommits, update)
		if err != nil {
			return entities.Ok(), err
		}
		result = result.And(r)
	}

	if o.config.VerifyRebased {
		r, err := o.policies.VerifyRebased(ctx, allCommits, update)
		if err != nil {
			return entities.Ok(), err
		}
		result = result.And(r)
	}

	return result, nil
}

// findNewCommits lists the commits introduced by an update, treating the
// extra ids and the previous tip as already verified
func (o *VerifyOrchestrator) findNewCommits(ctx context.Context, update entities.ReferenceUpdate, verified []entities.ObjectID) ([]entities.Commit, error) {
	exclusions := append([]entities.ObjectID{}, verified...)
	if oldID, ok := update.OldID(); ok {
		exclusions = append(exclusions, oldID)
	}
	var inclusions []entities.ObjectID
	if newID, ok := update.NewID(); ok {
		inclusions = append(inclusions, newID)
	}

	commits, err := o.git.FindNewCommits(ctx, exclusions, inclusions, o.config.OverrideTagPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to find new commits for %s: %w", update.RefName(), err)
	}
	return commits, nil
}
