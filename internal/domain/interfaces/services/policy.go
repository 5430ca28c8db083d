// Package services defines interfaces for domain service contracts.
package services

import (
	"context"

	"github.com/ochairo/capn/internal/domain/entities"
)

// PolicyService defines the individual commit policies
type PolicyService interface {
	// FindAndVerifyOverrideTags returns the commits carrying enough validly
	// signed override tags from distinct taggers
	FindAndVerifyOverrideTags(ctx context.Context, commits []entities.Commit, required uint8, keyring *entities.Keyring) ([]entities.ObjectID, error)

	// Policies, each folding to the first failure over the commit list
	VerifyEmailAddresses(authorDomain, committerDomain string, commits []entities.Commit) entities.PolicyResult
	VerifyCommitSignatures(ctx context.Context, commits []entities.Commit, keyring *entities.Keyring) (entities.PolicyResult, error)
	VerifyDifferentAuthors(ctx context.Context, commits []entities.Commit, update entities.ReferenceUpdate) (entities.PolicyResult, error)
	VerifyRebased(ctx context.Context, commits []entities.Commit, update entities.ReferenceUpdate) (entities.PolicyResult, error)
}

// KeyService defines public key availability for a run
type KeyService interface {
	// FetchMissingKeys fetches the keys of roster emails not yet available
	// locally and, on success only, marks every requested email available
	FetchMissingKeys(ctx context.Context, keyring *entities.Keyring, emails []string) error
}
