package entities

import (
	"bytes"
	"fmt"
	"strings"
)

// PolicyResultKind enumerates the outcomes of a policy check. The declaration
// order is the total ordering used for deterministic reporting.
type PolicyResultKind int

const (
	PolicyOK PolicyResultKind = iota
	UnsignedCommit
	UnsignedMergeCommit
	NotEnoughAuthors
	InvalidAuthorEmail
	MissingAuthorEmail
	InvalidCommitterEmail
	MissingCommitterEmail
	NotRebased
)

func (k PolicyResultKind) String() string {
	switch k {
	case PolicyOK:
		return "Ok"
	case UnsignedCommit:
		return "UnsignedCommit"
	case UnsignedMergeCommit:
		return "UnsignedMergeCommit"
	case NotEnoughAuthors:
		return "NotEnoughAuthors"
	case InvalidAuthorEmail:
		return "InvalidAuthorEmail"
	case MissingAuthorEmail:
		return "MissingAuthorEmail"
	case InvalidCommitterEmail:
		return "InvalidCommitterEmail"
	case MissingCommitterEmail:
		return "MissingCommitterEmail"
	case NotRebased:
		return "NotRebased"
	default:
		return fmt.Sprintf("PolicyResultKind(%d)", int(k))
	}
}

// PolicyResult is either Ok or exactly one failure carrying the offending
// commit and, for email failures, the rejected address.
type PolicyResult struct {
	Kind     PolicyResultKind
	CommitID ObjectID
	Email    string
}

// Ok is the passing result
func Ok() PolicyResult {
	return PolicyResult{Kind: PolicyOK}
}

// PolicyFailure builds a failure of the given kind for a commit
func PolicyFailure(kind PolicyResultKind, id ObjectID) PolicyResult {
	return PolicyResult{Kind: kind, CommitID: id}
}

// EmailFailure builds an InvalidAuthorEmail or InvalidCommitterEmail result
func EmailFailure(kind PolicyResultKind, id ObjectID, email string) PolicyResult {
	return PolicyResult{Kind: kind, CommitID: id, Email: email}
}

// IsOK reports whether the result is the passing state
func (r PolicyResult) IsOK() bool {
	return r.Kind == PolicyOK
}

// IsErr reports whether the result is a failure
func (r PolicyResult) IsErr() bool {
	return !r.IsOK()
}

// And keeps the receiver if it is a failure, otherwise returns next
func (r PolicyResult) And(next PolicyResult) PolicyResult {
	if r.IsOK() {
		return next
	}
	return r
}

// AndThen evaluates next only when the receiver is Ok
func (r PolicyResult) AndThen(next func() (PolicyResult, error)) (PolicyResult, error) {
	if r.IsOK() {
		return next()
	}
	return r, nil
}

// FoldPolicyResults reduces results in order to the first failure, or Ok
func FoldPolicyResults(results ...PolicyResult) PolicyResult {
	for _, r := range results {
		if r.IsErr() {
			return r
		}
	}
	return Ok()
}

// ComparePolicyResults orders results by kind, then commit id, then email
func ComparePolicyResults(a, b PolicyResult) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(a.CommitID[:], b.CommitID[:]); c != 0 {
		return c
	}
	return strings.Compare(a.Email, b.Email)
}

func (r PolicyResult) String() string {
	switch r.Kind {
	case PolicyOK:
		return "Ok"
	case UnsignedCommit:
		return fmt.Sprintf("Commit does not have a valid GPG signature: %s", r.CommitID)
	case UnsignedMergeCommit:
		return fmt.Sprintf("Commit does not have a valid GPG signature: %s. This is a merge commit, please note that if there were conflicts that needed to be resolved then the commit needs a signature.", r.CommitID)
	case NotEnoughAuthors:
		return fmt.Sprintf("Merge commit needs to have multiple authors in the branch: %s", r.CommitID)
	case InvalidAuthorEmail:
		return fmt.Sprintf("Commit has an invalid author email (%s): %s", r.Email, r.CommitID)
	case MissingAuthorEmail:
		return fmt.Sprintf("Commit does not have an author email: %s", r.CommitID)
	case InvalidCommitterEmail:
		return fmt.Sprintf("Commit has an invalid committer email (%s): %s", r.Email, r.CommitID)
	case MissingCommitterEmail:
		return fmt.Sprintf("Commit does not have a committer email: %s", r.CommitID)
	case NotRebased:
		return fmt.Sprintf("Merge commit needs to be rebased on the mainline before it can be merged: %s", r.CommitID)
	default:
		return r.Kind.String()
	}
}
