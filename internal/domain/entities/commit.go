// Package entities defines core domain models and data structures.
package entities

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidObjectID is returned when a string is not a full hexadecimal object id
var ErrInvalidObjectID = errors.New("invalid object id")

// ObjectID is the SHA-1 content hash of a Git object
type ObjectID [20]byte

// ZeroID is the all-zero sentinel Git hooks use for a missing side of a ref update
var ZeroID ObjectID

// ParseObjectID parses a 40 character hexadecimal object id
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("%w: %q", ErrInvalidObjectID, s)
	}
	if _, err := hex.Decode(id[:], []byte(strings.ToLower(s))); err != nil {
		return id, fmt.Errorf("%w: %q", ErrInvalidObjectID, s)
	}
	return id, nil
}

// MustParseObjectID parses an object id and panics on malformed input.
// Intended for tests and constants.
func MustParseObjectID(s string) ObjectID {
	id, err := ParseObjectID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the id is the all-zero sentinel
func (id ObjectID) IsZero() bool {
	return id == ZeroID
}

func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the abbreviated form used in log output
func (id ObjectID) Short() string {
	return id.String()[:8]
}

// Commit is the verification view of a Git commit. It is rebuilt on every
// query and never mutated.
type Commit struct {
	ID                         ObjectID
	AuthorEmail                string // empty when the commit has no author email
	CommitterEmail             string // empty when the commit has no committer email
	IsIdenticalTreeToAnyParent bool
	IsMergeCommit              bool
	Tags                       []Tag // annotated tags pointing directly at this commit
	Parents                    []ObjectID
}

// TaggerEmails returns the non-empty tagger emails of the commit's tags
func (c Commit) TaggerEmails() []string {
	emails := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		if t.TaggerEmail != "" {
			emails = append(emails, t.TaggerEmail)
		}
	}
	return emails
}

// Tag represents an annotated tag object
type Tag struct {
	ID          ObjectID
	Name        string
	TaggerEmail string // empty when the tag has no tagger
}
