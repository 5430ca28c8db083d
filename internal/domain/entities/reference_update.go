package entities

import (
	"errors"
	"fmt"
)

// ErrInvalidUpdate is returned when both sides of a reference update are the zero id
var ErrInvalidUpdate = errors.New("invalid reference update specification, trying to update from a zero commit to another zero commit")

// ReferenceUpdateKind discriminates the three shapes of a reference update
type ReferenceUpdateKind int

const (
	// ReferenceNew creates a ref (old id is the zero sentinel)
	ReferenceNew ReferenceUpdateKind = iota
	// ReferenceDelete removes a ref (new id is the zero sentinel)
	ReferenceDelete
	// ReferenceUpdated moves an existing ref
	ReferenceUpdated
)

func (k ReferenceUpdateKind) String() string {
	switch k {
	case ReferenceNew:
		return "new"
	case ReferenceDelete:
		return "delete"
	case ReferenceUpdated:
		return "update"
	default:
		return fmt.Sprintf("ReferenceUpdateKind(%d)", int(k))
	}
}

// ReferenceUpdate describes how one named ref moves during a push or receive.
// Values are built with ParseReferenceUpdate or the kind constructors.
type ReferenceUpdate struct {
	kind    ReferenceUpdateKind
	oldID   ObjectID
	newID   ObjectID
	refName string
}

// NewBranch builds a creation update
func NewBranch(newID ObjectID, refName string) ReferenceUpdate {
	return ReferenceUpdate{kind: ReferenceNew, newID: newID, refName: refName}
}

// DeleteBranch builds a deletion update
func DeleteBranch(oldID ObjectID, refName string) ReferenceUpdate {
	return ReferenceUpdate{kind: ReferenceDelete, oldID: oldID, refName: refName}
}

// UpdateBranch builds an update that moves a ref from oldID to newID
func UpdateBranch(oldID, newID ObjectID, refName string) ReferenceUpdate {
	return ReferenceUpdate{kind: ReferenceUpdated, oldID: oldID, newID: newID, refName: refName}
}

// ParseReferenceUpdate classifies the (old, new, ref) triple Git passes to hooks
func ParseReferenceUpdate(oldID, newID, refName string) (ReferenceUpdate, error) {
	oldOID, err := ParseObjectID(oldID)
	if err != nil {
		return ReferenceUpdate{}, fmt.Errorf("parsing old commit id: %w", err)
	}
	newOID, err := ParseObjectID(newID)
	if err != nil {
		return ReferenceUpdate{}, fmt.Errorf("parsing new commit id: %w", err)
	}

	switch {
	case oldOID.IsZero() && newOID.IsZero():
		return ReferenceUpdate{}, ErrInvalidUpdate
	case oldOID.IsZero():
		return NewBranch(newOID, refName), nil
	case newOID.IsZero():
		return DeleteBranch(oldOID, refName), nil
	default:
		return UpdateBranch(oldOID, newOID, refName), nil
	}
}

// Kind returns which variant the update is
func (u ReferenceUpdate) Kind() ReferenceUpdateKind {
	return u.kind
}

// OldID returns the previous tip, absent for new refs
func (u ReferenceUpdate) OldID() (ObjectID, bool) {
	if u.kind == ReferenceNew {
		return ZeroID, false
	}
	return u.oldID, true
}

// NewID returns the new tip, absent for deleted refs
func (u ReferenceUpdate) NewID() (ObjectID, bool) {
	if u.kind == ReferenceDelete {
		return ZeroID, false
	}
	return u.newID, true
}

// RefName returns the name of the ref being moved
func (u ReferenceUpdate) RefName() string {
	return u.refName
}

func (u ReferenceUpdate) String() string {
	oldID, _ := u.OldID()
	newID, _ := u.NewID()
	return fmt.Sprintf("%s %s..%s %s", u.kind, oldID, newID, u.refName)
}
