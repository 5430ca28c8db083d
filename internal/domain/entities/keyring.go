package entities

import (
	"strings"
	"unicode"
)

// Fingerprint is a roster entry tying a team member's email to their key
type Fingerprint struct {
	ID                          string
	Name                        string
	Email                       string
	PublicKeyIsAvailableLocally bool
}

// Keyring maps emails to roster fingerprints for one run.
//
// Availability flags are written only by the key fetch phase, which always
// completes before signature checks read them, so no locking is done here.
type Keyring struct {
	fingerprints map[string]*Fingerprint
}

// ParseKeyring loads a roster of "fingerprint,name,email" lines. Lines that do
// not split into exactly three fields or carry no fingerprint are dropped,
// whitespace inside the fingerprint is removed, and the last entry for an
// email wins.
func ParseKeyring(roster string) *Keyring {
	k := &Keyring{fingerprints: make(map[string]*Fingerprint)}
	for _, line := range strings.Split(roster, "\n") {
		fields := strings.Split(strings.TrimSuffix(line, "\r"), ",")
		if len(fields) != 3 {
			continue
		}
		id := stripWhitespace(fields[0])
		if id == "" {
			continue
		}
		k.fingerprints[fields[2]] = &Fingerprint{
			ID:    id,
			Name:  fields[1],
			Email: fields[2],
		}
	}
	return k
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Len returns the number of roster entries
func (k *Keyring) Len() int {
	return len(k.fingerprints)
}

// Lookup returns the roster entry for an email
func (k *Keyring) Lookup(email string) (Fingerprint, bool) {
	f, ok := k.fingerprints[email]
	if !ok {
		return Fingerprint{}, false
	}
	return *f, true
}

// FingerprintFor returns the key fingerprint on file for an email
func (k *Keyring) FingerprintFor(email string) (string, bool) {
	f, ok := k.fingerprints[email]
	if !ok {
		return "", false
	}
	return f.ID, true
}

// RequiresPublicKeyDownload reports whether the email is on the roster and its
// key has not been fetched yet
func (k *Keyring) RequiresPublicKeyDownload(email string) bool {
	f, ok := k.fingerprints[email]
	return ok && !f.PublicKeyIsAvailableLocally
}

// MarkAvailable flags the keys of the given emails as fetched. Unknown emails
// are ignored.
func (k *Keyring) MarkAvailable(emails []string) {
	for _, email := range emails {
		if f, ok := k.fingerprints[email]; ok {
			f.PublicKeyIsAvailableLocally = true
		}
	}
}
