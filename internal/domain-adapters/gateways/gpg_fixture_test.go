package gateways

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/ochairo/capn/internal/domain/entities"
)

// gpgHome is a throwaway GnuPG home shared by git and the gateway under test
type gpgHome struct {
	t   *testing.T
	dir string
}

// requireGPG skips the test unless gpg is installed, then points GNUPGHOME at
// an empty keyring for the rest of the test
func requireGPG(t *testing.T) *gpgHome {
	t.Helper()
	if _, err := exec.LookPath("gpg"); err != nil {
		t.Skip("gpg not installed")
	}
	// agent socket paths are length limited, keep the home short
	dir, err := os.MkdirTemp("", "capn-gpg")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("GNUPGHOME", dir)
	t.Cleanup(func() {
		_ = exec.Command("gpgconf", "--kill", "gpg-agent").Run() //nolint:gosec // G204: fixed arguments
		_ = os.RemoveAll(dir)
	})
	return &gpgHome{t: t, dir: dir}
}

func (g *gpgHome) gpg(args ...string) string {
	g.t.Helper()
	cmd := exec.Command("gpg", append([]string{"--batch", "--no-tty"}, args...)...) //nolint:gosec // G204: test fixture
	out, err := cmd.CombinedOutput()
	if err != nil {
		g.t.Fatalf("gpg %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

// generateKey creates an unprotected signing key and returns its fingerprint
func (g *gpgHome) generateKey(name, email string) string {
	g.t.Helper()
	uid := name + " <" + email + ">"
	g.gpg("--pinentry-mode", "loopback", "--passphrase", "", "--quick-gen-key", uid, "ed25519", "sign", "never")
	for _, line := range strings.Split(g.gpg("--with-colons", "--list-keys", "="+uid), "\n") {
		// fpr:::::::::<fingerprint>:
		if fields := strings.Split(line, ":"); len(fields) > 9 && fields[0] == "fpr" {
			return fields[9]
		}
	}
	g.t.Fatalf("no fingerprint listed for %s", uid)
	return ""
}

// signedCommit commits every change as email, signed with key
func (f *fixtureRepo) signedCommit(email, key, message string) entities.ObjectID {
	f.t.Helper()
	f.clock += 60
	f.git("add", "-A")
	f.gitAs(email, "-c", "user.signingkey="+key, "commit", "-q", "--allow-empty", "-S", "-m", message)
	return f.head()
}

// signedTag creates an annotated tag by email, signed with key
func (f *fixtureRepo) signedTag(email, key, name string, target entities.ObjectID) {
	f.t.Helper()
	f.clock += 60
	f.gitAs(email, "-c", "user.signingkey="+key, "tag", "-s", "-m", name, name, target.String())
}
