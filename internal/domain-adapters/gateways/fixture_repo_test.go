package gateways

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ochairo/capn/internal/domain/entities"
)

// fixtureRepo builds a throwaway repository with the git command line
type fixtureRepo struct {
	t     *testing.T
	dir   string
	clock int64
}

// requireGit skips the test unless git 2.38 or newer is installed, the first
// release with `merge-tree --write-tree`
func requireGit(t *testing.T) {
	t.Helper()
	out, err := exec.Command("git", "version").Output()
	if err != nil {
		t.Skip("git not installed")
	}
	// "git version 2.39.2" or "git version 2.39.2.windows.1"
	fields := strings.Fields(string(out))
	if len(fields) < 3 {
		t.Skipf("unrecognised git version %q", out)
	}
	parts := strings.SplitN(fields[2], ".", 3)
	if len(parts) < 2 {
		t.Skipf("unrecognised git version %q", out)
	}
	major, _ := strconv.Atoi(parts[0])
	minor, _ := strconv.Atoi(parts[1])
	if major < 2 || (major == 2 && minor < 38) {
		t.Skipf("git %s is older than 2.38", fields[2])
	}
}

func newFixtureRepo(t *testing.T) *fixtureRepo {
	t.Helper()
	requireGit(t)
	f := &fixtureRepo{t: t, dir: t.TempDir(), clock: 1_700_000_000}
	f.git("init", "-q", "-b", "main")
	return f
}

func (f *fixtureRepo) env(email string) []string {
	env := []string{
		"HOME=" + f.dir,
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_AUTHOR_NAME=Dev",
		"GIT_COMMITTER_NAME=Dev",
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_EMAIL=" + email,
		fmt.Sprintf("GIT_AUTHOR_DATE=%d +0000", f.clock),
		fmt.Sprintf("GIT_COMMITTER_DATE=%d +0000", f.clock),
	}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "GIT_") && !strings.HasPrefix(kv, "HOME=") {
			env = append(env, kv)
		}
	}
	return env
}

func runGit(dir string, env []string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (f *fixtureRepo) gitAs(email string, args ...string) string {
	f.t.Helper()
	out, err := runGit(f.dir, f.env(email), args...)
	if err != nil {
		f.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (f *fixtureRepo) git(args ...string) string {
	f.t.Helper()
	return f.gitAs("dev@example.com", args...)
}

func (f *fixtureRepo) write(path, content string) {
	f.t.Helper()
	full := filepath.Join(f.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		f.t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o600); err != nil {
		f.t.Fatal(err)
	}
}

// commit stages every change and commits it as email
func (f *fixtureRepo) commit(email, message string) entities.ObjectID {
	f.t.Helper()
	f.clock += 60
	f.git("add", "-A")
	f.gitAs(email, "commit", "-q", "--allow-empty", "--no-gpg-sign", "-m", message)
	return f.head()
}

func (f *fixtureRepo) head() entities.ObjectID {
	f.t.Helper()
	return f.rev("HEAD")
}

func (f *fixtureRepo) rev(name string) entities.ObjectID {
	f.t.Helper()
	id, err := entities.ParseObjectID(f.git("rev-parse", name+"^{commit}"))
	if err != nil {
		f.t.Fatal(err)
	}
	return id
}

// tag creates an unsigned annotated tag by email
func (f *fixtureRepo) tag(email, name string, target entities.ObjectID) {
	f.t.Helper()
	f.clock += 60
	f.gitAs(email, "tag", "-a", "-m", name, name, target.String())
}
