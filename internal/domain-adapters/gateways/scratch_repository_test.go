package gateways

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

func TestScratchRepository_MergeTree(t *testing.T) {
	h := newHistory(t)
	runner := NewCommandRunner(h.dir)
	objects := filepath.Join(h.dir, ".git", "objects")
	s := NewScratchRepository(runner, func(context.Context) ([]string, error) {
		return []string{objects}, nil
	}, &interfaces.NoOpLogger{})
	defer s.Close()

	if s.Path() != "" {
		t.Fatalf("Path() = %q before first use, want empty", s.Path())
	}

	tree, clean, err := s.MergeTree(context.Background(), h.f2, h.c2, h.f2)
	if err != nil {
		t.Fatalf("MergeTree() error = %v", err)
	}
	if !clean {
		t.Fatal("MergeTree() reported a conflict for disjoint changes")
	}
	if len(tree) != 40 {
		t.Errorf("MergeTree() tree = %q, want an object id", tree)
	}

	path := s.Path()
	if !strings.HasPrefix(filepath.Base(path), "capn_tmp_"+h.f2.String()+"_") {
		t.Errorf("Path() = %q", path)
	}
	alternates, err := os.ReadFile(filepath.Join(path, "objects", "info", "alternates")) //nolint:gosec // G304: test fixture
	if err != nil {
		t.Fatalf("reading alternates: %v", err)
	}
	if string(alternates) != objects+"\n" {
		t.Errorf("alternates = %q, want %q", alternates, objects+"\n")
	}

	// the repository is reused for later merges
	if _, _, err := s.MergeTree(context.Background(), h.c1, h.c2, h.f1); err != nil {
		t.Fatalf("MergeTree() error = %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() changed from %q to %q", path, s.Path())
	}

	s.Close()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("scratch repository not removed: %v", err)
	}
	s.Close()
}

func TestScratchRepository_Conflict(t *testing.T) {
	h := newHistory(t)
	h.git("checkout", "-q", "-b", "clash", h.c1.String())
	h.write("README.md", "v3\n")
	clash := h.commit(bob, "readme v3")

	s := NewScratchRepository(NewCommandRunner(h.dir), func(context.Context) ([]string, error) {
		return []string{filepath.Join(h.dir, ".git", "objects")}, nil
	}, &interfaces.NoOpLogger{})
	defer s.Close()

	_, clean, err := s.MergeTree(context.Background(), clash, h.c2, clash)
	if err != nil {
		t.Fatalf("MergeTree() error = %v", err)
	}
	if clean {
		t.Error("MergeTree() should report the conflicting README change")
	}
}

func TestScratchRepository_ObjectDirsError(t *testing.T) {
	requireGit(t)
	t.Setenv("TMPDIR", t.TempDir())
	boom := errors.New("no object directory")
	s := NewScratchRepository(NewCommandRunner(t.TempDir()), func(context.Context) ([]string, error) {
		return nil, boom
	}, &interfaces.NoOpLogger{})
	defer s.Close()

	id := entities.MustParseObjectID("eb5e0185546b0bb1a13feec6b9ee8b39985fea42")
	if _, _, err := s.MergeTree(context.Background(), id, id, id); !errors.Is(err, boom) {
		t.Errorf("MergeTree() error = %v, want %v", err, boom)
	}
}

func TestCreateScratchDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	id := entities.MustParseObjectID("eb5e0185546b0bb1a13feec6b9ee8b39985fea42")

	taken := filepath.Join(tmp, fmt.Sprintf("capn_tmp_%s_0.git", id))
	if err := os.Mkdir(taken, 0o700); err != nil {
		t.Fatal(err)
	}
	path, err := createScratchDir(id)
	if err != nil {
		t.Fatalf("createScratchDir() error = %v", err)
	}
	if want := filepath.Join(tmp, fmt.Sprintf("capn_tmp_%s_1.git", id)); path != want {
		t.Errorf("createScratchDir() = %q, want %q", path, want)
	}

	for i := 2; i < maxScratchAttempts; i++ {
		if err := os.Mkdir(filepath.Join(tmp, fmt.Sprintf("capn_tmp_%s_%d.git", id, i)), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := createScratchDir(id); !errors.Is(err, ErrScratchRepositoryExhausted) {
		t.Errorf("createScratchDir() error = %v, want %v", err, ErrScratchRepositoryExhausted)
	}
}

func TestParseAlternates(t *testing.T) {
	sep := string(filepath.ListSeparator)
	got := parseAlternates("/a" + sep + " " + sep + "/b ")
	if strings.Join(got, ",") != "/a,/b" {
		t.Errorf("parseAlternates() = %v", got)
	}
	if parseAlternates("") != nil {
		t.Error("parseAlternates(\"\") should be nil")
	}
}
