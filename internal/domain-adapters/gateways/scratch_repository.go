package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

const maxScratchAttempts = 20

// ErrScratchRepositoryExhausted is returned when no free scratch directory name was found
var ErrScratchRepositoryExhausted = errors.New("max attempts exceeded looking for a new temp repo location")

// ScratchRepository is a bare repository in the temp directory that borrows
// the hook repository's objects through alternates. Merges are reproduced in
// it so the live repository is never written to. It is created on first use
// and shared by every check of the run.
type ScratchRepository struct {
	runner     *CommandRunner
	objectDirs func(ctx context.Context) ([]string, error)
	logger     interfaces.Logger

	mu    sync.Mutex
	path  string
	ready bool
}

// NewScratchRepository creates a lazy scratch repository. objectDirs lists the
// object directories the scratch repository must be able to read.
func NewScratchRepository(runner *CommandRunner, objectDirs func(ctx context.Context) ([]string, error), logger interfaces.Logger) *ScratchRepository {
	return &ScratchRepository{runner: runner, objectDirs: objectDirs, logger: logger}
}

// MergeTree reproduces the merge of two commits and returns the resulting
// tree. clean is false when the merge has conflicts.
func (s *ScratchRepository) MergeTree(ctx context.Context, commit, a, b entities.ObjectID) (tree string, clean bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx, commit); err != nil {
		return "", false, err
	}

	args := []string{"merge-tree", "--write-tree", a.String(), b.String()}
	result := s.runner.Run(ctx, CommandConfig{
		Args:        args,
		Env:         map[string]string{"GIT_DIR": s.path},
		ScrubGitEnv: true,
	})
	switch {
	case result.Success:
	case result.ExitCode == 1:
		return "", false, nil
	default:
		return "", false, result.Err(args)
	}

	line, _, _ := bytes.Cut(result.Stdout, []byte("\n"))
	return strings.TrimSpace(string(line)), true, nil
}

func (s *ScratchRepository) ensure(ctx context.Context, commit entities.ObjectID) error {
	if s.ready {
		return nil
	}

	if s.path == "" {
		path, err := createScratchDir(commit)
		if err != nil {
			return err
		}
		s.logger.Debug("Created temp repo for verification", interfaces.F("path", path))
		s.path = path
	}

	args := []string{"init", "--bare", "-q", s.path}
	if result := s.runner.Run(ctx, CommandConfig{Args: args, ScrubGitEnv: true}); !result.Success {
		return result.Err(args)
	}

	dirs, err := s.objectDirs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list object directories: %w", err)
	}
	alternates := filepath.Join(s.path, "objects", "info", "alternates")
	if err := os.MkdirAll(filepath.Dir(alternates), 0o755); err != nil {
		return fmt.Errorf("failed to prepare alternates: %w", err)
	}
	if err := os.WriteFile(alternates, []byte(strings.Join(dirs, "\n")+"\n"), 0o644); err != nil { //nolint:gosec // G306: scratch repository is private to this run
		return fmt.Errorf("failed to write alternates: %w", err)
	}
	s.ready = true
	return nil
}

func createScratchDir(commit entities.ObjectID) (string, error) {
	tmp := os.TempDir()
	for suffix := 0; suffix < maxScratchAttempts; suffix++ {
		path := filepath.Join(tmp, fmt.Sprintf("capn_tmp_%s_%d.git", commit, suffix))
		err := os.Mkdir(path, 0o700)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create temp repo: %w", err)
		}
		return path, nil
	}
	return "", ErrScratchRepositoryExhausted
}

// Path returns the scratch directory, or "" before first use
func (s *ScratchRepository) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Close removes the scratch directory. Removal failures are logged, not returned.
func (s *ScratchRepository) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return
	}
	s.logger.Debug("Cleaning up temp repo", interfaces.F("path", s.path))
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("Failed to clean up temp repo", interfaces.F("path", s.path), interfaces.F("error", err))
	}
	s.path = ""
	s.ready = false
}

// parseAlternates splits GIT_ALTERNATE_OBJECT_DIRECTORIES
func parseAlternates(value string) []string {
	var dirs []string
	for _, d := range filepath.SplitList(value) {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}
