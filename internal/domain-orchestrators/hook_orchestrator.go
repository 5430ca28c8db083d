package orchestrators

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/interfaces/gateways"
)

// Hook shims written by InstallHooks
const (
	hookMode = 0o750

	prepareCommitMsgHook = "#!/bin/sh\ncapn prepare-commit-msg \"$@\"\n"
	prePushHook          = "#!/bin/sh\ncapn pre-push \"$@\"\n"
)

// UpdateVerifier verifies a single reference update
type UpdateVerifier interface {
	Verify(ctx context.Context, update entities.ReferenceUpdate) (entities.PolicyResult, error)
}

// HookOrchestrator dispatches Git hook invocations
type HookOrchestrator struct {
	git      gateways.GitRepository
	config   *entities.Config
	verifier UpdateVerifier // nil when commit verification is not configured
	logger   interfaces.Logger
}

// NewHookOrchestrator creates a new hook orchestrator
func NewHookOrchestrator(git gateways.GitRepository, config *entities.Config, verifier UpdateVerifier, logger interfaces.Logger) *HookOrchestrator {
	return &HookOrchestrator{
		git:      git,
		config:   config,
		verifier: verifier,
		logger:   logger,
	}
}

// UpdateResult is the verdict for one reference update
type UpdateResult struct {
	Update entities.ReferenceUpdate
	Result entities.PolicyResult
}

// HookReport is the verdict for a whole hook invocation
type HookReport struct {
	// Result folds the per-update results in input order
	Result entities.PolicyResult
	// Failures lists every failing update, sorted by result
	Failures []UpdateResult
	// Checked counts the updates that were verified
	Checked int
}

func (r *HookReport) add(update entities.ReferenceUpdate, result entities.PolicyResult) {
	r.Checked++
	r.Result = r.Result.And(result)
	if result.IsErr() {
		r.Failures = append(r.Failures, UpdateResult{Update: update, Result: result})
	}
}

func (r *HookReport) sortFailures() {
	slices.SortStableFunc(r.Failures, func(a, b UpdateResult) int {
		return entities.ComparePolicyResults(a.Result, b.Result)
	})
}

// PrePush verifies the `<local ref> <local sha> <remote ref> <remote sha>`
// lines git feeds the pre-push hook
func (o *HookOrchestrator) PrePush(ctx context.Context, stdin io.Reader) (*HookReport, error) {
	o.logger.Info("Calling pre-push")
	return o.verifyLines(ctx, stdin, 4, func(fields []string) (entities.ReferenceUpdate, error) {
		localRef, localSHA, remoteSHA := fields[0], fields[1], fields[3]
		return entities.ParseReferenceUpdate(remoteSHA, localSHA, localRef)
	})
}

// PreReceive verifies the `<old> <new> <ref>` lines git feeds the
// pre-receive hook
func (o *HookOrchestrator) PreReceive(ctx context.Context, stdin io.Reader) (*HookReport, error) {
	o.logger.Info("Calling pre-receive")
	return o.verifyLines(ctx, stdin, 3, func(fields []string) (entities.ReferenceUpdate, error) {
		return entities.ParseReferenceUpdate(fields[0], fields[1], fields[2])
	})
}

// VerifyUpdate verifies one update given on the command line
func (o *HookOrchestrator) VerifyUpdate(ctx context.Context, update entities.ReferenceUpdate) (*HookReport, error) {
	report := &HookReport{Result: entities.Ok()}
	result, err := o.verify(ctx, update)
	if err != nil {
		return nil, err
	}
	report.add(update, result)
	return report, nil
}

func (o *HookOrchestrator) verifyLines(
	ctx context.Context,
	stdin io.Reader,
	fieldCount int,
	parse func(fields []string) (entities.ReferenceUpdate, error),
) (*HookReport, error) {
	report := &HookReport{Result: entities.Ok()}

	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Split(line, " ")
		if len(fields) < fieldCount {
			o.logger.Warn("Expected parameters not received on stdin", interfaces.F("line", line))
			continue
		}
		o.logger.Info("Running hook for", interfaces.F("line", line))

		update, err := parse(fields)
		if err != nil {
			return nil, fmt.Errorf("invalid hook input %q: %w", line, err)
		}
		result, err := o.verify(ctx, update)
		if err != nil {
			return nil, err
		}
		report.add(update, result)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hook input: %w", err)
	}

	report.sortFailures()
	return report, nil
}

func (o *HookOrchestrator) verify(ctx context.Context, update entities.ReferenceUpdate) (entities.PolicyResult, error) {
	if o.verifier == nil {
		o.logger.Debug("verify_git_commits is not configured, accepting update", interfaces.F("update", update.String()))
		return entities.Ok(), nil
	}
	return o.verifier.Verify(ctx, update)
}

// PrepareCommitMsg prepends the current branch name to a new commit's
// message. Merges, amends and messages given with -m are left alone.
func (o *HookOrchestrator) PrepareCommitMsg(ctx context.Context, commitFile, commitSource string) (entities.PolicyResult, error) {
	o.logger.Info("Calling prepare-commit-msg")
	if commitSource != "" || !o.config.PrependBranchName {
		return entities.Ok(), nil
	}

	o.logger.Info("Executing policy: prepend_branch_name")
	branch, err := o.git.CurrentBranch(ctx)
	if err != nil {
		return entities.Ok(), err
	}
	if err := prependToFile(branch+":\n", commitFile); err != nil {
		return entities.Ok(), err
	}
	return entities.Ok(), nil
}

func prependToFile(prefix, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat commit message file: %w", err)
	}
	current, err := os.ReadFile(path) //nolint:gosec // G304: path is given to the hook by git
	if err != nil {
		return fmt.Errorf("failed to read commit message file: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(prefix), current...), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write commit message file: %w", err)
	}
	return nil
}

// InstallHooks writes the prepare-commit-msg and pre-push shims into the
// repository's hooks directory
func (o *HookOrchestrator) InstallHooks(ctx context.Context) error {
	if err := o.git.WriteGitFile(ctx, "hooks/prepare-commit-msg", hookMode, prepareCommitMsgHook); err != nil {
		return fmt.Errorf("failed to install prepare-commit-msg hook: %w", err)
	}
	if err := o.git.WriteGitFile(ctx, "hooks/pre-push", hookMode, prePushHook); err != nil {
		return fmt.Errorf("failed to install pre-push hook: %w", err)
	}
	o.logger.Info("Installed hooks", interfaces.F("hooks", []string{"prepare-commit-msg", "pre-push"}))
	return nil
}
