package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner runs git subcommands against one repository
type CommandRunner struct {
	gitBinary  string
	workingDir string
}

// NewCommandRunner creates a runner rooted at workingDir ("" for the process directory)
func NewCommandRunner(workingDir string) *CommandRunner {
	return &CommandRunner{
		gitBinary:  "git",
		workingDir: workingDir,
	}
}

// CommandConfig contains configuration for one git invocation
type CommandConfig struct {
	Args  []string
	Env   map[string]string // overrides on top of the process environment
	Stdin io.Reader

	// ScrubGitEnv drops inherited GIT_* variables, for commands that must
	// not see the hook's repository
	ScrubGitEnv bool
}

// CommandResult contains the result of a git invocation
type CommandResult struct {
	Success  bool
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	Error    error
}

// Run executes git with the given configuration. A non-zero exit is reported
// through ExitCode and Error; ExitCode is -1 when git could not be started.
func (r *CommandRunner) Run(ctx context.Context, config CommandConfig) *CommandResult {
	startTime := time.Now()
	result := &CommandResult{}

	//nolint:gosec // G204: arguments are built from object ids and ref names, never a shell string
	cmd := exec.CommandContext(ctx, r.gitBinary, config.Args...)
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}

	env := os.Environ()
	if config.ScrubGitEnv {
		env = scrubGitEnv(env)
	}
	for key, value := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.Env = env
	cmd.Stdin = config.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()

	if err != nil {
		result.Error = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result
	}

	result.Success = true
	return result
}

// Output runs git and returns trimmed stdout, failing on any non-zero exit
func (r *CommandRunner) Output(ctx context.Context, args ...string) (string, error) {
	result := r.Run(ctx, CommandConfig{Args: args})
	if !result.Success {
		return "", result.Err(args)
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// Err describes a failed invocation, including git's stderr
func (res *CommandResult) Err(args []string) error {
	if res.Success {
		return nil
	}
	msg := strings.TrimSpace(string(res.Stderr))
	if msg == "" {
		return fmt.Errorf("git %s (exit %d): %w", strings.Join(args, " "), res.ExitCode, res.Error)
	}
	return fmt.Errorf("git %s (exit %d): %s: %w", strings.Join(args, " "), res.ExitCode, msg, res.Error)
}

func scrubGitEnv(env []string) []string {
	out := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "GIT_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
