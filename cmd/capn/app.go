package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	gitgateways "github.com/ochairo/capn/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/capn/internal/domain-orchestrators"
	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/interfaces/gateways"
	"github.com/ochairo/capn/internal/domain/interfaces/repositories"
	"github.com/ochairo/capn/internal/domain/services"
	"github.com/ochairo/capn/internal/external-adapters/configfile"
)

// app is the wired dependency graph for one hook invocation
type app struct {
	git    gateways.GitRepository
	config *entities.Config
	hooks  *orchestrators.HookOrchestrator
}

// newApp loads the repository's configuration and wires the verification
// engine. The configuration is read through a repository opened with the
// default mainlines, since the configured ones are not known yet.
func newApp(ctx context.Context, dir string, logger interfaces.Logger) (*app, error) {
	bootstrap, err := gitgateways.NewGitRepository(ctx, gitgateways.GitRepositoryOptions{
		Dir:       dir,
		Mainlines: entities.DefaultGitConfig().Mainlines,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	var configs repositories.ConfigRepository = configfile.NewConfigRepository(bootstrap, logger)
	config, err := configs.LoadConfig(ctx)
	_ = bootstrap.Close()
	if err != nil {
		return nil, err
	}

	git, err := gitgateways.NewGitRepository(ctx, gitgateways.GitRepositoryOptions{
		Dir:       dir,
		Mainlines: config.Git.Mainlines,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var verifier orchestrators.UpdateVerifier
	if vc := config.VerifyGitCommits; vc != nil {
		keyServer, err := gitgateways.NewKeyServer(*vc, logger)
		if err != nil {
			_ = git.Close()
			return nil, err
		}
		keys := services.NewKeyService(keyServer, services.KeyFetchOptions{
			Parallel:       vc.RecvKeysParallel,
			MaxParallelism: vc.MaxParallelism,
			Skip:           vc.SkipRecvKeys,
		}, logger)
		policies := services.NewPolicyService(git, keys, services.PolicyOptions{
			MaxParallelism:     vc.MaxParallelism,
			OverrideTagPattern: vc.OverrideTagPattern,
		}, logger)
		verifier = orchestrators.NewVerifyOrchestrator(git, policies, *vc, logger)
	}

	return &app{
		git:    git,
		config: config,
		hooks:  orchestrators.NewHookOrchestrator(git, config, verifier, logger),
	}, nil
}

func (a *app) Close() error {
	return a.git.Close()
}

// runHook wires the app, runs one hook and reports the verdict with the
// banners and exit code git expects
func (c *cli) runHook(cmd *cobra.Command, run func(ctx context.Context, a *app) (*orchestrators.HookReport, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	printHeader(out, fmt.Sprintf("%s %s!", welcomeBanner, Version), c.quiet)

	a, err := newApp(ctx, c.dir, c.logger)
	if err != nil {
		c.logger.Error("Failed to initialize Capn Githook. Please check that you are in a Git repo that has a .capn config file in the root of the repo.",
			interfaces.F("error", err))
		return c.systemError(out, err)
	}
	defer func() { _ = a.Close() }()

	report, err := run(ctx, a)
	if err != nil {
		c.logger.Error("System error - commits rejected", interfaces.F("reason", err))
		return c.systemError(out, err)
	}
	return c.verdict(out, report)
}

func (c *cli) verdict(out io.Writer, report *orchestrators.HookReport) error {
	if report.Result.IsErr() {
		c.logger.Error("Checks failed - commits rejected",
			interfaces.F("reason", report.Result.String()),
			interfaces.F("rejected_updates", len(report.Failures)))
		printHeader(out, rejectedBanner+"\n"+describeReport(report), c.quiet)
		return &exitError{code: ExitRejected}
	}
	c.logger.Info("Checks passed - commits accepted", interfaces.F("updates", report.Checked))
	printHeader(out, acceptedBanner, c.quiet)
	return nil
}

func (c *cli) systemError(out io.Writer, err error) error {
	text := errorBanner + "\n" + err.Error()
	if errors.Is(err, configfile.ErrConfigNotFound) {
		text += "\nPlease check that you are in a Git repo that has a .capn config file in the root of the repo."
	}
	printHeader(out, text, c.quiet)
	return &exitError{code: ExitSystemError, err: err}
}
