package main

import (
	"context"

	"github.com/spf13/cobra"

	orchestrators "github.com/ochairo/capn/internal/domain-orchestrators"
	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

func newPrePushCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pre-push [remote-name] [remote-location]",
		Short: "Verify the commits about to be pushed",
		Long: `Run as git's pre-push hook. Reads one
"<local ref> <local sha> <remote ref> <remote sha>" line per pushed ref
from stdin and verifies the commits each push would introduce.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runHook(cmd, func(ctx context.Context, a *app) (*orchestrators.HookReport, error) {
				if len(args) == 2 {
					c.logger.Debug("Pushing to remote", interfaces.F("remote", args[0]), interfaces.F("location", args[1]))
				}
				return a.hooks.PrePush(ctx, cmd.InOrStdin())
			})
		},
	}
}

func newPreReceiveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pre-receive",
		Short: "Verify the commits a push would add on the server",
		Long: `Run as git's pre-receive hook on the server. Reads one
"<old sha> <new sha> <ref>" line per updated ref from stdin. The push is
rejected if any update fails verification.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runHook(cmd, func(ctx context.Context, a *app) (*orchestrators.HookReport, error) {
				return a.hooks.PreReceive(ctx, cmd.InOrStdin())
			})
		},
	}
}

func newPrepareCommitMsgCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare-commit-msg <commit-file> [source] [sha]",
		Short: "Prepend the branch name to new commit messages",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source string
			if len(args) > 1 {
				source = args[1]
			}
			return c.runHook(cmd, func(ctx context.Context, a *app) (*orchestrators.HookReport, error) {
				result, err := a.hooks.PrepareCommitMsg(ctx, args[0], source)
				if err != nil {
					return nil, err
				}
				return &orchestrators.HookReport{Result: result}, nil
			})
		},
	}
}

func newInstallHooksCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "install-hooks",
		Short: "Install the prepare-commit-msg and pre-push hooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runHook(cmd, func(ctx context.Context, a *app) (*orchestrators.HookReport, error) {
				if err := a.hooks.InstallHooks(ctx); err != nil {
					return nil, err
				}
				return &orchestrators.HookReport{Result: entities.Ok()}, nil
			})
		},
	}
}

func newVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <old-sha> <new-sha> <ref>",
		Short: "Verify a single reference update",
		Long: `Verify the commits between two object ids as if ref was updated
from old-sha to new-sha. Use the all-zero id for a created or deleted ref.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := entities.ParseReferenceUpdate(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return c.runHook(cmd, func(ctx context.Context, a *app) (*orchestrators.HookReport, error) {
				return a.hooks.VerifyUpdate(ctx, update)
			})
		},
	}
}
