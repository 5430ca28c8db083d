// Package main provides the capn CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ochairo/capn/internal/external-adapters/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

// Environment variables providing defaults for the logging flags
const (
	envLogURL = "CAPN_LOG_URL"
	envUser   = "CAPN_USER"
	envIP     = "CAPN_IP"
	envRepo   = "CAPN_REPO"
)

// cli holds the global flags and the logger built from them
type cli struct {
	dir     string
	quiet   bool
	verbose int
	logURL  string
	user    string
	ip      string
	repo    string

	logger *logging.Logger
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	c := &cli{}
	err := newRootCmd(c).Execute()
	if c.logger != nil {
		_ = c.logger.Close()
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return ExitAccepted
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	// cobra usage errors, printed here since SilenceErrors is set
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	return ExitSystemError
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "capn",
		Short: "Captain Git Hook: opinionated Git hooks",
		Long: `capn is a collection of Git hooks for more opinionated Git usage.

It verifies that pushed commits are signed by team members, use company
email addresses, were reviewed by a second author before reaching a
mainline branch, and are rebased on the branch they update. Repositories
opt in with a .capn configuration file in their root.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			c.applyEnvDefaults(cmd)
			c.logger = logging.New(logging.Options{
				Quiet:   c.quiet,
				Verbose: c.verbose,
				LogURL:  c.logURL,
				User:    c.user,
				IP:      c.ip,
				Repo:    c.repo,
				Stderr:  cmd.ErrOrStderr(),
			})
		},
	}
	root.Version = Version

	flags := root.PersistentFlags()
	flags.StringVarP(&c.dir, "dir", "C", "", "Run as if capn was started in this directory")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "Silence all output")
	flags.CountVarP(&c.verbose, "verbose", "v", "Verbose mode (-v, -vv)")
	flags.StringVar(&c.logURL, "log-url", "", "host:port for logging over TCP (env "+envLogURL+")")
	flags.StringVar(&c.ip, "ip", "", "User IP address for logging context (env "+envIP+")")
	flags.StringVar(&c.user, "user", "", "Username for logging context (env "+envUser+")")
	flags.StringVar(&c.repo, "repo", "", "Repository name for logging context (env "+envRepo+")")

	root.AddCommand(
		newPrePushCmd(c),
		newPreReceiveCmd(c),
		newPrepareCommitMsgCmd(c),
		newInstallHooksCmd(c),
		newVerifyCmd(c),
	)
	return root
}

// applyEnvDefaults fills logging flags that were not given from the environment
func (c *cli) applyEnvDefaults(cmd *cobra.Command) {
	for name, env := range map[string]struct {
		dst *string
		key string
	}{
		"log-url": {&c.logURL, envLogURL},
		"user":    {&c.user, envUser},
		"ip":      {&c.ip, envIP},
		"repo":    {&c.repo, envRepo},
	} {
		if cmd.Flags().Changed(name) {
			continue
		}
		if v, ok := os.LookupEnv(env.key); ok {
			*env.dst = v
		}
	}
}
