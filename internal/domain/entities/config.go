package entities

import "runtime"

// Key fetch backends
const (
	KeyFetchBackendGPG  = "gpg"  // gpg --recv-keys
	KeyFetchBackendHTTP = "http" // VKS/HKP over HTTP, imported into gpg
)

// Config is the repository's .capn configuration
type Config struct {
	Git               GitConfig
	PrependBranchName bool
	VerifyGitCommits  *VerifyGitCommitsConfig // nil when commit verification is disabled
}

// GitConfig describes which refs count as mainline
type GitConfig struct {
	Mainlines []string // literal names, globs or "HEAD"
}

// VerifyGitCommitsConfig configures the commit verification engine
type VerifyGitCommitsConfig struct {
	AuthorDomain         string
	CommitterDomain      string
	Keyserver            string
	TeamFingerprintsFile string

	RecvKeysParallel bool
	SkipRecvKeys     bool

	VerifyEmailAddresses   bool
	VerifyCommitSignatures bool
	VerifyDifferentAuthors bool
	VerifyRebased          bool

	OverrideTagPattern   string // empty means any tag counts
	OverrideTagsRequired uint8

	KeyFetchBackend            string
	MaxParallelism             int
	KeyserverRequestsPerSecond float64
}

// DefaultGitConfig returns the mainline set used when none is configured
func DefaultGitConfig() GitConfig {
	return GitConfig{Mainlines: []string{"HEAD"}}
}

// DefaultVerifyGitCommitsConfig returns the defaults applied before a config
// file's values
func DefaultVerifyGitCommitsConfig() VerifyGitCommitsConfig {
	return VerifyGitCommitsConfig{
		RecvKeysParallel:           true,
		VerifyEmailAddresses:       true,
		VerifyCommitSignatures:     true,
		OverrideTagsRequired:       2,
		KeyFetchBackend:            KeyFetchBackendGPG,
		MaxParallelism:             runtime.NumCPU(),
		KeyserverRequestsPerSecond: 5,
	}
}
