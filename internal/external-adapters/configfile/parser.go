// Package configfile loads the repository's .capn configuration from TOML or
// YAML files.
package configfile

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ochairo/capn/internal/domain/entities"
)

// Format is the syntax of a configuration file
type Format int

// Supported formats
const (
	FormatTOML Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatTOML:
		return "TOML"
	case FormatYAML:
		return "YAML"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// rawConfig represents the raw file structure. Optional settings are
// pointers so defaults apply only to what the file leaves out.
type rawConfig struct {
	Git              *rawGit              `toml:"git" yaml:"git"`
	VerifyGitCommits *rawVerifyGitCommits `toml:"verify_git_commits" yaml:"verify_git_commits"`
}

type rawGit struct {
	Mainlines []string `toml:"mainlines" yaml:"mainlines"`
}

type rawVerifyGitCommits struct {
	AuthorDomain         string `toml:"author_domain" yaml:"author_domain"`
	CommitterDomain      string `toml:"committer_domain" yaml:"committer_domain"`
	Keyserver            string `toml:"keyserver" yaml:"keyserver"`
	TeamFingerprintsFile string `toml:"team_fingerprints_file" yaml:"team_fingerprints_file"`

	RecvKeysPar  *bool `toml:"recv_keys_par" yaml:"recv_keys_par"`
	SkipRecvKeys *bool `toml:"skip_recv_keys" yaml:"skip_recv_keys"`

	VerifyEmailAddresses   *bool `toml:"verify_email_addresses" yaml:"verify_email_addresses"`
	VerifyCommitSignatures *bool `toml:"verify_commit_signatures" yaml:"verify_commit_signatures"`
	VerifyDifferentAuthors *bool `toml:"verify_different_authors" yaml:"verify_different_authors"`
	VerifyRebased          *bool `toml:"verify_rebased" yaml:"verify_rebased"`

	OverrideTagPattern   *string `toml:"override_tag_pattern" yaml:"override_tag_pattern"`
	OverrideTagsRequired *int64  `toml:"override_tags_required" yaml:"override_tags_required"`

	KeyFetchBackend            *string  `toml:"key_fetch_backend" yaml:"key_fetch_backend"`
	MaxParallelism             *int64   `toml:"max_parallelism" yaml:"max_parallelism"`
	KeyserverRequestsPerSecond *float64 `toml:"keyserver_requests_per_second" yaml:"keyserver_requests_per_second"`
}

// Parser parses configuration files
type Parser struct{}

// NewParser creates a new configuration parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses configuration bytes in the given format into a Config entity
func (p *Parser) Parse(data []byte, format Format) (*entities.Config, error) {
	var raw rawConfig
	// sections are enabled by presence, even when empty
	var sections map[string]any

	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
		if err := toml.Unmarshal(data, &sections); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if err := yaml.Unmarshal(data, &sections); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %s", format)
	}

	config := &entities.Config{Git: entities.DefaultGitConfig()}
	if raw.Git != nil && raw.Git.Mainlines != nil {
		config.Git.Mainlines = slices.Clone(raw.Git.Mainlines)
	}

	if v, ok := sections["prepend_branch_name"]; ok && v != false {
		config.PrependBranchName = true
	}

	if _, ok := sections["verify_git_commits"]; ok {
		if raw.VerifyGitCommits == nil {
			raw.VerifyGitCommits = &rawVerifyGitCommits{}
		}
		verify, err := convertVerifyGitCommits(raw.VerifyGitCommits)
		if err != nil {
			return nil, err
		}
		config.VerifyGitCommits = verify
	}

	return config, nil
}

func convertVerifyGitCommits(raw *rawVerifyGitCommits) (*entities.VerifyGitCommitsConfig, error) {
	required := []struct{ name, value string }{
		{"author_domain", raw.AuthorDomain},
		{"committer_domain", raw.CommitterDomain},
		{"keyserver", raw.Keyserver},
		{"team_fingerprints_file", raw.TeamFingerprintsFile},
	}
	for _, field := range required {
		if field.value == "" {
			return nil, fmt.Errorf("verify_git_commits must have a %s", field.name)
		}
	}

	c := entities.DefaultVerifyGitCommitsConfig()
	c.AuthorDomain = raw.AuthorDomain
	c.CommitterDomain = raw.CommitterDomain
	c.Keyserver = raw.Keyserver
	c.TeamFingerprintsFile = raw.TeamFingerprintsFile

	setBool(&c.RecvKeysParallel, raw.RecvKeysPar)
	setBool(&c.SkipRecvKeys, raw.SkipRecvKeys)
	setBool(&c.VerifyEmailAddresses, raw.VerifyEmailAddresses)
	setBool(&c.VerifyCommitSignatures, raw.VerifyCommitSignatures)
	setBool(&c.VerifyDifferentAuthors, raw.VerifyDifferentAuthors)
	setBool(&c.VerifyRebased, raw.VerifyRebased)

	if raw.OverrideTagPattern != nil {
		c.OverrideTagPattern = *raw.OverrideTagPattern
	}
	if n := raw.OverrideTagsRequired; n != nil {
		if *n < 0 || *n > math.MaxUint8 {
			return nil, fmt.Errorf("override_tags_required must be between 0 and %d, got %d", math.MaxUint8, *n)
		}
		c.OverrideTagsRequired = uint8(*n)
	}

	if b := raw.KeyFetchBackend; b != nil {
		switch *b {
		case entities.KeyFetchBackendGPG, entities.KeyFetchBackendHTTP:
			c.KeyFetchBackend = *b
		default:
			return nil, fmt.Errorf("key_fetch_backend must be %q or %q, got %q",
				entities.KeyFetchBackendGPG, entities.KeyFetchBackendHTTP, *b)
		}
	}
	if n := raw.MaxParallelism; n != nil {
		if *n < 1 || *n > math.MaxInt32 {
			return nil, fmt.Errorf("max_parallelism must be positive, got %d", *n)
		}
		c.MaxParallelism = int(*n)
	}
	if r := raw.KeyserverRequestsPerSecond; r != nil {
		if *r <= 0 || math.IsNaN(*r) {
			return nil, fmt.Errorf("keyserver_requests_per_second must be positive, got %v", *r)
		}
		c.KeyserverRequestsPerSecond = *r
	}
	return &c, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// DetectFormat picks the format from a file name: YAML for .yml and .yaml,
// TOML otherwise
func DetectFormat(name string) Format {
	if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
		return FormatYAML
	}
	return FormatTOML
}
