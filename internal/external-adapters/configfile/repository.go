package configfile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

// ErrConfigNotFound is returned when none of the configuration files exist
var ErrConfigNotFound = errors.New("no .capn configuration file found in the root of the repository")

// FileNames lists the configuration files tried, in order
var FileNames = []string{".capn", ".capn.toml", ".capn.yml", ".capn.yaml"}

// FileReader reads a file from the repository root
type FileReader interface {
	ReadFile(ctx context.Context, path string) (string, error)
}

// ConfigRepository implements repositories.ConfigRepository on top of the
// repository's files
type ConfigRepository struct {
	files  FileReader
	parser *Parser
	logger interfaces.Logger
}

// NewConfigRepository creates a configuration repository reading through files
func NewConfigRepository(files FileReader, logger interfaces.Logger) *ConfigRepository {
	return &ConfigRepository{
		files:  files,
		parser: NewParser(),
		logger: logger,
	}
}

// LoadConfig reads and parses the first configuration file that exists
func (r *ConfigRepository) LoadConfig(ctx context.Context) (*entities.Config, error) {
	for _, name := range FileNames {
		content, err := r.files.ReadFile(ctx, name)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		r.logger.Debug("Loading configuration", interfaces.F("file", name))
		config, err := r.parser.Parse([]byte(content), DetectFormat(name))
		if err != nil {
			return nil, fmt.Errorf("invalid configuration in %s: %w", name, err)
		}
		return config, nil
	}
	return nil, ErrConfigNotFound
}
