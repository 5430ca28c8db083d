// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/ochairo/capn/internal/domain/entities"
)

// ConfigRepository defines the interface for loading the repository's capn configuration
type ConfigRepository interface {
	// LoadConfig reads and parses the first configuration file found
	LoadConfig(ctx context.Context) (*entities.Config, error)
}
