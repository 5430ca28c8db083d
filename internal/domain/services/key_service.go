// Package services implements domain business logic and use cases.
package services

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/interfaces/gateways"
	"github.com/ochairo/capn/internal/domain/interfaces/services"
)

// ErrKeyFetchFailed is returned when at least one parallel key fetch fails
var ErrKeyFetchFailed = errors.New("error fetching GPG key")

// KeyFetchOptions selects the fetch strategy
type KeyFetchOptions struct {
	Parallel       bool // one call per fingerprint instead of a single batch
	MaxParallelism int  // worker pool size for parallel fetches
	Skip           bool // trust the local GPG keyring and never fetch
}

// keyService implements KeyService on top of a KeyServer
type keyService struct {
	server gateways.KeyServer
	opts   KeyFetchOptions
	logger interfaces.Logger
}

// NewKeyService creates a new key service with dependency injection
func NewKeyService(server gateways.KeyServer, opts KeyFetchOptions, logger interfaces.Logger) services.KeyService {
	if opts.MaxParallelism < 1 {
		opts.MaxParallelism = 1
	}
	return &keyService{server: server, opts: opts, logger: logger}
}

// FetchMissingKeys implements KeyService
func (s *keyService) FetchMissingKeys(ctx context.Context, keyring *entities.Keyring, emails []string) error {
	start := time.Now()
	defer func() {
		s.logger.Debug("GPG receive_keys completed", interfaces.F("duration_ms", time.Since(start).Milliseconds()))
	}()

	if s.opts.Skip {
		s.logger.Debug("Skipping key fetch, using local GPG keyring", interfaces.F("emails", len(emails)))
		keyring.MarkAvailable(emails)
		return nil
	}

	var fingerprints []string
	seen := make(map[string]bool)
	for _, email := range emails {
		if !keyring.RequiresPublicKeyDownload(email) {
			continue
		}
		if fp, ok := keyring.FingerprintFor(email); ok && !seen[fp] {
			seen[fp] = true
			fingerprints = append(fingerprints, fp)
		}
	}

	if len(fingerprints) > 0 {
		var err error
		if s.opts.Parallel {
			err = s.fetchParallel(ctx, fingerprints)
		} else {
			err = s.server.ReceiveKeys(ctx, fingerprints)
		}
		if err != nil {
			return err
		}
	}

	keyring.MarkAvailable(emails)
	return nil
}

func (s *keyService) fetchParallel(ctx context.Context, fingerprints []string) error {
	failed := make([]bool, len(fingerprints))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxParallelism)
	for i, fp := range fingerprints {
		g.Go(func() error {
			s.logger.Debug("Receiving key", interfaces.F("fingerprint", fp))
			if err := s.server.ReceiveKey(ctx, fp); err != nil {
				s.logger.Error("Error receiving key", interfaces.F("fingerprint", fp), interfaces.F("error", err))
				failed[i] = true
			}
			// failures are aggregated once every fingerprint was attempted
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failed {
		if f {
			return ErrKeyFetchFailed
		}
	}
	return nil
}
