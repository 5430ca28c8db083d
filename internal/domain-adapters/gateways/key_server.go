package gateways

import (
	"context"
	"fmt"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
	"github.com/ochairo/capn/internal/domain/interfaces/gateways"
	"github.com/ochairo/capn/internal/external-adapters/gpg"
)

// keyServer wraps a gpg adapter backend to implement the KeyServer gateway
type keyServer struct {
	backend gateways.KeyServer
	name    string
	logger  interfaces.Logger
}

// NewKeyServer returns the key fetch backend selected by configuration:
// `gpg --recv-keys`, or HTTP fetches imported with `gpg --import`
func NewKeyServer(config entities.VerifyGitCommitsConfig, logger interfaces.Logger) (gateways.KeyServer, error) {
	client := gpg.NewClient(config.Keyserver)

	switch config.KeyFetchBackend {
	case "", entities.KeyFetchBackendGPG:
		return &keyServer{backend: client, name: entities.KeyFetchBackendGPG, logger: logger}, nil
	case entities.KeyFetchBackendHTTP:
		ks, err := gpg.NewKeyServer(config.Keyserver, config.KeyserverRequestsPerSecond, client)
		if err != nil {
			return nil, err
		}
		return &keyServer{backend: ks, name: entities.KeyFetchBackendHTTP, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown key fetch backend %q", config.KeyFetchBackend)
	}
}

// ReceiveKeys implements KeyServer
func (k *keyServer) ReceiveKeys(ctx context.Context, fingerprints []string) error {
	k.logger.Debug("Receiving keys", interfaces.F("backend", k.name), interfaces.F("fingerprints", fingerprints))
	if err := k.backend.ReceiveKeys(ctx, fingerprints); err != nil {
		return fmt.Errorf("failed to receive GPG keys: %w", err)
	}
	return nil
}

// ReceiveKey implements KeyServer
func (k *keyServer) ReceiveKey(ctx context.Context, fingerprint string) error {
	if err := k.backend.ReceiveKey(ctx, fingerprint); err != nil {
		return fmt.Errorf("failed to receive GPG key %s: %w", fingerprint, err)
	}
	return nil
}
