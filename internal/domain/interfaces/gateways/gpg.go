package gateways

import "context"

// KeyServer receives public keys into the local GPG keyring
type KeyServer interface {
	// ReceiveKeys fetches all fingerprints in a single call
	ReceiveKeys(ctx context.Context, fingerprints []string) error

	// ReceiveKey fetches one fingerprint
	ReceiveKey(ctx context.Context, fingerprint string) error
}
