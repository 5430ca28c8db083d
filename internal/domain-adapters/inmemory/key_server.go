package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// KeyServer records the fingerprints it is asked for. Fingerprints listed
// in Failing make the call fail.
type KeyServer struct {
	mu       sync.Mutex
	failing  map[string]bool
	batches  [][]string
	received []string
}

// NewKeyServer creates a key server that fails for the given fingerprints
func NewKeyServer(failing ...string) *KeyServer {
	ks := &KeyServer{failing: make(map[string]bool)}
	for _, fp := range failing {
		ks.failing[fp] = true
	}
	return ks
}

// ReceiveKeys implements KeyServer
func (ks *KeyServer) ReceiveKeys(_ context.Context, fingerprints []string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.batches = append(ks.batches, slices.Clone(fingerprints))
	for _, fp := range fingerprints {
		if ks.failing[fp] {
			return fmt.Errorf("call to GPG keyserver failed for %s", fp)
		}
	}
	ks.received = append(ks.received, fingerprints...)
	return nil
}

// ReceiveKey implements KeyServer
func (ks *KeyServer) ReceiveKey(_ context.Context, fingerprint string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.failing[fingerprint] {
		return fmt.Errorf("call to GPG keyserver failed for %s", fingerprint)
	}
	ks.received = append(ks.received, fingerprint)
	return nil
}

// Batches returns the fingerprint lists passed to ReceiveKeys
func (ks *KeyServer) Batches() [][]string {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return slices.Clone(ks.batches)
}

// Received returns the fingerprints fetched successfully, sorted
func (ks *KeyServer) Received() []string {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	out := slices.Clone(ks.received)
	slices.Sort(out)
	return out
}
