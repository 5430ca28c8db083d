// Package gpg receives public keys into the local GPG keyring, either through
// the gpg command line or over HTTP from a VKS/HKP keyserver.
package gpg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Client drives the gpg binary
type Client struct {
	binary    string
	keyserver string
}

// NewClient creates a gpg client that receives keys from keyserver
func NewClient(keyserver string) *Client {
	return &Client{binary: "gpg", keyserver: keyserver}
}

// ReceiveKeys runs `gpg --keyserver <ks> --recv-keys <fps...>`. gpg's output
// is discarded; only the exit code matters.
func (c *Client) ReceiveKeys(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	args := append([]string{"--keyserver", c.keyserver, "--recv-keys"}, fingerprints...)

	//nolint:gosec // G204: fingerprints come from the team roster, passed as separate arguments
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return exitError(cmd.Run())
}

// ReceiveKey receives a single fingerprint
func (c *Client) ReceiveKey(ctx context.Context, fingerprint string) error {
	return c.ReceiveKeys(ctx, []string{fingerprint})
}

// Import adds armored public keys to the local keyring with `gpg --batch --import`
func (c *Client) Import(ctx context.Context, armored []byte) error {
	//nolint:gosec // G204: fixed arguments
	cmd := exec.CommandContext(ctx, c.binary, "--batch", "--import")
	cmd.Stdin = bytes.NewReader(armored)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := exitError(cmd.Run()); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("call to GPG keyserver failed with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("failed to run gpg: %w", err)
}
