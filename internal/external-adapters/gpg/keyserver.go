package gpg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"golang.org/x/time/rate"
)

// maxKeySize bounds a keyserver response; real public keys are a few KB
const maxKeySize = 1 << 20

// KeyImporter adds armored public keys to the keyring git verifies against
type KeyImporter interface {
	Import(ctx context.Context, armored []byte) error
}

// KeyServer fetches keys over HTTP from a VKS (keys.openpgp.org) or HKP
// keyserver and imports them into the local GPG keyring
type KeyServer struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	importer   KeyImporter
}

// NewKeyServer creates an HTTP keyserver client. keyserver may use the
// hkp://, hkps://, http:// or https:// scheme. requestsPerSecond <= 0
// disables rate limiting.
func NewKeyServer(keyserver string, requestsPerSecond float64, importer KeyImporter) (*KeyServer, error) {
	base, err := keyserverURL(keyserver)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &KeyServer{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		importer:   importer,
	}, nil
}

// keyserverURL maps keyserver notation onto an HTTP base URL
func keyserverURL(keyserver string) (string, error) {
	if !strings.Contains(keyserver, "://") {
		keyserver = "hkps://" + keyserver
	}
	u, err := url.Parse(keyserver)
	if err != nil {
		return "", fmt.Errorf("invalid keyserver %q: %w", keyserver, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid keyserver %q: no host", keyserver)
	}

	switch u.Scheme {
	case "hkp":
		u.Scheme = "http"
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), "11371")
		}
	case "hkps":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported keyserver scheme %q", u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// ReceiveKeys fetches and imports each fingerprint in turn, stopping at the
// first failure
func (k *KeyServer) ReceiveKeys(ctx context.Context, fingerprints []string) error {
	for _, fp := range fingerprints {
		if err := k.ReceiveKey(ctx, fp); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveKey fetches one key and imports it
func (k *KeyServer) ReceiveKey(ctx context.Context, fingerprint string) error {
	armored, err := k.FetchKey(ctx, fingerprint)
	if err != nil {
		return err
	}
	if err := k.importer.Import(ctx, armored); err != nil {
		return fmt.Errorf("failed to import key %s: %w", fingerprint, err)
	}
	return nil
}

// FetchKey downloads the key with exactly the given fingerprint and returns
// it armored. Other keys in the response are dropped.
func (k *KeyServer) FetchKey(ctx context.Context, fingerprint string) ([]byte, error) {
	fingerprint = strings.ToUpper(fingerprint)
	urls := []string{
		fmt.Sprintf("%s/vks/v1/by-fingerprint/%s", k.baseURL, fingerprint),
		fmt.Sprintf("%s/pks/lookup?op=get&options=mr&search=0x%s", k.baseURL, fingerprint),
	}

	var lastErr error
	for _, u := range urls {
		if err := k.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		entity, err := k.fetch(ctx, u, fingerprint)
		if err != nil {
			lastErr = err
			continue
		}
		return armorPublicKey(entity)
	}
	return nil, fmt.Errorf("failed to fetch key %s from %s: %w", fingerprint, k.baseURL, lastErr)
}

func (k *KeyServer) fetch(ctx context.Context, target, fingerprint string) (*openpgp.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyserver returned status %d", resp.StatusCode)
	}

	entities, err := openpgp.ReadArmoredKeyRing(io.LimitReader(resp.Body, maxKeySize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse key: %w", err)
	}
	// the fingerprint must match in full, never a short or long key id
	for _, entity := range entities {
		if fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint) == fingerprint {
			return entity, nil
		}
	}
	return nil, fmt.Errorf("no key matching fingerprint %s in response", fingerprint)
}

func armorPublicKey(entity *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := entity.Serialize(w); err != nil {
		return nil, fmt.Errorf("failed to serialize key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
