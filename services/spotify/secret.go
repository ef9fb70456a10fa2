package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	cipherModulus = 33
	cipherOffset  = 9
)

// SecretProvider yields the current TOTP secret and the version id the token endpoint expects as totpVer
type SecretProvider interface {
	FetchCurrentSecret(ctx context.Context) (secret []byte, version string, err error)
}

// HTTPSecretProvider reads a registry of the form {"<version>": [int, ...], ...}
// and de-obfuscates the numerically greatest version.
type HTTPSecretProvider struct {
	client    *http.Client
	url       string
	userAgent string
}

func NewHTTPSecretProvider(client *http.Client, url, userAgent string) *HTTPSecretProvider {
	return &HTTPSecretProvider{client: client, url: url, userAgent: userAgent}
}

func (p *HTTPSecretProvider) FetchCurrentSecret(ctx context.Context) ([]byte, string, error) {
	status, body, err := get(ctx, p.client, "fetch secrets", p.url, p.userAgent, nil)
	if err != nil {
		return nil, "", err
	}
	if !isSuccess(status) {
		return nil, "", newUpstreamError("fetch secrets", status, nil)
	}

	var registry map[string]json.RawMessage
	if err := json.Unmarshal(body, &registry); err != nil {
		return nil, "", newUpstreamError("fetch secrets", status, fmt.Errorf("registry is not a JSON object: %w", err))
	}

	version, err := latestVersion(registry)
	if err != nil {
		return nil, "", err
	}

	cipher, err := parseCipher(version, registry[version])
	if err != nil {
		return nil, "", err
	}

	log.Debugf("%s Using secret version %s (%d bytes)", logcolors.LogSecret, version, len(cipher))
	return DeobfuscateSecret(cipher), version, nil
}

// latestVersion picks the key with the greatest integer value. Keys that are not integers are ignored.
func latestVersion(registry map[string]json.RawMessage) (string, error) {
	keys := make([]string, 0, len(registry))
	for key := range registry {
		keys = append(keys, key)
	}
	// Stable result when two keys parse to the same number
	sort.Strings(keys)

	var (
		best      string
		bestValue int64
		found     bool
	)
	for _, key := range keys {
		v, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			log.Debugf("%s Skipping non-numeric registry key %q", logcolors.LogSecret, key)
			continue
		}
		if !found || v > bestValue {
			best, bestValue, found = key, v, true
		}
	}

	if !found {
		return "", newUpstreamError("fetch secrets", 0, fmt.Errorf("registry has no numeric version keys"))
	}
	return best, nil
}

func parseCipher(version string, raw json.RawMessage) ([]int, error) {
	var cipher []int
	if err := json.Unmarshal(raw, &cipher); err != nil {
		return nil, fmt.Errorf("%w: version %s is not an array of integers", ErrInvalidSecretFormat, version)
	}
	if len(cipher) == 0 {
		return nil, fmt.Errorf("%w: version %s is empty", ErrInvalidSecretFormat, version)
	}
	return cipher, nil
}

// transformCipher applies the per-index XOR. It is its own inverse.
func transformCipher(values []int) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = v ^ ((i % cipherModulus) + cipherOffset)
	}
	return out
}

// DeobfuscateSecret reverses the registry obfuscation: each transformed value is
// written in base 10 and the concatenated digits are the HMAC key.
func DeobfuscateSecret(cipher []int) []byte {
	var sb strings.Builder
	for _, v := range transformCipher(cipher) {
		sb.WriteString(strconv.Itoa(v))
	}
	return []byte(sb.String())
}

// StaticSecretProvider serves a pinned cipher from configuration, skipping the registry
type StaticSecretProvider struct {
	Version string
	Cipher  []int
}

func (p StaticSecretProvider) FetchCurrentSecret(ctx context.Context) ([]byte, string, error) {
	if p.Version == "" || len(p.Cipher) == 0 {
		return nil, "", fmt.Errorf("%w: pinned secret needs both a version and a cipher", ErrInvalidSecretFormat)
	}
	return DeobfuscateSecret(p.Cipher), p.Version, nil
}
