// Package identityverifier fetches an identity's published SSH keys over
// HTTPS and checks a presented key against them, per spec §4.1.
package identityverifier

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/gwerrors"
	"github.com/theykk/agentman-gateway/internal/identity"
	"github.com/theykk/agentman-gateway/internal/sshkeys"
)

const (
	userAgent = "agentman-gateway/0.1"
	timeout   = 10 * time.Second
)

// Verifier fetches and checks identity public keys against a key-publishing
// host (e.g. github.com).
type Verifier struct {
	Host   string
	client *http.Client
}

// New returns a Verifier that fetches keys from https://<host>/<identity>.keys.
func New(host string) *Verifier {
	return &Verifier{
		Host:   host,
		client: &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient overrides the HTTP client used for key fetches. Exposed so
// callers outside this package can point a Verifier at an httptest server
// in tests; production callers never need it.
func (v *Verifier) SetHTTPClient(c *http.Client) {
	v.client = c
}

// Fetch issues an HTTPS GET for identity's published keys and returns the
// newline-separated non-empty, trimmed lines of the response body.
func (v *Verifier) Fetch(ctx context.Context, ident string) ([]string, error) {
	if err := identity.ValidateIdentity(ident); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := "https://" + v.Host + "/" + ident + ".keys"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, gwerrors.Transient(err, "build request for %s", ident)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, gwerrors.Transient(err, "fetch keys for %s", ident)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gwerrors.NotFound("no published keys for %s", ident)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gwerrors.Transient(nil, "fetching keys for %s: status %d", ident, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.Transient(err, "read key-list body for %s", ident)
	}

	var lines []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// Verify fetches ident's keys and checks whether presented belongs to it,
// comparing the normalized "<algo> <base64>" prefix (ignoring trailing
// comment). Returns the matched key's algorithm on success.
func (v *Verifier) Verify(ctx context.Context, ident string, presented ssh.PublicKey) (algorithm string, err error) {
	lines, err := v.Fetch(ctx, ident)
	if err != nil {
		return "", err
	}

	presentedNorm := sshkeys.NormalizedAuthorizedLine(presented)

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		candidateNorm := fields[0] + " " + fields[1]
		if candidateNorm == presentedNorm {
			return presented.Type(), nil
		}
	}
	return "", gwerrors.AuthRejected("key not found in %s's published keys (%d checked)", ident, len(lines))
}
