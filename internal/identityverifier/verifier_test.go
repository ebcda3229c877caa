package identityverifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/sshkeys"
)

func newTestServer(t *testing.T, body string, status int) (*httptest.Server, *Verifier) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q, want %q", got, userAgent)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	v := New(strings.TrimPrefix(srv.URL, "https://"))
	v.client = srv.Client()
	return srv, v
}

func genKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()
	pubBytes, _, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(pubBytes)
	if err != nil {
		t.Fatalf("ParseAuthorizedKey() error: %v", err)
	}
	return parsed, string(pubBytes)
}

func TestVerify_Match(t *testing.T) {
	key, line := genKey(t)
	srv, v := newTestServer(t, line, http.StatusOK)
	defer srv.Close()

	algo, err := v.Verify(context.Background(), "octocat", key)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if algo != "ssh-ed25519" {
		t.Errorf("Verify() algo = %q, want ssh-ed25519", algo)
	}
}

func TestVerify_Mismatch(t *testing.T) {
	key, _ := genKey(t)
	_, otherLine := genKey(t)
	srv, v := newTestServer(t, otherLine, http.StatusOK)
	defer srv.Close()

	if _, err := v.Verify(context.Background(), "octocat", key); err == nil {
		t.Fatal("Verify() expected error for mismatched key, got nil")
	}
}

func TestFetch_NotFound(t *testing.T) {
	srv, v := newTestServer(t, "", http.StatusNotFound)
	defer srv.Close()

	if _, err := v.Fetch(context.Background(), "octocat"); err == nil {
		t.Fatal("Fetch() expected error for 404, got nil")
	}
}

func TestFetch_TrimsEmptyLines(t *testing.T) {
	_, line1 := genKey(t)
	_, line2 := genKey(t)
	body := "\n" + line1 + "\n\n  " + line2 + "  \n\n"
	srv, v := newTestServer(t, body, http.StatusOK)
	defer srv.Close()

	lines, err := v.Fetch(context.Background(), "octocat")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Fetch() returned %d lines, want 2: %v", len(lines), lines)
	}
}

func TestFetch_RejectsInvalidIdentity(t *testing.T) {
	v := New("example.com")
	if _, err := v.Fetch(context.Background(), "-bad"); err == nil {
		t.Fatal("Fetch() expected validation error for bad identity, got nil")
	}
}
