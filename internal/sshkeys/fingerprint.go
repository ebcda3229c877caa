package sshkeys

import (
	"fmt"

	"golang.org/x/crypto/ssh"
)

// GetPublicKeyFingerprint calculates the SHA256 fingerprint of an SSH public key.
// The publicKey should be in SSH authorized_keys format (e.g. "ssh-ed25519 AAAA...").
// Returns the fingerprint in standard format (SHA256:xxx).
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}

	return ssh.FingerprintSHA256(parsed), nil
}

// GetPublicKeyAlgorithm returns the algorithm type (e.g. "ssh-ed25519") of an
// SSH public key in authorized_keys format.
func GetPublicKeyAlgorithm(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get algorithm: public key is empty")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get algorithm: parse public key: %w", err)
	}

	return parsed.Type(), nil
}

// Fingerprint computes the SHA-256 fingerprint of a live ssh.PublicKey, as
// offered during an SSH auth callback. This is the fast path used by
// SessionFSM, which never round-trips through authorized_keys text.
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// NormalizedAuthorizedLine renders key in the "<algo> <base64>" form used to
// compare against identity-provider key lines, dropping any trailing
// comment.
func NormalizedAuthorizedLine(key ssh.PublicKey) string {
	return fmt.Sprintf("%s %s", key.Type(), marshalBase64(key))
}

func marshalBase64(key ssh.PublicKey) string {
	line := string(ssh.MarshalAuthorizedKey(key))
	// ssh.MarshalAuthorizedKey yields "<algo> <base64>\n"; split and take
	// the base64 field only.
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			rest := line[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == ' ' || rest[j] == '\n' {
					return rest[:j]
				}
			}
			return trimNewline(rest)
		}
	}
	return ""
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
