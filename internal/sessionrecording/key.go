package sessionrecording

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fernet/fernet-go"
)

// LoadOrGenerateKey returns the fernet key used to encrypt transcripts
// under dir, generating and persisting a fresh one at
// <dir>/fernet.key (mode 0600) the first time recording is enabled. The
// teacher keeps this key in its settings table via database.GetSetting;
// this gateway has no database, so the key lives next to the transcripts
// it protects instead.
func LoadOrGenerateKey(dir string) (*fernet.Key, error) {
	path := filepath.Join(dir, "fernet.key")

	if data, err := os.ReadFile(path); err == nil {
		key, err := fernet.DecodeKey(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode fernet key %s: %w", path, err)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read fernet key %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir %s: %w", dir, err)
	}

	var k fernet.Key
	k.Generate()
	if err := os.WriteFile(path, []byte(k.Encode()), 0o600); err != nil {
		return nil, fmt.Errorf("write fernet key %s: %w", path, err)
	}
	return &k, nil
}
