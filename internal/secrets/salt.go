package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SaltPath returns the sidecar salt file for a database path.
func SaltPath(dbPath string) string {
	return dbPath + ".salt"
}

// LoadOrCreateSalt reads the salt at path, creating a fresh one with owner-only
// permissions when the file does not exist yet.
func LoadOrCreateSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != SaltSize {
			return nil, fmt.Errorf("%w: %s holds %d bytes", ErrInvalidSalt, path, len(data))
		}
		return data, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create salt directory: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}
