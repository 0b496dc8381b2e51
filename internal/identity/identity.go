// Package identity produces a durable opaque user id for the local
// client, persisted to a well-known file across sessions.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultFileName is the identity file under the user's home directory.
const DefaultFileName = ".sapiens/user_id"

// Manager reads and writes the stored user id.
type Manager struct {
	path string
}

// NewManager creates a Manager storing the id at path. An empty path
// resolves to DefaultFileName under the user's home directory.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("identity: resolve home: %w", err)
		}
		path = filepath.Join(home, DefaultFileName)
	}
	return &Manager{path: path}, nil
}

// GetOrCreate returns the stored user id, generating and persisting a
// new one if none exists. Repeated calls return the same id; there is
// no network involved.
func (m *Manager) GetOrCreate() (string, error) {
	data, err := os.ReadFile(m.path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("identity: read %s: %w", m.path, err)
	}

	id := "user_" + uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return "", fmt.Errorf("identity: create dir: %w", err)
	}
	if err := os.WriteFile(m.path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("identity: write %s: %w", m.path, err)
	}
	return id, nil
}
