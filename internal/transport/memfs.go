package transport

import (
	"context"
	"sync"

	"agentsup.dev/supervisor/internal/provider"
)

// MemFS is an in-memory WorkspaceFS double keyed by relative path.
type MemFS struct {
	mu       sync.Mutex
	Settings provider.Settings
	Files    map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{Files: make(map[string][]byte)}
}

func (m *MemFS) ReadSettings(_ context.Context) (provider.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Settings, nil
}

func (m *MemFS) WriteFile(_ context.Context, relPath string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.Files[relPath] = cp
	return nil
}
