// Package device provides the engine's external collaborators: a stable
// device identifier and an opaque telemetry snapshot attached to mutating
// license calls.
package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Generator produces a stable per-device identifier. The ID is a random
// UUID generated on first use and persisted to the config directory, so it
// survives restarts but never leaks hardware identifiers.
type Generator struct {
	mu  sync.Mutex
	dir string
	id  string
}

// NewGenerator creates a generator persisting under dir.
func NewGenerator(dir string) *Generator {
	return &Generator{dir: dir}
}

// ID returns the device identifier, creating and persisting it on first use.
func (g *Generator) ID(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.id != "" {
		return g.id, nil
	}

	path := filepath.Join(g.dir, "device_id")
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err == nil {
			g.id = id
			return id, nil
		}
	}

	if err := os.MkdirAll(g.dir, 0700); err != nil {
		return "", fmt.Errorf("create device ID directory: %w", err)
	}
	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persist device ID: %w", err)
	}

	g.id = id
	return id, nil
}
