package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalDirProvider syncs documents from a directory on the local
// filesystem, such as a notes folder. Reads can fail at any time
// (permissions revoked, external drive unmounted), which is why the
// worker routes them through a circuit breaker.
type LocalDirProvider struct {
	name string
	root string
}

// NewLocalDirProvider creates a provider named name reading from root
func NewLocalDirProvider(name, root string) *LocalDirProvider {
	return &LocalDirProvider{name: name, root: root}
}

func (p *LocalDirProvider) Name() string       { return p.name }
func (p *LocalDirProvider) Capability() string { return p.name + "-sync" }

// Fetch lists the readable documents under the provider root
func (p *LocalDirProvider) Fetch(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p.root, err)
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		items = append(items, Item{
			ID:        filepath.Join(p.root, entry.Name()),
			Title:     strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			UpdatedAt: info.ModTime(),
		})
	}
	return items, nil
}

// ResolveCollection maps a subdirectory name to its absolute path
func (p *LocalDirProvider) ResolveCollection(ctx context.Context, name string) (string, error) {
	path := filepath.Join(p.root, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("resolving collection %s: %w", name, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("collection %s is not a directory", name)
	}
	return path, nil
}
