package service

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MemoryResources resolves inline dependency contents from an in-memory
// table. Applications register bundled resources at startup.
type MemoryResources struct {
	mu    sync.RWMutex
	files map[string]string
}

func NewMemoryResources() *MemoryResources {
	return &MemoryResources{files: make(map[string]string)}
}

// Register stores the contents served for a url.
func (m *MemoryResources) Register(url, contents string) {
	m.mu.Lock()
	m.files[url] = contents
	m.mu.Unlock()
}

func (m *MemoryResources) Contents(url string) (string, error) {
	m.mu.RLock()
	c, ok := m.files[url]
	m.mu.RUnlock()
	if !ok {
		return "", errors.Wrap(ErrUnknownResource, url)
	}
	return c, nil
}

// DirResources resolves inline dependency contents from files under a
// root directory, typically the same directory the HTTP server mounts
// for static files.
type DirResources struct {
	root string
}

func NewDirResources(root string) *DirResources {
	return &DirResources{root: root}
}

func (d *DirResources) Contents(url string) (string, error) {
	rel := path.Clean("/" + strings.TrimPrefix(url, "/"))[1:]
	if rel == "" || !fs.ValidPath(rel) {
		return "", errors.Wrap(ErrUnknownResource, url)
	}
	b, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(ErrUnknownResource, url)
		}
		return "", errors.Wrapf(err, "read resource %s", url)
	}
	return string(b), nil
}
