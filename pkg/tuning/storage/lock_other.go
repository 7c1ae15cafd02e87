//go:build !unix

package storage

import "sync"

var (
	fileLocksMu sync.Mutex
	fileLocks   = map[string]*sync.Mutex{}
)

// withFileLock runs fn while holding an in-process lock keyed by path.
// Platforms without flock only get intra-process exclusion.
func withFileLock(path string, fn func() error) error {
	fileLocksMu.Lock()
	mu, ok := fileLocks[path]
	if !ok {
		mu = &sync.Mutex{}
		fileLocks[path] = mu
	}
	fileLocksMu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	return fn()
}
