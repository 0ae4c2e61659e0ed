package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
)

// ProjectHash is the directory name Gemini derives from a project path.
func ProjectHash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// HashResolver maps project hashes back to candidate project paths. It is
// safe for concurrent use.
type HashResolver struct {
	mu     sync.Mutex
	known  map[string]string
	hashed map[string]bool
}

func NewHashResolver(paths ...string) *HashResolver {
	r := &HashResolver{known: map[string]string{}, hashed: map[string]bool{}}
	r.Add(paths...)
	return r
}

// Add registers more candidate paths.
func (r *HashResolver) Add(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if r.hashed[p] {
			continue
		}
		r.hashed[p] = true
		r.known[ProjectHash(p)] = p
	}
}

func (r *HashResolver) Resolve(hash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.known[hash]
	return p, ok
}

// Len returns the number of candidate paths.
func (r *HashResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hashed)
}
