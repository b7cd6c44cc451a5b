package retrieval

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sweetpotato0/kbbridge/config"
	kberrors "github.com/sweetpotato0/kbbridge/errors"
)

// Constructor builds a Retriever from resolved credentials.
type Constructor func(creds config.Credentials) (Retriever, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register adds a backend constructor under a tag. Backends register
// themselves from an init function; a duplicate tag panics early.
func Register(tag string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[tag]; exists {
		panic(fmt.Sprintf("retrieval: backend %q registered twice", tag))
	}
	registry[tag] = ctor
}

// New builds the Retriever for the credentials' backend tag. Unknown tags
// fail fast with a named error listing the supported backends.
func New(creds config.Credentials) (Retriever, error) {
	registryMu.RLock()
	ctor, ok := registry[creds.BackendType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)",
			kberrors.ErrUnsupportedBackend, creds.BackendType, Supported())
	}
	return ctor(creds)
}

// Supported returns the registered backend tags, sorted.
func Supported() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
