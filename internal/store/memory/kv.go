package memory

import (
	"sync"

	"github.com/google/uuid"
	"github.com/poltrona/poltrona/internal/store"
)

// KV implements store.KV in memory. It is the tab-scoped tier: data lives
// only as long as the process.
type KV struct {
	mu sync.RWMutex

	id      string
	entries map[string]string
}

// NewKV creates an empty tab-scoped store with a random instance id.
func NewKV() *KV {
	return &KV{
		id:      uuid.NewString(),
		entries: make(map[string]string),
	}
}

// ID identifies this store instance in logs.
func (k *KV) ID() string {
	return k.id
}

func (k *KV) Get(key string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	v, ok := k.entries[key]
	if !ok {
		return "", store.ErrKeyNotFound
	}
	return v, nil
}

func (k *KV) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.entries[key] = value
	return nil
}

func (k *KV) Delete(keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range keys {
		delete(k.entries, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (k *KV) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}
