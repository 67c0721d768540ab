package kv

import (
	"fmt"
	"sync"

	"github.com/zarlcorp/core/pkg/zfilesystem"
	"github.com/zarlcorp/core/pkg/zstore"
)

const collectionName = "storage"

// entry is one stored item. The key is kept alongside the value so Clear
// can enumerate keys from the collection.
type entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Encrypted is a KV persisted as an encrypted zstore collection.
type Encrypted struct {
	mu    sync.Mutex
	store *zstore.Store
	items *zstore.Collection[entry]
}

// OpenEncrypted opens or initializes an encrypted store on fsys.
func OpenEncrypted(fsys zfilesystem.ReadWriteFileFS, passphrase []byte) (*Encrypted, error) {
	s, err := zstore.Open(fsys, passphrase)
	if err != nil {
		return nil, fmt.Errorf("open encrypted storage: %w", err)
	}

	col, err := zstore.NewCollection[entry](s, collectionName)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open encrypted storage: collection: %w", err)
	}

	return &Encrypted{store: s, items: col}, nil
}

// GetItem returns the value for key. Any read failure is reported as
// ErrNotFound with the cause attached.
func (e *Encrypted) GetItem(key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it, err := e.items.Get(key)
	if err != nil {
		return "", fmt.Errorf("get %s: %w (%v)", key, ErrNotFound, err)
	}
	return it.Value, nil
}

func (e *Encrypted) SetItem(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.items.Put(key, entry{Key: key, Value: value}); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes key. Removing a missing key is not an error.
func (e *Encrypted) RemoveItem(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.remove(key)
}

// Clear removes every stored key.
func (e *Encrypted) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.items.List()
	if err != nil {
		return fmt.Errorf("clear: list: %w", err)
	}

	for _, it := range all {
		if err := e.remove(it.Key); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return nil
}

// Close releases the underlying store and its key material.
func (e *Encrypted) Close() error {
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close encrypted storage: %w", err)
	}
	return nil
}

func (e *Encrypted) remove(key string) error {
	if err := e.items.Delete(key); err != nil {
		if _, getErr := e.items.Get(key); getErr != nil {
			// already gone
			return nil
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
