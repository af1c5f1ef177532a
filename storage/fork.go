package storage

import "sync"

// Fork is a write-buffered view over a Database. Reads fall through to the
// backing store until a key has been written; writes stay in the buffer until
// Flush. Discarding a fork leaves the backing store untouched, which gives
// callers an atomic commit-or-abort unit for multi-key mutations.
type Fork struct {
	db     Database
	mu     sync.RWMutex
	writes map[string][]byte
}

// NewFork creates an empty fork over the provided backing store.
func NewFork(db Database) *Fork {
	return &Fork{
		db:     db,
		writes: make(map[string][]byte),
	}
}

func (f *Fork) Put(key []byte, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *Fork) Get(key []byte) ([]byte, error) {
	f.mu.RLock()
	value, ok := f.writes[string(key)]
	f.mu.RUnlock()
	if ok {
		return append([]byte(nil), value...), nil
	}
	return f.db.Get(key)
}

// WriteBatch buffers every entry like individual Puts would.
func (f *Fork) WriteBatch(writes map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, value := range writes {
		f.writes[key] = append([]byte(nil), value...)
	}
	return nil
}

// Flush commits all buffered mutations to the backing store as a single
// batch, so a failed flush leaves the store untouched. The buffer is cleared
// on success and retained on error.
func (f *Fork) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	if err := f.db.WriteBatch(f.writes); err != nil {
		return err
	}
	f.writes = make(map[string][]byte)
	return nil
}

// Discard drops all buffered mutations.
func (f *Fork) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = make(map[string][]byte)
}

// Close satisfies the Database interface. The backing store stays open; forks
// are transient views.
func (f *Fork) Close() {}
