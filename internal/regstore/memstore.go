package regstore

import (
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store implementation.
//
// It backs tests on every platform and serves as the store on non-Windows
// builds, where no real registry exists. Lookups are case-insensitive like
// the real registry; listing preserves the original key casing.
//
// Beyond the Store interface it offers mutation and fault-injection helpers
// so tests can model denied keys and writes that report success without
// taking effect.
type MemStore struct {
	mu   sync.RWMutex
	keys map[string]*memKey // lowercased path -> key

	denyRead  map[string]bool // lowercased path -> read denied
	denyWrite map[string]bool // lowercased path -> write denied
	swallow   map[string]bool // lowercased path -> writes accepted but dropped
}

type memKey struct {
	path    string // original casing
	strings map[string]string
	dwords  map[string]uint32
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		keys:      make(map[string]*memKey),
		denyRead:  make(map[string]bool),
		denyWrite: make(map[string]bool),
		swallow:   make(map[string]bool),
	}
}

func lower(s string) string { return strings.ToLower(s) }

// ensureKey creates the key and all its ancestors if missing.
// Caller must hold the write lock.
func (m *MemStore) ensureKey(path string) *memKey {
	lp := lower(path)
	if k, ok := m.keys[lp]; ok {
		return k
	}
	// Create ancestors so Subkeys sees the hierarchy
	if idx := strings.LastIndex(path, `\`); idx > 0 {
		m.ensureKey(path[:idx])
	}
	k := &memKey{
		path:    path,
		strings: make(map[string]string),
		dwords:  make(map[string]uint32),
	}
	m.keys[lp] = k
	return k
}

// CreateKey adds an empty key (and its ancestors).
func (m *MemStore) CreateKey(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureKey(path)
}

// PutString sets a string value, creating the key if needed.
func (m *MemStore) PutString(path, name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureKey(path).strings[lower(name)] = value
}

// PutDWord sets a 32-bit integer value, creating the key if needed.
func (m *MemStore) PutDWord(path, name string, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureKey(path).dwords[lower(name)] = value
}

// DeleteValue removes a value of either type from the key, if present.
func (m *MemStore) DeleteValue(path, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[lower(path)]; ok {
		delete(k.strings, lower(name))
		delete(k.dwords, lower(name))
	}
}

// DeleteKey removes a key and all its descendants.
func (m *MemStore) DeleteKey(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := lower(path)
	for lp := range m.keys {
		if lp == prefix || strings.HasPrefix(lp, prefix+`\`) {
			delete(m.keys, lp)
		}
	}
}

// DenyRead makes reads of the given key fail with ErrAccessDenied.
func (m *MemStore) DenyRead(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denyRead[lower(path)] = true
}

// DenyWrite makes writes to the given key fail with ErrAccessDenied.
func (m *MemStore) DenyWrite(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denyWrite[lower(path)] = true
}

// AllowWrite clears a previous DenyWrite for the given key.
func (m *MemStore) AllowWrite(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.denyWrite, lower(path))
}

// SwallowWrites makes writes to the given key report success without
// changing the stored value. Models ACL enforcement that is invisible to
// the write call itself.
func (m *MemStore) SwallowWrites(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swallow[lower(path)] = true
}

// Subkeys returns the names of the direct child keys of path.
func (m *MemStore) Subkeys(path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lp := lower(path)
	if m.denyRead[lp] {
		return nil, ErrAccessDenied
	}
	if _, ok := m.keys[lp]; !ok {
		return nil, ErrNotExist
	}

	prefix := lp + `\`
	var names []string
	for childLP, child := range m.keys {
		if !strings.HasPrefix(childLP, prefix) {
			continue
		}
		rest := child.path[len(prefix):]
		if strings.Contains(rest, `\`) {
			continue // not a direct child
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

// GetString reads a string value from the key at path.
func (m *MemStore) GetString(path, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lp := lower(path)
	if m.denyRead[lp] {
		return "", ErrAccessDenied
	}
	k, ok := m.keys[lp]
	if !ok {
		return "", ErrNotExist
	}
	v, ok := k.strings[lower(name)]
	if !ok {
		return "", ErrNotExist
	}
	return v, nil
}

// GetDWord reads a 32-bit integer value from the key at path.
func (m *MemStore) GetDWord(path, name string) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lp := lower(path)
	if m.denyRead[lp] {
		return 0, ErrAccessDenied
	}
	k, ok := m.keys[lp]
	if !ok {
		return 0, ErrNotExist
	}
	v, ok := k.dwords[lower(name)]
	if !ok {
		return 0, ErrNotExist
	}
	return v, nil
}

// SetDWord writes a 32-bit integer value to the key at path.
func (m *MemStore) SetDWord(path, name string, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lp := lower(path)
	if m.denyWrite[lp] {
		return ErrAccessDenied
	}
	k, ok := m.keys[lp]
	if !ok {
		return ErrNotExist
	}
	if m.swallow[lp] {
		return nil // reported success, value unchanged
	}
	k.dwords[lower(name)] = value
	return nil
}
