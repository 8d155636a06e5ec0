package security

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Key is one versioned secret. Material is never exposed by the ring.
type Key struct {
	ID       string
	Version  int
	Material []byte
	Window   KeyRotationWindow
}

// KeyRing holds the keys a component may use. Keys are ordered by version,
// newest first; the first key in service signs and every key in service
// verifies.
type KeyRing struct {
	keys []Key
	Now  func() time.Time
}

func NewKeyRing(keys ...Key) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("security: at least one key is required")
	}
	seen := map[string]struct{}{}
	normalized := make([]Key, 0, len(keys))
	for _, key := range keys {
		key.ID = strings.TrimSpace(key.ID)
		if key.ID == "" {
			return nil, fmt.Errorf("security: key id is required")
		}
		material := bytes.TrimSpace(key.Material)
		if len(material) == 0 {
			return nil, fmt.Errorf("security: key %q has no material", key.ID)
		}
		if key.Version <= 0 {
			key.Version = 1
		}
		ref := keyRef(key.ID, key.Version)
		if _, exists := seen[ref]; exists {
			return nil, fmt.Errorf("security: duplicate key %s", ref)
		}
		seen[ref] = struct{}{}
		key.Material = append([]byte(nil), material...)
		normalized = append(normalized, key)
	}
	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].Version > normalized[j].Version
	})
	return &KeyRing{
		keys: normalized,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Active returns the newest key in service at the ring's current time.
func (r *KeyRing) Active() (Key, bool) {
	usable := r.Usable()
	if len(usable) == 0 {
		return Key{}, false
	}
	return usable[0], true
}

// Usable lists the keys in service at the ring's current time, newest first.
func (r *KeyRing) Usable() []Key {
	if r == nil {
		return nil
	}
	now := r.now()
	out := make([]Key, 0, len(r.keys))
	for _, key := range r.keys {
		if key.Window.Allows(now) {
			out = append(out, copyKey(key))
		}
	}
	return out
}

// Lookup finds a key by id and version when it is in service.
func (r *KeyRing) Lookup(id string, version int) (Key, bool) {
	if r == nil {
		return Key{}, false
	}
	id = strings.TrimSpace(id)
	now := r.now()
	for _, key := range r.keys {
		if key.ID != id || (version > 0 && key.Version != version) {
			continue
		}
		if !key.Window.Allows(now) {
			return Key{}, false
		}
		return copyKey(key), true
	}
	return Key{}, false
}

func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

func (r *KeyRing) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func copyKey(key Key) Key {
	key.Material = append([]byte(nil), key.Material...)
	return key
}

func keyRef(id string, version int) string {
	return fmt.Sprintf("%s@v%d", id, version)
}
