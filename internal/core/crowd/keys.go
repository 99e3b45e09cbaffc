package crowd

import (
	"fmt"
	"sync"
)

// Key identifies a behavior state. Keys are interned integers, not parsed
// strings: the high half carries the domain, the low half an ordinal within
// it. Asset files refer to keys by name; names are resolved once at bind time
// through a KeyRegistry.
type Key uint32

// Domain groups keys by the subsystem that owns them.
type Domain uint8

const (
	DomainNone Domain = iota
	// DomainCommon holds the street-level lifecycle states every archetype has.
	DomainCommon
	// DomainVenue holds the facility flow states (browsing, queueing, service).
	DomainVenue
)

// MakeKey composes a key from a domain tag and an ordinal.
func MakeKey(d Domain, ordinal uint16) Key {
	return Key(uint32(d)<<16 | uint32(ordinal))
}

// Domain returns the domain tag of the key.
func (k Key) Domain() Domain {
	return Domain(k >> 16)
}

// Ordinal returns the within-domain ordinal of the key.
func (k Key) Ordinal() uint16 {
	return uint16(k & 0xFFFF)
}

// Built-in state keys. Extensions register their own through KeyRegistry.
const (
	KeyNone Key = 0

	KeyIdle    Key = Key(uint32(DomainCommon)<<16 | 1)
	KeyPatrol  Key = Key(uint32(DomainCommon)<<16 | 2)
	KeyExit    Key = Key(uint32(DomainCommon)<<16 | 3)
	KeyDespawn Key = Key(uint32(DomainCommon)<<16 | 4)
	KeyEngaged Key = Key(uint32(DomainCommon)<<16 | 5)

	KeyEnter         Key = Key(uint32(DomainVenue)<<16 | 1)
	KeyBrowse        Key = Key(uint32(DomainVenue)<<16 | 2)
	KeyMoveToCounter Key = Key(uint32(DomainVenue)<<16 | 3)
	KeyLineMain      Key = Key(uint32(DomainVenue)<<16 | 4)
	KeyLineOverflow  Key = Key(uint32(DomainVenue)<<16 | 5)
	KeyAwaitService  Key = Key(uint32(DomainVenue)<<16 | 6)
	KeyService       Key = Key(uint32(DomainVenue)<<16 | 7)
)

// KeyRegistry maps key names to interned keys and back. A fresh registry is
// pre-seeded with the built-in keys; archetype extensions add theirs through
// Register before assets are bound.
type KeyRegistry struct {
	mu      sync.RWMutex
	byName  map[string]Key
	byKey   map[Key]string
	nextOrd map[Domain]uint16
}

func NewKeyRegistry() *KeyRegistry {
	r := &KeyRegistry{
		byName:  make(map[string]Key, 16),
		byKey:   make(map[Key]string, 16),
		nextOrd: make(map[Domain]uint16, 4),
	}
	seed := map[string]Key{
		"idle":            KeyIdle,
		"patrol":          KeyPatrol,
		"exit":            KeyExit,
		"despawn":         KeyDespawn,
		"engaged":         KeyEngaged,
		"enter":           KeyEnter,
		"browse":          KeyBrowse,
		"move_to_counter": KeyMoveToCounter,
		"line_main":       KeyLineMain,
		"line_overflow":   KeyLineOverflow,
		"await_service":   KeyAwaitService,
		"service":         KeyService,
	}
	for name, k := range seed {
		r.byName[name] = k
		r.byKey[k] = name
		if ord := k.Ordinal(); ord >= r.nextOrd[k.Domain()] {
			r.nextOrd[k.Domain()] = ord + 1
		}
	}
	return r
}

// Register interns a new key name within the domain and returns it. Names are
// unique across domains; registering an existing name returns an error.
func (r *KeyRegistry) Register(d Domain, name string) (Key, error) {
	if name == "" {
		return KeyNone, fmt.Errorf("%w: empty key name", ErrMissingAsset)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return KeyNone, fmt.Errorf("key %q already registered", name)
	}
	ord := r.nextOrd[d]
	if ord == 0 {
		ord = 1
	}
	k := MakeKey(d, ord)
	r.nextOrd[d] = ord + 1
	r.byName[name] = k
	r.byKey[k] = name
	return k, nil
}

// Lookup resolves a key name. The boolean reports whether the name is known.
func (r *KeyRegistry) Lookup(name string) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byName[name]
	return k, ok
}

// Name returns the registered name of k, or a hex form for unknown keys.
func (r *KeyRegistry) Name(k Key) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.byKey[k]; ok {
		return name
	}
	return fmt.Sprintf("key(0x%08x)", uint32(k))
}
