package crowd

import (
	"strings"
	"testing"
)

func TestKeyPacksDomainAndOrdinal(t *testing.T) {
	k := MakeKey(DomainVenue, 7)
	if k.Domain() != DomainVenue {
		t.Fatalf("domain = %d, want %d", k.Domain(), DomainVenue)
	}
	if k.Ordinal() != 7 {
		t.Fatalf("ordinal = %d, want 7", k.Ordinal())
	}
	if KeyService != k {
		t.Fatalf("service key should be venue ordinal 7, got 0x%08x", uint32(KeyService))
	}
}

func TestRegistrySeedsBuiltins(t *testing.T) {
	r := NewKeyRegistry()
	for name, want := range map[string]Key{
		"idle":            KeyIdle,
		"line_overflow":   KeyLineOverflow,
		"move_to_counter": KeyMoveToCounter,
	} {
		got, ok := r.Lookup(name)
		if !ok || got != want {
			t.Fatalf("lookup %q = (%v, %v), want (%v, true)", name, got, ok, want)
		}
		if r.Name(want) != name {
			t.Fatalf("name of %v = %q, want %q", want, r.Name(want), name)
		}
	}
}

func TestRegistryInternsNewKeys(t *testing.T) {
	r := NewKeyRegistry()

	k, err := r.Register(DomainCommon, "dance")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if k.Domain() != DomainCommon {
		t.Fatalf("new key in domain %d, want common", k.Domain())
	}
	if got, ok := r.Lookup("dance"); !ok || got != k {
		t.Fatalf("lookup after register = (%v, %v)", got, ok)
	}
	if _, err = r.Register(DomainVenue, "dance"); err == nil {
		t.Fatal("duplicate name should be rejected across domains")
	}

	// fresh ordinals never collide with the built-ins
	for _, builtin := range []Key{KeyIdle, KeyPatrol, KeyExit, KeyDespawn, KeyEngaged} {
		if k == builtin {
			t.Fatalf("registered key collides with built-in %v", builtin)
		}
	}
}

func TestRegistryNameOfUnknownKey(t *testing.T) {
	r := NewKeyRegistry()
	name := r.Name(MakeKey(DomainVenue, 999))
	if !strings.HasPrefix(name, "key(0x") {
		t.Fatalf("unknown key name = %q, want hex form", name)
	}
}
