package crowd

import (
	"errors"
	"testing"
)

func TestTableOverlaysDerivedSetOverBase(t *testing.T) {
	base := &Archetype{ID: "walker"}
	child := &Archetype{ID: "patron", Base: base}

	tb := NewTable()
	baseIdle := baseState{key: KeyIdle}
	if err := tb.Register(FidelityActive, "walker", baseIdle); err != nil {
		t.Fatalf("register base: %v", err)
	}

	st, err := tb.Resolve(child, FidelityActive, KeyIdle)
	if err != nil {
		t.Fatalf("resolve through base chain: %v", err)
	}
	if st.Key() != KeyIdle {
		t.Fatalf("resolved key %v, want idle", st.Key())
	}

	// the derived archetype overrides the inherited state
	override := baseState{key: KeyIdle, interruptible: true}
	if err = tb.Register(FidelityActive, "patron", override); err != nil {
		t.Fatalf("register override: %v", err)
	}
	st, err = tb.Resolve(child, FidelityActive, KeyIdle)
	if err != nil {
		t.Fatalf("resolve override: %v", err)
	}
	if !st.Interruptible() {
		t.Fatal("expected the derived registration to win")
	}

	// the base archetype still resolves its own
	st, err = tb.Resolve(base, FidelityActive, KeyIdle)
	if err != nil {
		t.Fatalf("resolve base: %v", err)
	}
	if st.Interruptible() {
		t.Fatal("base resolution must not see the derived override")
	}
}

func TestTableMissReportsMissingAsset(t *testing.T) {
	tb := NewTable()
	arch := &Archetype{ID: "walker"}

	_, err := tb.Resolve(arch, FidelityActive, KeyBrowse)
	if !errors.Is(err, ErrMissingAsset) {
		t.Fatalf("expected ErrMissingAsset, got %v", err)
	}
	if tb.Resolvable(arch, FidelityActive, KeyBrowse) {
		t.Fatal("resolvable should report false for a miss")
	}
}

func TestTableFidelitySetsAreIndependent(t *testing.T) {
	tb := NewTable()
	if err := tb.Register(FidelityActive, "walker", baseState{key: KeyPatrol}); err != nil {
		t.Fatalf("register: %v", err)
	}
	arch := &Archetype{ID: "walker"}

	if _, err := tb.Resolve(arch, FidelityActive, KeyPatrol); err != nil {
		t.Fatalf("active resolve: %v", err)
	}
	if _, err := tb.Resolve(arch, FidelityReduced, KeyPatrol); !errors.Is(err, ErrMissingAsset) {
		t.Fatalf("reduced resolve should miss, got %v", err)
	}
}

func TestTableRejectsDuplicateRegistration(t *testing.T) {
	tb := NewTable()
	if err := tb.Register(FidelityActive, "walker", baseState{key: KeyIdle}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := tb.Register(FidelityActive, "walker", baseState{key: KeyIdle}); err == nil {
		t.Fatal("duplicate key for the same set should error")
	}
}
