package crowd

import (
	"testing"

	"github.com/zeusync/crowdsim/internal/core/assets"
)

func TestLibraryBindsDefaultScene(t *testing.T) {
	lib, err := NewLibrary(assets.DefaultBundle(), NewKeyRegistry())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	patron, ok := lib.Archetype("patron")
	if !ok {
		t.Fatal("patron missing")
	}
	if !patron.Venue {
		t.Fatal("patron should be venue-flagged")
	}
	if patron.Base == nil || patron.Base.ID != "walker" {
		t.Fatalf("patron base = %+v, want walker", patron.Base)
	}
	if patron.PendingPath == nil || patron.PendingPath.ID != "to-venue" {
		t.Fatalf("patron pending path = %+v", patron.PendingPath)
	}

	// unset parameters inherit down the base chain
	if patron.IdleDwell != (assets.Range{Min: 2, Max: 6}) {
		t.Fatalf("patron idle dwell = %+v, want the walker's", patron.IdleDwell)
	}
	if patron.Fallback != KeyIdle {
		t.Fatalf("patron fallback = %v, want idle", patron.Fallback)
	}
	if got := patron.Timeout(KeyBrowse, assets.Range{}); got != (assets.Range{Min: 20, Max: 30}) {
		t.Fatalf("patron browse timeout = %+v, want the walker's", got)
	}
	if patron.EntryNode == nil || patron.EntryNode.ID != "street-hub" {
		t.Fatalf("patron entry node = %+v", patron.EntryNode)
	}

	// explicit values are not overwritten by the base
	if patron.BrowseHops != (assets.IntRange{Min: 2, Max: 4}) {
		t.Fatalf("patron browse hops = %+v", patron.BrowseHops)
	}

	p, ok := lib.Path("high-street")
	if !ok {
		t.Fatal("high-street missing")
	}
	if p.Next == nil || p.Next.ID != "high-street-end" {
		t.Fatalf("high-street end node = %+v", p.Next)
	}
	if len(p.Waypoints) != 4 {
		t.Fatalf("high-street has %d waypoints", len(p.Waypoints))
	}

	if lib.Facility == nil {
		t.Fatal("facility missing")
	}
	if len(lib.Facility.MainAnchors) != 3 || len(lib.Facility.OverflowAnchors) != 4 {
		t.Fatalf("line anchors %d/%d, want 3/4",
			len(lib.Facility.MainAnchors), len(lib.Facility.OverflowAnchors))
	}
	if len(lib.SpawnPoints) != 2 {
		t.Fatalf("spawn points = %d, want 2", len(lib.SpawnPoints))
	}
}

func TestLibraryRejectsBaseCycle(t *testing.T) {
	b := assets.DefaultBundle()
	for i := range b.Archetypes {
		if b.Archetypes[i].ID == "walker" {
			b.Archetypes[i].Base = "patron"
		}
	}

	if _, err := NewLibrary(b, NewKeyRegistry()); err == nil {
		t.Fatal("a base cycle must be rejected")
	}
}

func TestLibraryRejectsVenueWithoutFacility(t *testing.T) {
	b := assets.DefaultBundle()
	b.Facility = nil

	if _, err := NewLibrary(b, NewKeyRegistry()); err == nil {
		t.Fatal("a venue archetype without a facility must be rejected")
	}
}

func TestLibraryRejectsUnknownFallbackKey(t *testing.T) {
	b := assets.DefaultBundle()
	for i := range b.Archetypes {
		if b.Archetypes[i].ID == "walker" {
			b.Archetypes[i].FallbackKey = "no-such-state"
		}
	}

	if _, err := NewLibrary(b, NewKeyRegistry()); err == nil {
		t.Fatal("an unknown fallback key must be rejected")
	}
}

func TestLibraryReducedSpeedDefaultsToSpeed(t *testing.T) {
	b := assets.DefaultBundle()
	lib, err := NewLibrary(b, NewKeyRegistry())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	patron, _ := lib.Archetype("patron")
	if patron.ReducedSpeed != patron.Speed {
		t.Fatalf("reduced speed = %v, want the walk speed %v", patron.ReducedSpeed, patron.Speed)
	}
}
