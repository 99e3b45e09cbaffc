package crowd

import (
	"fmt"

	"github.com/zeusync/crowdsim/internal/core/assets"
)

// Path is a bound waypoint polyline. Next is the decision node consulted when
// the path is exhausted, nil for looping or dead-end paths.
type Path struct {
	ID        string
	Loop      bool
	Next      *DecisionNode
	Waypoints []Vec3
}

// Option is a bound decision outcome: either a state key or a path directive.
type Option struct {
	Key       Key
	Path      *Path
	Start     int
	Reverse   bool
	Archetype string
}

// DecisionNode is a bound decision point.
type DecisionNode struct {
	ID      string
	Options []Option
}

// Archetype is a bound agent population. Parameters are flattened down the
// base chain at bind time; Base is kept for behavior-table lookup, which
// overlays the derived set on top of the base set.
type Archetype struct {
	ID    string
	Base  *Archetype
	Venue bool

	Speed        float64
	ReducedSpeed float64
	ArriveRadius float64

	EntryNode   *DecisionNode
	PendingPath *Path
	Fallback    Key
	Escape      Key

	IdleDwell   assets.Range
	BrowseHops  assets.IntRange
	BrowseDwell assets.Range

	Timeouts map[Key]assets.Range
	// Extra holds per-node ad-hoc options, merged down the base chain.
	Extra map[string][]Option
}

// Is reports whether the archetype is id or derives from it.
func (a *Archetype) Is(id string) bool {
	for cur := a; cur != nil; cur = cur.Base {
		if cur.ID == id {
			return true
		}
	}
	return false
}

// Timeout returns the impatience range for a state key, falling back to the
// provided default when the archetype has none configured.
func (a *Archetype) Timeout(key Key, def assets.Range) assets.Range {
	if r, ok := a.Timeouts[key]; ok {
		return r
	}
	return def
}

// Facility is the bound venue: one counter and two waiting lines.
type Facility struct {
	ID       string
	Entrance Vec3
	Exit     Vec3
	Counter  Vec3

	ServiceDelay assets.Range
	ServiceTime  assets.Range

	BrowseAnchors    []Vec3
	ReleaseThreshold int

	MainAnchors     []Vec3
	OverflowAnchors []Vec3
}

// Library is the bound runtime view of an asset bundle: names resolved to
// pointers, key strings interned, archetype parameters flattened.
type Library struct {
	paths      map[string]*Path
	nodes      map[string]*DecisionNode
	archetypes map[string]*Archetype

	Facility    *Facility
	SpawnPoints []Vec3
}

// Path looks up a bound path by id.
func (l *Library) Path(id string) (*Path, bool) {
	p, ok := l.paths[id]
	return p, ok
}

// Node looks up a bound decision node by id.
func (l *Library) Node(id string) (*DecisionNode, bool) {
	n, ok := l.nodes[id]
	return n, ok
}

// Archetype looks up a bound archetype by id.
func (l *Library) Archetype(id string) (*Archetype, bool) {
	a, ok := l.archetypes[id]
	return a, ok
}

// Archetypes returns the bound archetypes keyed by id.
func (l *Library) Archetypes() map[string]*Archetype {
	return l.archetypes
}

func bindVec(v assets.VecSpec) Vec3 {
	return Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func bindVecs(vs []assets.VecSpec) []Vec3 {
	out := make([]Vec3, len(vs))
	for i, v := range vs {
		out[i] = bindVec(v)
	}
	return out
}

// NewLibrary binds a validated bundle against a key registry. Binding fails
// on unknown key names, archetype base cycles, or a missing facility when any
// archetype is venue-capable.
func NewLibrary(b *assets.Bundle, reg *KeyRegistry) (*Library, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	lib := &Library{
		paths:       make(map[string]*Path, len(b.Paths)),
		nodes:       make(map[string]*DecisionNode, len(b.Nodes)),
		archetypes:  make(map[string]*Archetype, len(b.Archetypes)),
		SpawnPoints: bindVecs(b.SpawnPoints),
	}

	for i := range b.Paths {
		spec := &b.Paths[i]
		lib.paths[spec.ID] = &Path{
			ID:        spec.ID,
			Loop:      spec.Loop,
			Waypoints: bindVecs(spec.Waypoints),
		}
	}

	bindOption := func(spec assets.OptionSpec) (Option, error) {
		opt := Option{Start: spec.Start, Reverse: spec.Reverse, Archetype: spec.Archetype}
		if spec.Key != "" {
			k, ok := reg.Lookup(spec.Key)
			if !ok {
				return opt, fmt.Errorf("%w: unknown state key %q", ErrMissingAsset, spec.Key)
			}
			opt.Key = k
			return opt, nil
		}
		opt.Path = lib.paths[spec.Path]
		return opt, nil
	}

	for i := range b.Nodes {
		spec := &b.Nodes[i]
		node := &DecisionNode{ID: spec.ID, Options: make([]Option, 0, len(spec.Options))}
		for _, os := range spec.Options {
			opt, err := bindOption(os)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", spec.ID, err)
			}
			node.Options = append(node.Options, opt)
		}
		lib.nodes[spec.ID] = node
	}

	for i := range b.Paths {
		spec := &b.Paths[i]
		if spec.NextNode != "" {
			lib.paths[spec.ID].Next = lib.nodes[spec.NextNode]
		}
	}

	specs := make(map[string]*assets.ArchetypeSpec, len(b.Archetypes))
	for i := range b.Archetypes {
		specs[b.Archetypes[i].ID] = &b.Archetypes[i]
	}

	var bindArch func(id string, trail map[string]bool) (*Archetype, error)
	bindArch = func(id string, trail map[string]bool) (*Archetype, error) {
		if a, done := lib.archetypes[id]; done {
			return a, nil
		}
		if trail[id] {
			return nil, fmt.Errorf("archetype base cycle through %q", id)
		}
		trail[id] = true
		spec := specs[id]

		var base *Archetype
		if spec.Base != "" {
			var err error
			if base, err = bindArch(spec.Base, trail); err != nil {
				return nil, err
			}
		}

		a := &Archetype{
			ID:           id,
			Base:         base,
			Venue:        spec.Venue,
			Speed:        spec.Speed,
			ReducedSpeed: spec.ReducedSpeed,
			ArriveRadius: spec.ArriveRadius,
			IdleDwell:    spec.IdleDwell,
			BrowseHops:   spec.Browse.Hops,
			BrowseDwell:  spec.Browse.Dwell,
			Timeouts:     make(map[Key]assets.Range, len(spec.Timeouts)),
			Extra:        make(map[string][]Option),
		}
		if spec.EntryNode != "" {
			a.EntryNode = lib.nodes[spec.EntryNode]
		}
		if spec.PendingPath != "" {
			a.PendingPath = lib.paths[spec.PendingPath]
		}

		fallback := spec.FallbackKey
		if fallback == "" {
			fallback = "idle"
		}
		k, ok := reg.Lookup(fallback)
		if !ok {
			return nil, fmt.Errorf("%w: archetype %q fallback key %q", ErrMissingAsset, id, fallback)
		}
		a.Fallback = k
		a.Escape = KeyExit

		for name, r := range spec.Timeouts {
			tk, known := reg.Lookup(name)
			if !known {
				return nil, fmt.Errorf("%w: archetype %q timeout key %q", ErrMissingAsset, id, name)
			}
			a.Timeouts[tk] = r
		}
		for nodeID, opts := range spec.Extra {
			bound := make([]Option, 0, len(opts))
			for _, os := range opts {
				opt, err := bindOption(os)
				if err != nil {
					return nil, fmt.Errorf("archetype %q node %q: %w", id, nodeID, err)
				}
				bound = append(bound, opt)
			}
			a.Extra[nodeID] = bound
		}

		// inherit unset parameters and merge ad-hoc options down the chain
		if base != nil {
			a.Venue = a.Venue || base.Venue
			if a.Speed == 0 {
				a.Speed = base.Speed
			}
			if a.ReducedSpeed == 0 {
				a.ReducedSpeed = base.ReducedSpeed
			}
			if a.ArriveRadius == 0 {
				a.ArriveRadius = base.ArriveRadius
			}
			if a.EntryNode == nil {
				a.EntryNode = base.EntryNode
			}
			if a.PendingPath == nil {
				a.PendingPath = base.PendingPath
			}
			if spec.FallbackKey == "" {
				a.Fallback = base.Fallback
			}
			if a.IdleDwell == (assets.Range{}) {
				a.IdleDwell = base.IdleDwell
			}
			if a.BrowseHops == (assets.IntRange{}) {
				a.BrowseHops = base.BrowseHops
			}
			if a.BrowseDwell == (assets.Range{}) {
				a.BrowseDwell = base.BrowseDwell
			}
			for tk, r := range base.Timeouts {
				if _, own := a.Timeouts[tk]; !own {
					a.Timeouts[tk] = r
				}
			}
			for nodeID, opts := range base.Extra {
				a.Extra[nodeID] = append(a.Extra[nodeID], opts...)
			}
		}
		if a.ReducedSpeed == 0 {
			a.ReducedSpeed = a.Speed
		}

		lib.archetypes[id] = a
		return a, nil
	}

	for id := range specs {
		if _, err := bindArch(id, make(map[string]bool)); err != nil {
			return nil, err
		}
	}

	if b.Facility != nil {
		f := b.Facility
		lib.Facility = &Facility{
			ID:               f.ID,
			Entrance:         bindVec(f.Entrance),
			Exit:             bindVec(f.Exit),
			Counter:          bindVec(f.Counter),
			ServiceDelay:     f.ServiceDelay,
			ServiceTime:      f.ServiceTime,
			BrowseAnchors:    bindVecs(f.BrowseAnchors),
			ReleaseThreshold: f.ReleaseThreshold,
			MainAnchors:      bindVecs(f.Main.Anchors),
			OverflowAnchors:  bindVecs(f.Overflow.Anchors),
		}
	}

	for _, a := range lib.archetypes {
		if a.Venue && lib.Facility == nil {
			return nil, fmt.Errorf("%w: archetype %q is venue-capable but the bundle has no facility", ErrMissingAsset, a.ID)
		}
	}
	return lib, nil
}
