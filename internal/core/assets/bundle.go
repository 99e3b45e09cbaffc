package assets

import (
	"fmt"
)

// Bundle is the on-disk description of a simulation scene: the walkable path
// network, the decision nodes wired to path ends, agent archetypes, and the
// serviced facility. Bundles are plain data; semantic binding (key interning,
// archetype flattening) happens in the simulation core.
type Bundle struct {
	Paths       []PathSpec      `json:"paths" yaml:"paths"`
	Nodes       []NodeSpec      `json:"nodes" yaml:"nodes"`
	Archetypes  []ArchetypeSpec `json:"archetypes" yaml:"archetypes"`
	Facility    *FacilitySpec   `json:"facility,omitempty" yaml:"facility,omitempty"`
	SpawnPoints []VecSpec       `json:"spawn_points,omitempty" yaml:"spawn_points,omitempty"`
}

// VecSpec is a world position in meters.
type VecSpec struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Range is an inclusive [Min, Max] interval in seconds.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// IntRange is an inclusive [Min, Max] interval over integers.
type IntRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// PathSpec is an ordered waypoint polyline. NextNode names the decision node
// consulted when an agent exhausts the path; looping paths have no end and
// usually leave it empty.
type PathSpec struct {
	ID        string    `json:"id" yaml:"id"`
	Loop      bool      `json:"loop,omitempty" yaml:"loop,omitempty"`
	NextNode  string    `json:"next_node,omitempty" yaml:"next_node,omitempty"`
	Waypoints []VecSpec `json:"waypoints" yaml:"waypoints"`
}

// NodeSpec is a decision node: an ordered set of options evaluated when an
// agent finishes a path or leaves a dwell state.
type NodeSpec struct {
	ID      string       `json:"id" yaml:"id"`
	Options []OptionSpec `json:"options" yaml:"options"`
}

// OptionSpec is a single decision outcome. Exactly one of Key or Path must be
// set: Key names a state to transition into, Path names a path to follow from
// waypoint Start (walked backwards when Reverse is set). Archetype, when
// non-empty, restricts the option to agents of that archetype. Weight is
// accepted in the schema but selection among valid options is uniform.
type OptionSpec struct {
	Key       string  `json:"key,omitempty" yaml:"key,omitempty"`
	Path      string  `json:"path,omitempty" yaml:"path,omitempty"`
	Start     int     `json:"start,omitempty" yaml:"start,omitempty"`
	Reverse   bool    `json:"reverse,omitempty" yaml:"reverse,omitempty"`
	Weight    float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Archetype string  `json:"archetype,omitempty" yaml:"archetype,omitempty"`
}

// BrowseSpec tunes the in-facility browsing loop.
type BrowseSpec struct {
	Hops  IntRange `json:"hops" yaml:"hops"`
	Dwell Range    `json:"dwell" yaml:"dwell"`
}

// ArchetypeSpec describes one agent population. Base names another archetype
// whose behavior set this one overlays; lookup falls back to the base chain.
// Venue marks archetypes that may enter the facility and queue for service.
type ArchetypeSpec struct {
	ID           string  `json:"id" yaml:"id"`
	Base         string  `json:"base,omitempty" yaml:"base,omitempty"`
	Venue        bool    `json:"venue,omitempty" yaml:"venue,omitempty"`
	Speed        float64 `json:"speed" yaml:"speed"`
	ReducedSpeed float64 `json:"reduced_speed,omitempty" yaml:"reduced_speed,omitempty"`
	ArriveRadius float64 `json:"arrive_radius,omitempty" yaml:"arrive_radius,omitempty"`

	// EntryNode is consulted when the agent has no current path (fresh spawn,
	// idle dwell expired). PendingPath overrides any decision while the agent's
	// pending flag is raised.
	EntryNode   string `json:"entry_node,omitempty" yaml:"entry_node,omitempty"`
	PendingPath string `json:"pending_path,omitempty" yaml:"pending_path,omitempty"`
	FallbackKey string `json:"fallback_key,omitempty" yaml:"fallback_key,omitempty"`

	IdleDwell Range      `json:"idle_dwell,omitempty" yaml:"idle_dwell,omitempty"`
	Browse    BrowseSpec `json:"browse,omitempty" yaml:"browse,omitempty"`

	// Timeouts maps state key names to the impatience interval drawn on entry.
	Timeouts map[string]Range `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
	// Extra adds archetype-specific options to named decision nodes.
	Extra map[string][]OptionSpec `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// LineSpec is one waiting line: Capacity ordered slots, each with a world
// anchor the occupant stands at. len(Anchors) must equal Capacity.
type LineSpec struct {
	Capacity int       `json:"capacity" yaml:"capacity"`
	Anchors  []VecSpec `json:"anchors" yaml:"anchors"`
}

// FacilitySpec describes the single serviced venue: one counter, a main line
// inside and an overflow line outside. When the main line population drops to
// ReleaseThreshold or below, the overflow head is released into the main line.
type FacilitySpec struct {
	ID       string  `json:"id" yaml:"id"`
	Entrance VecSpec `json:"entrance" yaml:"entrance"`
	Exit     VecSpec `json:"exit" yaml:"exit"`
	Counter  VecSpec `json:"counter" yaml:"counter"`

	ServiceDelay Range `json:"service_delay,omitempty" yaml:"service_delay,omitempty"`
	ServiceTime  Range `json:"service_time" yaml:"service_time"`

	BrowseAnchors    []VecSpec `json:"browse_anchors" yaml:"browse_anchors"`
	ReleaseThreshold int       `json:"release_threshold" yaml:"release_threshold"`

	Main     LineSpec `json:"main" yaml:"main"`
	Overflow LineSpec `json:"overflow" yaml:"overflow"`
}

// Merge folds other into b. Lists append; the facility must be declared in at
// most one of the two.
func (b *Bundle) Merge(other *Bundle) error {
	if other == nil {
		return nil
	}
	b.Paths = append(b.Paths, other.Paths...)
	b.Nodes = append(b.Nodes, other.Nodes...)
	b.Archetypes = append(b.Archetypes, other.Archetypes...)
	b.SpawnPoints = append(b.SpawnPoints, other.SpawnPoints...)
	if other.Facility != nil {
		if b.Facility != nil {
			return fmt.Errorf("facility declared twice: %q and %q", b.Facility.ID, other.Facility.ID)
		}
		b.Facility = other.Facility
	}
	return nil
}

// Validate performs structural checks on a complete (merged) bundle.
// Semantic checks that need the behavior tables, such as state key names,
// are left to the binding step.
func (b *Bundle) Validate() error {
	paths := make(map[string]*PathSpec, len(b.Paths))
	for i := range b.Paths {
		p := &b.Paths[i]
		if p.ID == "" {
			return fmt.Errorf("path %d: empty id", i)
		}
		if _, dup := paths[p.ID]; dup {
			return fmt.Errorf("duplicate path id: %s", p.ID)
		}
		if len(p.Waypoints) < 2 {
			return fmt.Errorf("path %q: needs at least 2 waypoints, got %d", p.ID, len(p.Waypoints))
		}
		paths[p.ID] = p
	}

	nodes := make(map[string]struct{}, len(b.Nodes))
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("node %d: empty id", i)
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		if len(n.Options) == 0 {
			return fmt.Errorf("node %q: no options", n.ID)
		}
		for j, opt := range n.Options {
			if err := validateOption(opt, paths); err != nil {
				return fmt.Errorf("node %q option %d: %w", n.ID, j, err)
			}
		}
		nodes[n.ID] = struct{}{}
	}

	for i := range b.Paths {
		p := &b.Paths[i]
		if p.NextNode != "" {
			if _, ok := nodes[p.NextNode]; !ok {
				return fmt.Errorf("path %q: unknown next node %q", p.ID, p.NextNode)
			}
		}
	}

	archs := make(map[string]struct{}, len(b.Archetypes))
	for i := range b.Archetypes {
		a := &b.Archetypes[i]
		if a.ID == "" {
			return fmt.Errorf("archetype %d: empty id", i)
		}
		if _, dup := archs[a.ID]; dup {
			return fmt.Errorf("duplicate archetype id: %s", a.ID)
		}
		if a.Speed <= 0 {
			return fmt.Errorf("archetype %q: speed must be positive", a.ID)
		}
		archs[a.ID] = struct{}{}
	}
	for i := range b.Archetypes {
		a := &b.Archetypes[i]
		if a.Base != "" {
			if _, ok := archs[a.Base]; !ok {
				return fmt.Errorf("archetype %q: unknown base %q", a.ID, a.Base)
			}
		}
		if a.EntryNode != "" {
			if _, ok := nodes[a.EntryNode]; !ok {
				return fmt.Errorf("archetype %q: unknown entry node %q", a.ID, a.EntryNode)
			}
		}
		if a.PendingPath != "" {
			if _, ok := paths[a.PendingPath]; !ok {
				return fmt.Errorf("archetype %q: unknown pending path %q", a.ID, a.PendingPath)
			}
		}
		for nodeID, opts := range a.Extra {
			if _, ok := nodes[nodeID]; !ok {
				return fmt.Errorf("archetype %q: extra options for unknown node %q", a.ID, nodeID)
			}
			for j, opt := range opts {
				if err := validateOption(opt, paths); err != nil {
					return fmt.Errorf("archetype %q node %q option %d: %w", a.ID, nodeID, j, err)
				}
			}
		}
		for key, r := range a.Timeouts {
			if r.Min < 0 || r.Max < r.Min {
				return fmt.Errorf("archetype %q: bad timeout range for %q", a.ID, key)
			}
		}
	}

	if b.Facility != nil {
		if err := b.Facility.validate(); err != nil {
			return fmt.Errorf("facility %q: %w", b.Facility.ID, err)
		}
	}
	return nil
}

func validateOption(opt OptionSpec, paths map[string]*PathSpec) error {
	hasKey := opt.Key != ""
	hasPath := opt.Path != ""
	if hasKey == hasPath {
		return fmt.Errorf("exactly one of key or path must be set")
	}
	if opt.Weight < 0 {
		return fmt.Errorf("negative weight %v", opt.Weight)
	}
	if hasPath {
		p, ok := paths[opt.Path]
		if !ok {
			return fmt.Errorf("unknown path %q", opt.Path)
		}
		if opt.Start < 0 || opt.Start >= len(p.Waypoints) {
			return fmt.Errorf("start %d out of range for path %q", opt.Start, opt.Path)
		}
	}
	return nil
}

func (f *FacilitySpec) validate() error {
	if f.ID == "" {
		return fmt.Errorf("empty id")
	}
	if len(f.BrowseAnchors) == 0 {
		return fmt.Errorf("no browse anchors")
	}
	if f.ServiceTime.Min <= 0 || f.ServiceTime.Max < f.ServiceTime.Min {
		return fmt.Errorf("bad service time range")
	}
	if err := f.Main.validate("main"); err != nil {
		return err
	}
	if err := f.Overflow.validate("overflow"); err != nil {
		return err
	}
	if f.ReleaseThreshold < 0 || f.ReleaseThreshold > f.Main.Capacity {
		return fmt.Errorf("release threshold %d out of range [0, %d]", f.ReleaseThreshold, f.Main.Capacity)
	}
	return nil
}

func (l *LineSpec) validate(name string) error {
	if l.Capacity <= 0 {
		return fmt.Errorf("%s line: capacity must be positive", name)
	}
	if len(l.Anchors) != l.Capacity {
		return fmt.Errorf("%s line: %d anchors for capacity %d", name, len(l.Anchors), l.Capacity)
	}
	return nil
}
