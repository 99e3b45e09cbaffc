package crowd

import (
	"fmt"
)

// State is one behavior of the dual-fidelity machine. Implementations are
// stateless and shared across agents: all per-agent progress lives in the
// agent's Scratch block, so multi-phase behaviors persist their phase in
// Scratch.RoutineStep/RoutineWait and survive fidelity swaps and
// interruptions.
//
// Enter and Exit run on transitions; Update runs once per behavior step with
// the elapsed time. None of the three may block.
type State interface {
	Key() Key

	Enter(rt *Runtime, a *Agent)
	Update(rt *Runtime, a *Agent, dt float64)
	Exit(rt *Runtime, a *Agent)

	// Interruptible reports whether interruption requests may preempt this
	// state. Non-interruptible states reject the request.
	Interruptible() bool
	// TimeoutEscape reports whether the driver should evict the agent to the
	// archetype escape state once the entry deadline passes.
	TimeoutEscape() bool
}

// baseState supplies the boilerplate half of State. Concrete states embed it
// and override the hooks they need.
type baseState struct {
	key           Key
	interruptible bool
	timeoutEscape bool
}

func (b baseState) Key() Key                         { return b.key }
func (b baseState) Enter(*Runtime, *Agent)           {}
func (b baseState) Update(*Runtime, *Agent, float64) {}
func (b baseState) Exit(*Runtime, *Agent)            {}
func (b baseState) Interruptible() bool              { return b.interruptible }
func (b baseState) TimeoutEscape() bool              { return b.timeoutEscape }

// Table holds the behavior sets: one map of key to state per archetype per
// fidelity. Lookup overlays an archetype's own set on top of its base chain,
// so a derived archetype only registers the states it adds or replaces.
type Table struct {
	sets map[Fidelity]map[string]map[Key]State
}

func NewTable() *Table {
	return &Table{
		sets: map[Fidelity]map[string]map[Key]State{
			FidelityActive:  make(map[string]map[Key]State),
			FidelityReduced: make(map[string]map[Key]State),
		},
	}
}

// Register adds states to the archetype's set at the given fidelity.
// Registering a key twice for the same set is an error.
func (t *Table) Register(fid Fidelity, archetypeID string, states ...State) error {
	set, ok := t.sets[fid]
	if !ok {
		return fmt.Errorf("unknown fidelity %d", fid)
	}
	if set[archetypeID] == nil {
		set[archetypeID] = make(map[Key]State, len(states))
	}
	for _, st := range states {
		if _, dup := set[archetypeID][st.Key()]; dup {
			return fmt.Errorf("state %v already registered for %s/%s", st.Key(), archetypeID, fid)
		}
		set[archetypeID][st.Key()] = st
	}
	return nil
}

// Resolve finds the state for a key, walking the archetype base chain from
// the most derived set to the root. Misses return ErrMissingAsset.
func (t *Table) Resolve(arch *Archetype, fid Fidelity, key Key) (State, error) {
	set := t.sets[fid]
	for a := arch; a != nil; a = a.Base {
		if st, ok := set[a.ID][key]; ok {
			return st, nil
		}
	}
	archID := "<none>"
	if arch != nil {
		archID = arch.ID
	}
	return nil, fmt.Errorf("%w: no %s state for key %d in archetype %q", ErrMissingAsset, fid, uint32(key), archID)
}

// Resolvable reports whether Resolve would succeed.
func (t *Table) Resolvable(arch *Archetype, fid Fidelity, key Key) bool {
	_, err := t.Resolve(arch, fid, key)
	return err == nil
}
