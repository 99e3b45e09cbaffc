package crowd

// reducedBrowseState is the coarse stand-in for browsing: instead of walking
// between anchors the agent relocates directly and only the dwell clock
// runs. Everything observable from outside keeps the same shape, so
// switching fidelity mid-browse is safe.
type reducedBrowseState struct{ baseState }

func (s reducedBrowseState) Enter(rt *Runtime, a *Agent) {
	if a.Scratch.RoutineStep != browseFresh {
		return
	}
	a.Scratch.Hops = rt.BetweenInt(a.Archetype.BrowseHops)
	if a.Scratch.Hops < 1 {
		a.Scratch.Hops = 1
	}
	s.jump(rt, a)
}

func (s reducedBrowseState) jump(rt *Runtime, a *Agent) {
	f := rt.Lib.Facility
	if f == nil || len(f.BrowseAnchors) == 0 {
		seekService(rt, a)
		return
	}
	a.Pos = f.BrowseAnchors[rt.Rand.Intn(len(f.BrowseAnchors))]
	a.Scratch.RoutineStep = browseDwelling
	a.Scratch.RoutineWait = rt.Between(a.Archetype.BrowseDwell)
}

func (s reducedBrowseState) Update(rt *Runtime, a *Agent, dt float64) {
	switch a.Scratch.RoutineStep {
	case browseDwelling:
		a.Scratch.RoutineWait -= dt
		if a.Scratch.RoutineWait > 0 {
			return
		}
		a.Scratch.Hops--
		if a.Scratch.Hops <= 0 {
			seekService(rt, a)
			return
		}
		s.jump(rt, a)
	case browseWalking:
		// a walk carried over from active fidelity finishes normally
		if !arrived(a) {
			return
		}
		a.Scratch.RoutineStep = browseDwelling
		a.Scratch.RoutineWait = rt.Between(a.Archetype.BrowseDwell)
	default:
		s.jump(rt, a)
	}
}

// The state instances are stateless and shared by every agent and both
// fidelity tables; per-agent progress lives entirely in scratch.
var (
	sharedIdle    = idleState{baseState{key: KeyIdle, interruptible: true}}
	sharedPatrol  = patrolState{baseState{key: KeyPatrol, interruptible: true}}
	sharedExit    = exitState{baseState{key: KeyExit, interruptible: true}}
	sharedDespawn = despawnState{baseState{key: KeyDespawn}}
	sharedEngaged = engagedState{baseState{key: KeyEngaged, interruptible: true}}

	sharedEnter         = enterState{baseState{key: KeyEnter, interruptible: true}}
	sharedBrowse        = browseState{baseState{key: KeyBrowse, interruptible: true, timeoutEscape: true}}
	sharedReducedBrowse = reducedBrowseState{baseState{key: KeyBrowse, interruptible: true, timeoutEscape: true}}
	sharedApproach      = moveToCounterState{baseState{key: KeyMoveToCounter, interruptible: true, timeoutEscape: true}}
	sharedLineMain      = lineState{baseState{key: KeyLineMain, interruptible: true, timeoutEscape: true}, LineMain}
	sharedLineOverflow  = lineState{baseState{key: KeyLineOverflow, interruptible: true, timeoutEscape: true}, LineOverflow}
	sharedAwaitService  = awaitServiceState{baseState{key: KeyAwaitService}}
	sharedService       = serviceState{baseState{key: KeyService}}
)

// installBehaviors registers the built-in behavior sets: the common set on
// every root archetype and the venue set on every venue-flagged archetype.
// Derived archetypes inherit through the table's base-chain lookup and may
// overlay their own registrations on top.
func installBehaviors(t *Table, lib *Library) error {
	common := []State{sharedIdle, sharedPatrol, sharedExit, sharedDespawn, sharedEngaged}
	venueActive := []State{
		sharedEnter, sharedBrowse, sharedApproach,
		sharedLineMain, sharedLineOverflow, sharedAwaitService, sharedService,
	}
	venueReduced := []State{
		sharedEnter, sharedReducedBrowse, sharedApproach,
		sharedLineMain, sharedLineOverflow, sharedAwaitService, sharedService,
	}

	for id, arch := range lib.Archetypes() {
		if arch.Base == nil {
			if err := t.Register(FidelityActive, id, common...); err != nil {
				return err
			}
			if err := t.Register(FidelityReduced, id, common...); err != nil {
				return err
			}
		}
		if arch.Venue {
			if err := t.Register(FidelityActive, id, venueActive...); err != nil {
				return err
			}
			if err := t.Register(FidelityReduced, id, venueReduced...); err != nil {
				return err
			}
		}
	}
	return nil
}
