package crowd

import "fmt"

// applyDecision routes an agent onto whatever the evaluator picked. Path
// directives bind the cursor first and carry the agent through the shared
// patrol behavior; an empty decision parks the agent in its fallback.
func applyDecision(rt *Runtime, a *Agent, d Decision) {
	switch d.Kind {
	case DecidePath:
		bindPath(a, d.Path, d.Start, d.Reverse)
		rt.Transition(a, KeyPatrol)
	case DecideKey:
		rt.Transition(a, d.Key)
	default:
		fb := KeyIdle
		if a.Archetype != nil && a.Archetype.Fallback != KeyNone {
			fb = a.Archetype.Fallback
		}
		rt.Transition(a, fb)
	}
}

// seekService decides how an agent done browsing reaches the counter: walk
// straight up when it is free, otherwise take the main line, then the
// overflow line, and leave annoyed when even that is full.
func seekService(rt *Runtime, a *Agent) {
	if rt.Queues == nil {
		rt.Transition(a, KeyExit)
		return
	}
	if !rt.Queues.CounterBusy() {
		rt.Transition(a, KeyMoveToCounter)
		return
	}
	if _, err := rt.Queues.TryJoin(a, LineMain); err == nil {
		rt.Transition(a, KeyLineMain)
		return
	}
	if _, err := rt.Queues.TryJoin(a, LineOverflow); err == nil {
		rt.Transition(a, KeyLineOverflow)
		return
	}
	err := fmt.Errorf("%w: counter busy and both lines full", ErrResourceUnavailable)
	rt.Events.Error(err, a.ID, "seek service")
	rt.Transition(a, KeyExit)
}

// idleState dwells at the agent's home node, then consults it for the next
// thing to do. Fallback target of every archetype, so it never escapes.
type idleState struct{ baseState }

func (s idleState) Enter(rt *Runtime, a *Agent) {
	a.Scratch.RoutineWait = rt.Between(a.Archetype.IdleDwell)
	if a.Scratch.RoutineWait <= 0 {
		a.Scratch.RoutineWait = 1
	}
}

func (s idleState) Update(rt *Runtime, a *Agent, dt float64) {
	if a.Scratch.Timer < a.Scratch.RoutineWait {
		return
	}
	var node *DecisionNode
	if a.Archetype != nil {
		node = a.Archetype.EntryNode
	}
	applyDecision(rt, a, rt.Eval.Evaluate(a, node))
}

// patrolState walks the path bound in scratch and decides again at its end
// node. Both ambient wandering and venue approaches run through it; which
// path is walked is the evaluator's business.
type patrolState struct{ baseState }

func (s patrolState) Enter(rt *Runtime, a *Agent) {
	p, err := continuePath(rt, a)
	if err != nil {
		rt.Events.Error(err, a.ID, "patrol")
		rt.Transition(a, fallbackKey(a))
		return
	}
	rt.Mover.Request(a, p.Waypoints[a.Scratch.Waypoint])
}

func (s patrolState) Update(rt *Runtime, a *Agent, dt float64) {
	if !arrived(a) {
		return
	}
	p, err := continuePath(rt, a)
	if err != nil {
		rt.Events.Error(err, a.ID, "patrol")
		rt.Transition(a, fallbackKey(a))
		return
	}
	if end := stepPath(rt, a, p); end {
		applyDecision(rt, a, rt.Eval.Evaluate(a, p.Next))
	}
}

// enterState walks the agent through the venue entrance and hands it to
// browsing once inside.
type enterState struct{ baseState }

func (s enterState) Enter(rt *Runtime, a *Agent) {
	if rt.Lib.Facility == nil {
		rt.Events.Error(fmt.Errorf("%w: no facility to enter", ErrMissingAsset), a.ID, "enter")
		rt.Transition(a, fallbackKey(a))
		return
	}
	rt.Mover.Request(a, rt.Lib.Facility.Entrance)
}

func (s enterState) Update(rt *Runtime, a *Agent, dt float64) {
	if !arrived(a) {
		return
	}
	a.Scratch.Inside = true
	rt.Events.VenueEntered(a)
	rt.Transition(a, KeyBrowse)
}

// browseState hops the agent between browse anchors with a dwell at each.
// The hop budget draws once per visit; an interrupted browse resumes with
// its remaining hops and dwell intact.
type browseState struct{ baseState }

const (
	browseFresh = iota
	browseWalking
	browseDwelling
)

func (s browseState) Enter(rt *Runtime, a *Agent) {
	if a.Scratch.RoutineStep != browseFresh {
		// resuming; the mover still holds any in-flight walk
		return
	}
	a.Scratch.Hops = rt.BetweenInt(a.Archetype.BrowseHops)
	if a.Scratch.Hops < 1 {
		a.Scratch.Hops = 1
	}
	s.hop(rt, a)
}

func (s browseState) hop(rt *Runtime, a *Agent) {
	f := rt.Lib.Facility
	if f == nil || len(f.BrowseAnchors) == 0 {
		seekService(rt, a)
		return
	}
	dest := f.BrowseAnchors[rt.Rand.Intn(len(f.BrowseAnchors))]
	a.Scratch.RoutineStep = browseWalking
	rt.Mover.Request(a, dest)
}

func (s browseState) Update(rt *Runtime, a *Agent, dt float64) {
	switch a.Scratch.RoutineStep {
	case browseWalking:
		if !arrived(a) {
			return
		}
		a.Scratch.RoutineStep = browseDwelling
		a.Scratch.RoutineWait = rt.Between(a.Archetype.BrowseDwell)
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
		s.hop(rt, a)
	default:
		s.hop(rt, a)
	}
}

// moveToCounterState approaches the counter and claims it on arrival. The
// claim can lose to another walker arriving first; the loser falls back
// into the lines.
type moveToCounterState struct{ baseState }

func (s moveToCounterState) Enter(rt *Runtime, a *Agent) {
	if rt.Lib.Facility == nil {
		rt.Transition(a, KeyExit)
		return
	}
	rt.Mover.Request(a, rt.Lib.Facility.Counter)
}

func (s moveToCounterState) Update(rt *Runtime, a *Agent, dt float64) {
	if !arrived(a) {
		return
	}
	if rt.Queues.TryAcquireCounter(a) {
		rt.Transition(a, KeyAwaitService)
		return
	}
	if _, err := rt.Queues.TryJoin(a, LineMain); err == nil {
		rt.Transition(a, KeyLineMain)
		return
	}
	if _, err := rt.Queues.TryJoin(a, LineOverflow); err == nil {
		rt.Transition(a, KeyLineOverflow)
		return
	}
	err := fmt.Errorf("%w: counter lost and both lines full", ErrResourceUnavailable)
	rt.Events.Error(err, a.ID, "counter approach")
	rt.Transition(a, KeyExit)
}

// lineState stands in one of the waiting lines. Membership is established
// before the transition, so entering only walks to the held slot's anchor;
// leaving for any reason releases the slot through the exit hook.
type lineState struct {
	baseState
	kind LineKind
}

func (s lineState) Enter(rt *Runtime, a *Agent) {
	if !a.InLine(s.kind) {
		// entered without a slot, likely a stale resume
		if _, err := rt.Queues.TryJoin(a, s.kind); err != nil {
			rt.Events.Error(err, a.ID, "line entry")
			rt.Transition(a, KeyExit)
			return
		}
	}
	rt.Mover.Request(a, rt.Queues.Anchor(s.kind, a.Scratch.SlotIndex))
}

func (s lineState) Update(rt *Runtime, a *Agent, dt float64) {
	if !arrived(a) {
		return
	}
	rt.Queues.AckAdvance(a)
	if s.kind == LineMain && a.Scratch.SlotIndex == 0 && !rt.Queues.CounterBusy() {
		rt.Queues.Leave(a)
		rt.Transition(a, KeyMoveToCounter)
	}
}

func (s lineState) Exit(rt *Runtime, a *Agent) {
	if a.InLine(s.kind) {
		rt.Queues.Leave(a)
	}
}

// awaitServiceState holds the counter while the clerk notices the agent.
type awaitServiceState struct{ baseState }

func (s awaitServiceState) Enter(rt *Runtime, a *Agent) {
	if rt.Queues.CounterOwner() != a.ID {
		err := fmt.Errorf("%w: at counter without owning it", ErrInconsistentState)
		rt.Events.Error(err, a.ID, "await service")
		seekService(rt, a)
		return
	}
	a.Scratch.RoutineWait = rt.Between(rt.Lib.Facility.ServiceDelay)
}

func (s awaitServiceState) Update(rt *Runtime, a *Agent, dt float64) {
	a.Scratch.RoutineWait -= dt
	if a.Scratch.RoutineWait <= 0 {
		rt.Transition(a, KeyService)
	}
}

// serviceState is the transaction itself. Completing it frees the counter,
// which promotes the next line member, and sends the agent out.
type serviceState struct{ baseState }

func (s serviceState) Enter(rt *Runtime, a *Agent) {
	a.Scratch.RoutineWait = rt.Between(rt.Lib.Facility.ServiceTime)
	rt.Events.ServiceStarted(a)
}

func (s serviceState) Update(rt *Runtime, a *Agent, dt float64) {
	a.Scratch.RoutineWait -= dt
	if a.Scratch.RoutineWait > 0 {
		return
	}
	rt.Events.ServiceCompleted(a)
	rt.Queues.SignalCounterFree()
	rt.Transition(a, KeyExit)
}

// exitState walks the agent off the floor and then off the map. Agents
// inside the venue leave through its exit first; everyone ends at the
// nearest spawn point and despawns.
type exitState struct{ baseState }

const (
	exitLeavingVenue = iota
	exitLeavingWorld
)

func (s exitState) Enter(rt *Runtime, a *Agent) {
	if a.Scratch.Inside && rt.Lib.Facility != nil {
		a.Scratch.RoutineStep = exitLeavingVenue
		rt.Mover.Request(a, rt.Lib.Facility.Exit)
		return
	}
	s.headOut(rt, a)
}

func (s exitState) headOut(rt *Runtime, a *Agent) {
	a.Scratch.RoutineStep = exitLeavingWorld
	pts := rt.Lib.SpawnPoints
	if len(pts) == 0 {
		rt.Transition(a, KeyDespawn)
		return
	}
	best := pts[0]
	for _, p := range pts[1:] {
		if a.Pos.DistanceTo(p) < a.Pos.DistanceTo(best) {
			best = p
		}
	}
	rt.Mover.Request(a, best)
}

func (s exitState) Update(rt *Runtime, a *Agent, dt float64) {
	if !arrived(a) {
		return
	}
	if a.Scratch.RoutineStep == exitLeavingVenue {
		a.Scratch.Inside = false
		rt.Events.VenueLeft(a)
		s.headOut(rt, a)
		return
	}
	rt.Transition(a, KeyDespawn)
}

// despawnState removes the agent at the end of the step.
type despawnState struct{ baseState }

func (s despawnState) Enter(rt *Runtime, a *Agent) {
	rt.Remove(a)
}

// engagedState is the default interruption behavior: the agent stands still
// and converses. It stays polite to the queue, shuffling forward with the
// line and acknowledging arrival at a reassigned slot.
type engagedState struct{ baseState }

func (s engagedState) Update(rt *Runtime, a *Agent, dt float64) {
	if rt.Queues != nil && a.Scratch.Line != LineNone && arrived(a) {
		rt.Queues.AckAdvance(a)
	}
}

func fallbackKey(a *Agent) Key {
	if a.Archetype != nil && a.Archetype.Fallback != KeyNone {
		return a.Archetype.Fallback
	}
	return KeyIdle
}
