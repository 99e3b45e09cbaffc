package crowd

import "fmt"

// bindPath points the agent's path cursor at a starting waypoint. The walk
// itself is issued by the behavior entering afterwards. The start index
// clamps into range so a stale option referencing a shortened path degrades
// instead of panicking.
func bindPath(a *Agent, p *Path, start int, reverse bool) {
	if start < 0 {
		start = 0
	}
	if start >= len(p.Waypoints) {
		start = len(p.Waypoints) - 1
	}
	a.Scratch.PathID = p.ID
	a.Scratch.Waypoint = start
	a.Scratch.Reverse = reverse
}

// continuePath resolves the path an agent is mid-way through. The path can
// vanish under a live agent when content reloads, so a miss is reported as
// a missing asset rather than trusted.
func continuePath(rt *Runtime, a *Agent) (*Path, error) {
	p, ok := rt.Lib.Path(a.Scratch.PathID)
	if !ok {
		return nil, fmt.Errorf("%w: path %q", ErrMissingAsset, a.Scratch.PathID)
	}
	if a.Scratch.Waypoint < 0 || a.Scratch.Waypoint >= len(p.Waypoints) {
		a.Scratch.Waypoint = 0
	}
	return p, nil
}

// stepPath moves the agent's waypoint cursor one step in its travel
// direction and requests the walk to it. Looping paths wrap; on a finite
// path running off either end reports completion and leaves the cursor on
// the final waypoint.
func stepPath(rt *Runtime, a *Agent, p *Path) (end bool) {
	n := len(p.Waypoints)
	next := a.Scratch.Waypoint + 1
	if a.Scratch.Reverse {
		next = a.Scratch.Waypoint - 1
	}
	if next < 0 || next >= n {
		if !p.Loop {
			return true
		}
		next = (next + n) % n
	}
	a.Scratch.Waypoint = next
	rt.Mover.Request(a, p.Waypoints[next])
	return false
}

// arrived reports whether the mover has delivered the agent to its current
// destination. No destination counts as arrived.
func arrived(a *Agent) bool {
	return a.Scratch.Target == nil
}

// near reports whether the agent stands within its arrival tolerance of p.
// Used when resuming a behavior to decide if a walk must be re-issued.
func (rt *Runtime) near(a *Agent, p Vec3) bool {
	r := rt.Cfg.ArriveRadius
	if a.Archetype != nil && a.Archetype.ArriveRadius > 0 {
		r = a.Archetype.ArriveRadius
	}
	return a.Pos.DistanceTo(p) <= r
}
