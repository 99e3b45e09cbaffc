package crowd

// Mover advances agents toward their Scratch.Target. The simulation calls
// Advance once per behavior step; states never move agents directly, they
// request destinations and watch for Target to clear.
type Mover interface {
	// Request sets the agent's movement destination.
	Request(a *Agent, dest Vec3)
	// Advance moves the agent for dt seconds. It returns true exactly once,
	// on the step the agent reaches its destination; the destination is
	// cleared at that point.
	Advance(a *Agent, dt float64) bool
	// Remaining reports the distance left to the destination, zero when idle.
	Remaining(a *Agent) float64
	// Stop cancels any in-flight movement.
	Stop(a *Agent)
}

// LineMover walks agents in a straight line at their current speed. The final
// step snaps onto the destination: when the remaining distance is smaller
// than the step length the agent lands exactly on the target with no
// overshoot, which keeps coarse reduced-fidelity steps stable.
type LineMover struct{}

func NewLineMover() *LineMover {
	return &LineMover{}
}

func (m *LineMover) Request(a *Agent, dest Vec3) {
	d := dest
	a.Scratch.Target = &d
	if dir := d.Sub(a.Pos); dir.X != 0 || dir.Z != 0 {
		a.Yaw = dir.Yaw()
	}
}

func (m *LineMover) Advance(a *Agent, dt float64) bool {
	t := a.Scratch.Target
	if t == nil {
		return false
	}
	delta := t.Sub(a.Pos)
	remaining := delta.Length()
	step := a.Speed * dt
	if remaining <= step || remaining == 0 {
		a.Pos = *t
		a.Scratch.Target = nil
		return true
	}
	dir := delta.Scale(1 / remaining)
	a.Pos = a.Pos.Add(dir.Scale(step))
	a.Yaw = dir.Yaw()
	return false
}

func (m *LineMover) Remaining(a *Agent) float64 {
	if a.Scratch.Target == nil {
		return 0
	}
	return a.Scratch.Target.Sub(a.Pos).Length()
}

func (m *LineMover) Stop(a *Agent) {
	a.Scratch.Target = nil
}
