package crowd

// Fidelity selects which behavior table an agent runs on. Active agents step
// every tick with full movement; reduced agents step on a coarse cadence with
// the elapsed time accumulated between steps.
type Fidelity uint8

const (
	FidelityActive Fidelity = iota
	FidelityReduced
)

func (f Fidelity) String() string {
	if f == FidelityReduced {
		return "reduced"
	}
	return "active"
}

// LineKind names one of the two waiting lines of the facility.
type LineKind uint8

const (
	LineNone LineKind = iota
	LineMain
	LineOverflow
)

func (l LineKind) String() string {
	switch l {
	case LineMain:
		return "main"
	case LineOverflow:
		return "overflow"
	default:
		return "none"
	}
}

// Scratch is the per-agent working memory states read and write. It survives
// state transitions so path progress and queue membership carry across; the
// transient fields (timers, routine progress, movement target) are reset by
// the driver on every transition.
type Scratch struct {
	// Timer accumulates time spent in the current state.
	Timer float64
	// Deadline is the absolute simulation time at which a state with the
	// timeout fallback escapes. Zero means no deadline.
	Deadline float64

	// Target is the current movement destination, nil when idle. The mover
	// owns both fields: states request motion through Mover.Request and Pos
	// only changes in Mover.Advance.
	Target *Vec3

	// Path cursor. PathID empty means no path bound.
	PathID   string
	Waypoint int
	Reverse  bool

	// Pending raises the priority override: the next decision resolves the
	// archetype's pending path instead of the node options.
	Pending bool

	// Queue membership, written only by the QueueManager. SlotIndex is -1
	// when the agent stands in no line.
	Line      LineKind
	SlotIndex int

	// Routine progress for multi-phase states: the phase index, its remaining
	// wait, and the number of browse hops left.
	RoutineStep int
	RoutineWait float64
	Hops        int

	// Inside tracks whether the agent is on the facility floor.
	Inside bool
}

// clearTransient resets the fields a fresh state must not inherit, keeping
// path cursor, queue membership, pending flag and venue presence.
func (s *Scratch) clearTransient() {
	s.Timer = 0
	s.Deadline = 0
	s.Target = nil
	s.RoutineStep = 0
	s.RoutineWait = 0
}

// suspended is one frame of the interruption stack: the state key that was
// preempted plus a snapshot of the scratch block at preemption time.
type suspended struct {
	Key     Key
	Scratch Scratch
}

// Agent is one simulated person. All fields are owned by the simulation
// goroutine; nothing here is safe for concurrent access.
type Agent struct {
	ID        string
	Archetype *Archetype
	Fidelity  Fidelity

	Pos Vec3
	Yaw float64
	// Speed in m/s for the current fidelity.
	Speed float64

	// Key mirrors state.Key() for cheap external reads.
	Key     Key
	Scratch Scratch

	// Interactor names whatever triggered the latest interruption. Cleared
	// when an interruption ends.
	Interactor string

	state State
	stack []suspended
	// accum gathers elapsed time between reduced-fidelity steps.
	accum float64
}

// State returns the agent's current behavior state. It is never nil for a
// live agent.
func (a *Agent) State() State {
	return a.state
}

// StackDepth reports the number of suspended interruption frames.
func (a *Agent) StackDepth() int {
	return len(a.stack)
}

// InLine reports whether the agent currently holds a slot in the given line.
func (a *Agent) InLine(kind LineKind) bool {
	return a.Scratch.Line == kind && a.Scratch.SlotIndex >= 0
}

// reset returns the record to its zero shape before pool reuse.
func (a *Agent) reset() {
	*a = Agent{Scratch: Scratch{SlotIndex: -1}}
}
