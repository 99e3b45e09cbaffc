package crowd

import (
	"fmt"

	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// Director is the narrow slice of the simulation the queue manager needs to
// steer other agents: resolving ids, issuing movement directives and forcing
// state transitions. The simulation implements it; tests may substitute.
type Director interface {
	Lookup(id string) (*Agent, bool)
	Direct(a *Agent, dest Vec3)
	Promote(a *Agent, next Key)
}

// waitLine is one ordered line: a fixed-capacity occupancy bitmap, the join
// order, and a world anchor per slot.
type waitLine struct {
	kind     LineKind
	anchors  []Vec3
	occupied []bool
	fifo     []string
	// pendingAck maps an advancing agent to the slot it is vacating. The old
	// slot stays occupied until the agent acknowledges arrival at its new
	// anchor, so each vacancy propagates exactly one rank per signal.
	pendingAck map[string]int
}

func newWaitLine(kind LineKind, anchors []Vec3) waitLine {
	return waitLine{
		kind:       kind,
		anchors:    anchors,
		occupied:   make([]bool, len(anchors)),
		fifo:       make([]string, 0, len(anchors)),
		pendingAck: make(map[string]int),
	}
}

func (l *waitLine) freeSlot() int {
	for i, occ := range l.occupied {
		if !occ {
			return i
		}
	}
	return -1
}

func (l *waitLine) dropFromFIFO(id string) {
	for i, cur := range l.fifo {
		if cur == id {
			l.fifo = append(l.fifo[:i], l.fifo[i+1:]...)
			return
		}
	}
}

// QueueManager owns the counter occupancy and both waiting lines. It is the
// sole mutator of slot bitmaps and of the queue fields in agent scratch;
// every other component reads through its query methods. Like the rest of
// the core it runs on the simulation goroutine and needs no locking.
type QueueManager struct {
	log      log.Log
	events   *Notifier
	director Director

	counterOwner string
	threshold    int
	lines        [2]waitLine
	releasing    bool
}

// NewQueueManager builds the manager for a bound facility.
func NewQueueManager(f *Facility, events *Notifier, lg log.Log) *QueueManager {
	return &QueueManager{
		log:       lg,
		events:    events,
		threshold: f.ReleaseThreshold,
		lines: [2]waitLine{
			newWaitLine(LineMain, f.MainAnchors),
			newWaitLine(LineOverflow, f.OverflowAnchors),
		},
	}
}

// SetDirector wires the simulation in after construction.
func (q *QueueManager) SetDirector(d Director) {
	q.director = d
}

func (q *QueueManager) line(kind LineKind) *waitLine {
	switch kind {
	case LineMain:
		return &q.lines[0]
	case LineOverflow:
		return &q.lines[1]
	default:
		return nil
	}
}

// Anchor returns the world position of a line slot.
func (q *QueueManager) Anchor(kind LineKind, slot int) Vec3 {
	return q.line(kind).anchors[slot]
}

// Capacity returns the slot count of a line.
func (q *QueueManager) Capacity(kind LineKind) int {
	return len(q.line(kind).anchors)
}

// Count returns the number of agents holding membership in a line.
func (q *QueueManager) Count(kind LineKind) int {
	return len(q.line(kind).fifo)
}

// CounterBusy reports whether the counter has an owner.
func (q *QueueManager) CounterBusy() bool {
	return q.counterOwner != ""
}

// CounterOwner returns the id of the agent at the counter, empty when free.
func (q *QueueManager) CounterOwner() string {
	return q.counterOwner
}

// TryAcquireCounter claims the counter for a. Ownership is claimed on arrival
// rather than on approach, so two approaching agents race benignly and the
// loser falls back to the line.
func (q *QueueManager) TryAcquireCounter(a *Agent) bool {
	if q.counterOwner != "" {
		return false
	}
	q.counterOwner = a.ID
	return true
}

// TryJoin seats a into the first free slot of the line. It returns the slot
// index, or an error when the line is full. Joining only records membership;
// walking to the slot anchor is the line state's job.
func (q *QueueManager) TryJoin(a *Agent, kind LineKind) (int, error) {
	l := q.line(kind)
	if l == nil {
		return -1, fmt.Errorf("%w: join on unknown line kind %d", ErrInconsistentState, kind)
	}
	slot := l.freeSlot()
	if slot < 0 {
		return -1, fmt.Errorf("%w: %s line full", ErrResourceUnavailable, kind)
	}
	l.occupied[slot] = true
	l.fifo = append(l.fifo, a.ID)
	a.Scratch.Line = kind
	a.Scratch.SlotIndex = slot
	q.events.LineJoined(a, kind, slot)
	return slot, nil
}

// Leave removes a from its line, freeing its slot (and any slot it was still
// vacating mid-advance) with the usual cascade. Safe to call for agents in
// no line.
func (q *QueueManager) Leave(a *Agent) {
	q.remove(a)
}

// remove clears line membership before any slot frees, so the cascades that
// follow never select the departing agent.
func (q *QueueManager) remove(a *Agent) {
	kind := a.Scratch.Line
	l := q.line(kind)
	if l == nil || a.Scratch.SlotIndex < 0 {
		return
	}
	slot := a.Scratch.SlotIndex
	l.dropFromFIFO(a.ID)
	a.Scratch.Line = LineNone
	a.Scratch.SlotIndex = -1
	if old, ok := l.pendingAck[a.ID]; ok {
		delete(l.pendingAck, a.ID)
		q.SignalSpotFree(kind, old)
	}
	q.SignalSpotFree(kind, slot)
}

// SignalSpotFree marks the slot unoccupied and pulls the next rank forward:
// the agent one slot behind is reassigned to the freed slot and directed to
// its anchor. The vacated slot stays occupied until that agent acknowledges
// arrival. A successor already advancing stalls the vacancy; AckAdvance
// restarts it.
func (q *QueueManager) SignalSpotFree(kind LineKind, slot int) {
	l := q.line(kind)
	if l == nil || slot < 0 || slot >= len(l.occupied) {
		return
	}
	if l.occupied[slot] {
		l.occupied[slot] = false
		q.events.SlotFreed(kind, slot)
	}

	for _, id := range l.fifo {
		a, ok := q.director.Lookup(id)
		if !ok {
			continue
		}
		if a.Scratch.Line != kind || a.Scratch.SlotIndex != slot+1 {
			continue
		}
		if _, busy := l.pendingAck[id]; busy {
			break
		}
		l.occupied[slot] = true
		a.Scratch.SlotIndex = slot
		l.pendingAck[id] = slot + 1
		q.director.Direct(a, l.anchors[slot])
		break
	}

	q.maybeRelease()
}

// AckAdvance completes an in-flight pull-forward: the slot the agent was
// vacating frees, cascading the vacancy one more rank back. If a stalled
// vacancy sits directly in front, the agent is pulled onward into it.
// No-op for agents with no pending advance.
func (q *QueueManager) AckAdvance(a *Agent) {
	kind := a.Scratch.Line
	l := q.line(kind)
	if l == nil {
		return
	}
	old, ok := l.pendingAck[a.ID]
	if !ok {
		return
	}
	delete(l.pendingAck, a.ID)
	q.SignalSpotFree(kind, old)
	if a.Scratch.Line != kind {
		// the cascade released the agent into another line
		return
	}
	if s := a.Scratch.SlotIndex; s > 0 && s < len(l.occupied) && !l.occupied[s-1] {
		q.SignalSpotFree(kind, s-1)
	}
}

// SignalCounterFree releases the counter, promotes the first line member
// able to walk toward it and applies the overflow release rule. Suspended
// agents are passed over without losing their place; when everyone waiting
// is suspended the counter stays free and the head claims it on resume.
func (q *QueueManager) SignalCounterFree() {
	q.counterOwner = ""
	q.events.CounterFreed()

	l := q.line(LineMain)
	for i := 0; i < len(l.fifo); {
		head, ok := q.director.Lookup(l.fifo[i])
		if !ok {
			q.log.Warn("main line member vanished", log.String("agent", l.fifo[i]))
			l.fifo = append(l.fifo[:i], l.fifo[i+1:]...)
			continue
		}
		if head.StackDepth() > 0 {
			i++
			continue
		}
		q.remove(head)
		q.director.Promote(head, KeyMoveToCounter)
		break
	}
	q.maybeRelease()
}

// maybeRelease applies the threshold rule: while the main line population is
// at or below the release threshold and a main slot is physically open, the
// overflow head moves into the main line. Checked after every change that
// can lower the main count or open a slot. Guarded against re-entry because
// removing the overflow head itself signals slot frees.
func (q *QueueManager) maybeRelease() {
	if q.releasing {
		return
	}
	q.releasing = true
	defer func() { q.releasing = false }()

	main := q.line(LineMain)
	over := q.line(LineOverflow)
	for len(over.fifo) > 0 && len(main.fifo) <= q.threshold && main.freeSlot() >= 0 {
		head, ok := q.director.Lookup(over.fifo[0])
		if !ok {
			q.log.Warn("overflow head vanished", log.String("agent", over.fifo[0]))
			over.fifo = over.fifo[1:]
			continue
		}
		q.remove(head)
		slot, err := q.TryJoin(head, LineMain)
		if err != nil {
			// slot disappeared between checks; send them to the exit rather
			// than lose them
			q.log.Warn("overflow release lost its slot", log.String("agent", head.ID), log.Error(err))
			q.director.Promote(head, KeyExit)
			return
		}
		q.events.LineReleased(head)
		if head.StackDepth() > 0 {
			// suspended agents change membership but keep their interruption;
			// resume revalidates against the new line
			q.director.Direct(head, main.anchors[slot])
			continue
		}
		q.director.Promote(head, KeyLineMain)
	}
}

// Forget scrubs every trace of an agent on despawn: counter ownership and
// line membership both release with their usual signals.
func (q *QueueManager) Forget(a *Agent) {
	if q.counterOwner == a.ID {
		q.SignalCounterFree()
	}
	q.Leave(a)
}

// LineSnapshot is the externally visible condition of one line.
type LineSnapshot struct {
	Kind        string   `json:"kind"`
	Capacity    int      `json:"capacity"`
	Occupied    []bool   `json:"occupied"`
	FIFO        []string `json:"fifo"`
	PendingAcks int      `json:"pending_acks"`
}

// Snapshot is the externally visible condition of the queue system.
type Snapshot struct {
	CounterOwner string       `json:"counter_owner,omitempty"`
	Main         LineSnapshot `json:"main"`
	Overflow     LineSnapshot `json:"overflow"`
}

// Snapshot copies the current queue condition for stats and tests.
func (q *QueueManager) Snapshot() Snapshot {
	snap := func(l *waitLine) LineSnapshot {
		return LineSnapshot{
			Kind:        l.kind.String(),
			Capacity:    len(l.anchors),
			Occupied:    append([]bool(nil), l.occupied...),
			FIFO:        append([]string(nil), l.fifo...),
			PendingAcks: len(l.pendingAck),
		}
	}
	return Snapshot{
		CounterOwner: q.counterOwner,
		Main:         snap(q.line(LineMain)),
		Overflow:     snap(q.line(LineOverflow)),
	}
}
