package crowd

import (
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/crowdsim/internal/core/events/bus"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// Notification kinds published on the bus. Consumers subscribe by kind or
// with bus.KindAny.
const (
	EvAgentSpawned     = "agent.spawned"
	EvAgentDespawned   = "agent.despawned"
	EvStateChanged     = "agent.state"
	EvFidelityChanged  = "agent.fidelity"
	EvAgentArrived     = "agent.arrived"
	EvAgentImpatient   = "agent.impatient"
	EvAgentInterrupted = "agent.interrupted"
	EvAgentResumed     = "agent.resumed"
	EvVenueEntered     = "venue.entered"
	EvVenueLeft        = "venue.left"
	EvLineJoined       = "line.joined"
	EvLineReleased     = "line.released"
	EvSlotFreed        = "line.slot_freed"
	EvCounterFreed     = "counter.freed"
	EvServiceStarted   = "service.started"
	EvServiceCompleted = "service.completed"
	EvSimError         = "sim.error"
)

// Notification is the external form of a simulation event. Key fields carry
// registry names rather than interned integers so feed consumers need no key
// table. Slot is -1 when the event has no line position.
type Notification struct {
	EventID   string  `json:"event_id"`
	EventKind string  `json:"kind"`
	Tick      uint64  `json:"tick"`
	Time      float64 `json:"time"`

	AgentID   string `json:"agent_id,omitempty"`
	Archetype string `json:"archetype,omitempty"`
	Key       string `json:"key,omitempty"`
	PrevKey   string `json:"prev_key,omitempty"`
	Line      string `json:"line,omitempty"`
	Slot      int    `json:"slot"`
	Detail    string `json:"detail,omitempty"`

	At time.Time `json:"at"`
}

func (n Notification) Kind() string { return n.EventKind }
func (n Notification) Source() string {
	if n.AgentID != "" {
		return n.AgentID
	}
	return "sim"
}
func (n Notification) Timestamp() time.Time { return n.At }

// Notifier stamps and publishes notifications. Publish failures are logged
// and swallowed: a broken consumer must not stall the tick.
type Notifier struct {
	bus   bus.Bus
	log   log.Log
	keys  *KeyRegistry
	clock func() (tick uint64, now float64)
}

func newNotifier(b bus.Bus, lg log.Log, keys *KeyRegistry, clock func() (uint64, float64)) *Notifier {
	return &Notifier{bus: b, log: lg, keys: keys, clock: clock}
}

func (n *Notifier) emit(note Notification) {
	if n.bus == nil {
		return
	}
	note.EventID = uuid.NewString()
	note.Tick, note.Time = n.clock()
	note.At = time.Now()
	if err := n.bus.Publish(note); err != nil {
		n.log.Warn("notification delivery failed",
			log.String("kind", note.EventKind),
			log.Error(err),
		)
	}
}

func (n *Notifier) agentNote(kind string, a *Agent) Notification {
	return Notification{
		EventKind: kind,
		AgentID:   a.ID,
		Archetype: a.Archetype.ID,
		Key:       n.keys.Name(a.Key),
		Slot:      -1,
	}
}

func (n *Notifier) Spawned(a *Agent) {
	n.emit(n.agentNote(EvAgentSpawned, a))
}

func (n *Notifier) Despawned(a *Agent) {
	n.emit(n.agentNote(EvAgentDespawned, a))
}

func (n *Notifier) StateChanged(a *Agent, prev Key) {
	note := n.agentNote(EvStateChanged, a)
	note.PrevKey = n.keys.Name(prev)
	n.emit(note)
}

func (n *Notifier) FidelityChanged(a *Agent) {
	note := n.agentNote(EvFidelityChanged, a)
	note.Detail = a.Fidelity.String()
	n.emit(note)
}

func (n *Notifier) Arrived(a *Agent) {
	n.emit(n.agentNote(EvAgentArrived, a))
}

func (n *Notifier) Impatient(a *Agent) {
	n.emit(n.agentNote(EvAgentImpatient, a))
}

func (n *Notifier) Interrupted(a *Agent, from Key) {
	note := n.agentNote(EvAgentInterrupted, a)
	note.PrevKey = n.keys.Name(from)
	note.Detail = a.Interactor
	n.emit(note)
}

func (n *Notifier) Resumed(a *Agent, to Key) {
	note := n.agentNote(EvAgentResumed, a)
	note.Key = n.keys.Name(to)
	n.emit(note)
}

func (n *Notifier) VenueEntered(a *Agent) {
	n.emit(n.agentNote(EvVenueEntered, a))
}

func (n *Notifier) VenueLeft(a *Agent) {
	n.emit(n.agentNote(EvVenueLeft, a))
}

func (n *Notifier) LineJoined(a *Agent, kind LineKind, slot int) {
	note := n.agentNote(EvLineJoined, a)
	note.Line = kind.String()
	note.Slot = slot
	n.emit(note)
}

func (n *Notifier) LineReleased(a *Agent) {
	note := n.agentNote(EvLineReleased, a)
	note.Line = LineOverflow.String()
	n.emit(note)
}

func (n *Notifier) SlotFreed(kind LineKind, slot int) {
	n.emit(Notification{
		EventKind: EvSlotFreed,
		Line:      kind.String(),
		Slot:      slot,
	})
}

func (n *Notifier) CounterFreed() {
	n.emit(Notification{EventKind: EvCounterFreed, Slot: -1})
}

func (n *Notifier) ServiceStarted(a *Agent) {
	n.emit(n.agentNote(EvServiceStarted, a))
}

func (n *Notifier) ServiceCompleted(a *Agent) {
	n.emit(n.agentNote(EvServiceCompleted, a))
}

func (n *Notifier) Error(err error, agentID, detail string) {
	n.emit(Notification{
		EventKind: EvSimError,
		AgentID:   agentID,
		Slot:      -1,
		Detail:    detail + ": " + err.Error(),
	})
}
