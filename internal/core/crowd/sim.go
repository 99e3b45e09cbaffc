package crowd

import (
	"fmt"
	"math/rand"

	"github.com/zeusync/crowdsim/internal/core/assets"
	"github.com/zeusync/crowdsim/internal/core/events/bus"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
	"github.com/zeusync/crowdsim/pkg/generic"
)

// Runtime bundles everything a behavior state may touch during a step. One
// instance is shared by every agent; all access happens on the simulation
// goroutine.
type Runtime struct {
	Cfg    Config
	Lib    *Library
	Keys   *KeyRegistry
	Table  *Table
	Queues *QueueManager
	Eval   *Evaluator
	Events *Notifier
	Mover  Mover
	Log    log.Log
	Rand   *rand.Rand

	sim   *Simulation
	depth int
}

// Now returns the current simulation time in seconds.
func (rt *Runtime) Now() float64 { return rt.sim.now }

// Tick returns the current tick ordinal.
func (rt *Runtime) Tick() uint64 { return rt.sim.tick }

// Between draws a uniform value from the range.
func (rt *Runtime) Between(r assets.Range) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rt.Rand.Float64()*(r.Max-r.Min)
}

// BetweenInt draws a uniform integer from the inclusive range.
func (rt *Runtime) BetweenInt(r assets.IntRange) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rt.Rand.Intn(r.Max-r.Min+1)
}

// Remove schedules the agent for despawn at the end of the current step.
func (rt *Runtime) Remove(a *Agent) {
	rt.sim.scheduleRemove(a.ID)
}

// Transition runs the full switch protocol: exit hook, scratch reset,
// impatience deadline draw, enter hook and the change notification. A key
// that does not resolve for the agent degrades to the archetype fallback,
// then to the exit behavior; resolution failures are reported, never fatal.
// Chained transitions deeper than the configured cap are cut short, leaving
// the agent in the last state that entered cleanly.
func (rt *Runtime) Transition(a *Agent, next Key) {
	rt.depth++
	defer func() { rt.depth-- }()
	if rt.depth > rt.Cfg.MaxTransitionDepth {
		err := fmt.Errorf("%w: transition chain exceeded %d switching to %s",
			ErrInconsistentState, rt.Cfg.MaxTransitionDepth, rt.Keys.Name(next))
		rt.Log.Error("transition chain cut", log.String("agent", a.ID), log.Error(err))
		rt.Events.Error(err, a.ID, "transition")
		return
	}

	st, err := rt.Table.Resolve(a.Archetype, a.Fidelity, next)
	if err != nil {
		rt.Log.Warn("behavior unresolved, degrading",
			log.String("agent", a.ID),
			log.String("key", rt.Keys.Name(next)),
			log.Error(err),
		)
		rt.Events.Error(err, a.ID, "transition")
		fb := KeyExit
		if a.Archetype != nil && a.Archetype.Fallback != KeyNone && a.Archetype.Fallback != next {
			fb = a.Archetype.Fallback
		}
		if fb != next {
			rt.Transition(a, fb)
		}
		return
	}

	prev := a.Key
	if a.state != nil {
		a.state.Exit(rt, a)
	}
	a.Key = next
	a.Scratch.clearTransient()
	if st.TimeoutEscape() {
		r := rt.Cfg.DefaultTimeout
		if a.Archetype != nil {
			r = a.Archetype.Timeout(next, r)
		}
		a.Scratch.Deadline = rt.Now() + rt.Between(r)
	}
	a.state = st
	st.Enter(rt, a)
	rt.Events.StateChanged(a, prev)
}

// Simulation owns the agent population and drives it forward tick by tick.
// All methods must be called from a single goroutine; the server loop owns
// that goroutine and other subsystems observe through the event bus.
type Simulation struct {
	rt   *Runtime
	pool *generic.Pool[*Agent]

	agents map[string]*Agent
	// order holds agent ids in spawn order. Ids are generated from a
	// monotonic counter, so appending keeps the slice sorted and the step
	// order deterministic.
	order []string

	removals []string
	stepping bool

	tick uint64
	now  float64
	seq  uint64
}

// New assembles a simulation over a validated asset bundle. The bus receives
// every notification the population produces; pass nil to run silent.
func New(cfg Config, bundle *assets.Bundle, b bus.Bus, lg log.Log) (*Simulation, error) {
	if lg == nil {
		lg = log.NewNop()
	}
	keys := NewKeyRegistry()
	lib, err := NewLibrary(bundle, keys)
	if err != nil {
		return nil, fmt.Errorf("bind assets: %w", err)
	}

	s := &Simulation{
		agents: make(map[string]*Agent),
		pool: generic.NewHotPool(func() *Agent {
			return &Agent{Scratch: Scratch{SlotIndex: -1}}
		}, cfg.PoolSize),
	}

	events := newNotifier(b, lg, keys, func() (uint64, float64) { return s.tick, s.now })

	rt := &Runtime{
		Cfg:    cfg,
		Lib:    lib,
		Keys:   keys,
		Table:  NewTable(),
		Events: events,
		Mover:  NewLineMover(),
		Log:    lg,
		Rand:   rand.New(rand.NewSource(cfg.Seed)),
		sim:    s,
	}
	rt.Eval = NewEvaluator(lib, rt.Table, rt.Rand, lg)
	if lib.Facility != nil {
		rt.Queues = NewQueueManager(lib.Facility, events, lg)
		rt.Queues.SetDirector(s)
	}
	s.rt = rt

	if err = installBehaviors(rt.Table, lib); err != nil {
		return nil, fmt.Errorf("install behaviors: %w", err)
	}
	return s, nil
}

// Runtime exposes the shared runtime, mainly for tests and tools.
func (s *Simulation) Runtime() *Runtime { return s.rt }

// Lookup implements Director.
func (s *Simulation) Lookup(id string) (*Agent, bool) {
	a, ok := s.agents[id]
	return a, ok
}

// Direct implements Director by walking the agent to a destination.
func (s *Simulation) Direct(a *Agent, dest Vec3) {
	s.rt.Mover.Request(a, dest)
}

// Promote implements Director by forcing a behavior switch.
func (s *Simulation) Promote(a *Agent, next Key) {
	s.rt.Transition(a, next)
}

// Spawn creates an agent of the archetype, places it on a spawn point and
// enters it into its archetype's fallback behavior.
func (s *Simulation) Spawn(archetypeID string) (*Agent, error) {
	arch, ok := s.rt.Lib.Archetype(archetypeID)
	if !ok {
		return nil, fmt.Errorf("%w: archetype %q", ErrMissingAsset, archetypeID)
	}

	a := s.pool.Get()
	a.reset()
	a.ID = fmt.Sprintf("a-%06d", s.seq)
	s.seq++
	a.Archetype = arch
	a.Fidelity = FidelityActive
	a.Speed = arch.Speed
	if pts := s.rt.Lib.SpawnPoints; len(pts) > 0 {
		a.Pos = pts[s.rt.Rand.Intn(len(pts))]
	}

	s.agents[a.ID] = a
	s.order = append(s.order, a.ID)
	s.rt.Events.Spawned(a)
	s.rt.Transition(a, arch.Fallback)
	return a, nil
}

// Despawn removes an agent immediately when called between steps, or at the
// end of the running step when called from inside one.
func (s *Simulation) Despawn(id string) error {
	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("%w: agent %q", ErrInconsistentState, id)
	}
	s.scheduleRemove(id)
	if !s.stepping {
		s.flushRemovals()
	}
	return nil
}

func (s *Simulation) scheduleRemove(id string) {
	for _, cur := range s.removals {
		if cur == id {
			return
		}
	}
	s.removals = append(s.removals, id)
}

func (s *Simulation) flushRemovals() {
	for _, id := range s.removals {
		a, ok := s.agents[id]
		if !ok {
			continue
		}
		if a.state != nil {
			a.state.Exit(s.rt, a)
		}
		if s.rt.Queues != nil {
			s.rt.Queues.Forget(a)
		}
		s.rt.Events.Despawned(a)
		delete(s.agents, id)
		for i, cur := range s.order {
			if cur == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		a.reset()
		s.pool.Put(a)
	}
	s.removals = s.removals[:0]
}

// SetFidelity rebinds the agent's current behavior key against the target
// fidelity table without running exit hooks or clearing scratch, so path
// progress and queue membership carry across. Speed switches to the
// fidelity's value and the new state's enter hook runs to re-issue any
// movement it needs.
func (s *Simulation) SetFidelity(id string, f Fidelity) error {
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %q", ErrInconsistentState, id)
	}
	if a.Fidelity == f {
		return nil
	}

	st, err := s.rt.Table.Resolve(a.Archetype, f, a.Key)
	if err != nil {
		return fmt.Errorf("rebind %s at %s fidelity: %w", s.rt.Keys.Name(a.Key), f, err)
	}
	a.Fidelity = f
	a.Speed = a.Archetype.Speed
	if f == FidelityReduced {
		a.Speed = a.Archetype.ReducedSpeed
	}
	a.accum = 0
	a.state = st
	st.Enter(s.rt, a)
	s.rt.Events.FidelityChanged(a)
	return nil
}

// Step advances the whole population by dt seconds. Agents step in spawn
// order; reduced-fidelity agents only step once their accumulated time
// reaches the configured cadence, receiving the accumulated span as their
// dt. Despawns requested during the step apply after the last agent.
func (s *Simulation) Step(dt float64) {
	s.tick++
	s.now += dt
	s.stepping = true

	for _, id := range s.order {
		a, ok := s.agents[id]
		if !ok {
			continue
		}
		switch a.Fidelity {
		case FidelityReduced:
			a.accum += dt
			if a.accum+1e-9 < s.rt.Cfg.ReducedCadence {
				continue
			}
			span := a.accum
			a.accum = 0
			s.stepAgent(a, span)
		default:
			s.stepAgent(a, dt)
		}
	}

	s.stepping = false
	s.flushRemovals()
}

// stepAgent runs one agent's slice of the tick: movement first, then the
// behavior update, then the impatience check. The deadline only fires for
// states that declare the timeout escape, and never while suspended frames
// would lose work silently; interruption pauses deadlines by construction
// because suspended scratch stores remaining time.
func (s *Simulation) stepAgent(a *Agent, dt float64) {
	moving := a.Scratch.Target != nil
	s.rt.Mover.Advance(a, dt)
	if moving && a.Scratch.Target == nil {
		s.rt.Events.Arrived(a)
	}
	a.Scratch.Timer += dt
	st := a.state
	if st == nil {
		err := fmt.Errorf("%w: agent %s has no behavior bound", ErrInconsistentState, a.ID)
		s.rt.Log.Error("agent without behavior", log.String("agent", a.ID))
		s.rt.Events.Error(err, a.ID, "step")
		s.rt.Transition(a, KeyExit)
		return
	}
	st.Update(s.rt, a, dt)

	if d := a.Scratch.Deadline; d > 0 && s.now >= d && a.state.TimeoutEscape() {
		s.rt.Events.Impatient(a)
		esc := KeyExit
		if a.Archetype != nil && a.Archetype.Escape != KeyNone {
			esc = a.Archetype.Escape
		}
		s.rt.Transition(a, esc)
	}
}

// AgentByID returns a live agent.
func (s *Simulation) AgentByID(id string) (*Agent, bool) {
	a, ok := s.agents[id]
	return a, ok
}

// Count returns the live population size.
func (s *Simulation) Count() int { return len(s.agents) }

// Each visits every live agent in deterministic order. The callback must not
// spawn or despawn.
func (s *Simulation) Each(fn func(*Agent)) {
	for _, id := range s.order {
		if a, ok := s.agents[id]; ok {
			fn(a)
		}
	}
}

// Stats is a point-in-time summary of the population.
type Stats struct {
	Tick    uint64         `json:"tick"`
	Now     float64        `json:"now"`
	Agents  int            `json:"agents"`
	ByKey   map[string]int `json:"by_key"`
	Reduced int            `json:"reduced"`
	Engaged int            `json:"engaged"`
	Queue   *Snapshot      `json:"queue,omitempty"`
}

// Stats summarizes the population for operators and tests.
func (s *Simulation) Stats() Stats {
	st := Stats{
		Tick:   s.tick,
		Now:    s.now,
		Agents: len(s.agents),
		ByKey:  make(map[string]int, 8),
	}
	for _, a := range s.agents {
		st.ByKey[s.rt.Keys.Name(a.Key)]++
		if a.Fidelity == FidelityReduced {
			st.Reduced++
		}
		if a.StackDepth() > 0 {
			st.Engaged++
		}
	}
	if s.rt.Queues != nil {
		snap := s.rt.Queues.Snapshot()
		st.Queue = &snap
	}
	return st
}
