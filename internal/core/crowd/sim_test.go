package crowd

import (
	"errors"
	"math"
	"testing"

	"github.com/zeusync/crowdsim/internal/core/assets"
	"github.com/zeusync/crowdsim/internal/core/events/bus"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// patientBundle returns the default scene with impatience pushed far out, so
// journey tests cannot be cut short by a timeout draw.
func patientBundle() *assets.Bundle {
	b := assets.DefaultBundle()
	for i := range b.Archetypes {
		if b.Archetypes[i].ID == "walker" {
			for key := range b.Archetypes[i].Timeouts {
				b.Archetypes[i].Timeouts[key] = assets.Range{Min: 600, Max: 600}
			}
		}
	}
	return b
}

func newTestSim(t *testing.T, seed int64, b *assets.Bundle, eb bus.Bus) *Simulation {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = seed
	s, err := New(cfg, b, eb, log.NewNop())
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	return s
}

// kindCollector gathers notification kinds in publish order. The bus calls
// handlers synchronously on the stepping goroutine, so no locking is needed.
type kindCollector struct {
	kinds []string
}

func (c *kindCollector) collect(eb bus.Bus) {
	_, _ = eb.SubscribeAll(func(e bus.Event) error {
		c.kinds = append(c.kinds, e.Kind())
		return nil
	})
}

func (c *kindCollector) saw(kind string) bool {
	for _, k := range c.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func TestSpawnEntersFallbackBehavior(t *testing.T) {
	s := newTestSim(t, 1, assets.DefaultBundle(), nil)

	a, err := s.Spawn("walker")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if a.Key != KeyIdle {
		t.Fatalf("spawned into %v, want idle", a.Key)
	}
	if a.State() == nil {
		t.Fatal("live agent must always have a state bound")
	}
	if a.ID != "a-000000" {
		t.Fatalf("first agent id = %q", a.ID)
	}

	if _, err = s.Spawn("nobody"); !errors.Is(err, ErrMissingAsset) {
		t.Fatalf("unknown archetype should report a missing asset, got %v", err)
	}
}

func TestStatesAreNeverNilUnderChurn(t *testing.T) {
	s := newTestSim(t, 7, assets.DefaultBundle(), nil)
	for i := 0; i < 12; i++ {
		if _, err := s.Spawn("walker"); err != nil {
			t.Fatalf("spawn: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		if _, err := s.Spawn("patron"); err != nil {
			t.Fatalf("spawn: %v", err)
		}
	}

	for tick := 0; tick < 3000; tick++ {
		s.Step(0.1)
		s.Each(func(a *Agent) {
			if a.State() == nil {
				t.Fatalf("agent %s lost its state at tick %d", a.ID, tick)
			}
			if a.State().Key() != a.Key {
				t.Fatalf("agent %s key %v disagrees with state %v", a.ID, a.Key, a.State().Key())
			}
		})
	}
}

func TestPatronJourneyThroughTheShop(t *testing.T) {
	eb := bus.New()
	col := &kindCollector{}
	col.collect(eb)

	s := newTestSim(t, 3, patientBundle(), eb)
	a, err := s.Spawn("patron")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	a.Scratch.Pending = true

	for tick := 0; tick < 6000 && s.Count() > 0; tick++ {
		s.Step(0.1)
	}

	if s.Count() != 0 {
		t.Fatalf("patron never finished its visit; stuck in %v", a.Key)
	}
	for _, want := range []string{
		EvAgentArrived,
		EvVenueEntered,
		EvServiceStarted,
		EvServiceCompleted,
		EvVenueLeft,
		EvAgentDespawned,
	} {
		if !col.saw(want) {
			t.Fatalf("journey never produced %q; saw %v", want, col.kinds)
		}
	}
}

func TestDigestIsDeterministicAcrossRuns(t *testing.T) {
	run := func() []uint64 {
		s := newTestSim(t, 99, assets.DefaultBundle(), nil)
		for i := 0; i < 8; i++ {
			if _, err := s.Spawn("walker"); err != nil {
				t.Fatalf("spawn: %v", err)
			}
		}
		for i := 0; i < 3; i++ {
			p, err := s.Spawn("patron")
			if err != nil {
				t.Fatalf("spawn: %v", err)
			}
			p.Scratch.Pending = true
		}
		var digests []uint64
		for tick := 1; tick <= 1500; tick++ {
			s.Step(0.1)
			if tick%100 == 0 {
				digests = append(digests, s.Digest())
			}
		}
		return digests
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("digest %d diverged: %x vs %x", i, first[i], second[i])
		}
	}
}

func TestReducedAgentsStepOnTheCadence(t *testing.T) {
	s := newTestSim(t, 5, assets.DefaultBundle(), nil)
	a, err := s.Spawn("walker")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err = s.SetFidelity(a.ID, FidelityReduced); err != nil {
		t.Fatalf("set fidelity: %v", err)
	}

	// four fine steps accumulate below the 0.5s cadence
	for i := 0; i < 4; i++ {
		s.Step(0.1)
	}
	if a.Scratch.Timer != 0 {
		t.Fatalf("reduced agent stepped early, timer %v", a.Scratch.Timer)
	}

	s.Step(0.1)
	if math.Abs(a.Scratch.Timer-0.5) > 1e-9 {
		t.Fatalf("reduced step should cover the accumulated 0.5s, timer %v", a.Scratch.Timer)
	}
}

func TestSetFidelityRebindsWithoutRestarting(t *testing.T) {
	s := newTestSim(t, 11, assets.DefaultBundle(), nil)
	a, err := s.Spawn("patron")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	before := a.Key

	if err = s.SetFidelity(a.ID, FidelityReduced); err != nil {
		t.Fatalf("set fidelity: %v", err)
	}
	if a.Fidelity != FidelityReduced {
		t.Fatalf("fidelity = %v", a.Fidelity)
	}
	if a.Key != before {
		t.Fatalf("rebind changed the behavior key from %v to %v", before, a.Key)
	}
	if a.Speed != a.Archetype.ReducedSpeed {
		t.Fatalf("speed = %v, want the reduced speed %v", a.Speed, a.Archetype.ReducedSpeed)
	}

	if err = s.SetFidelity(a.ID, FidelityActive); err != nil {
		t.Fatalf("back to active: %v", err)
	}
	if a.Speed != a.Archetype.Speed {
		t.Fatalf("speed = %v, want the walk speed %v", a.Speed, a.Archetype.Speed)
	}
}

func TestDespawnOutsideStepIsImmediate(t *testing.T) {
	s := newTestSim(t, 13, assets.DefaultBundle(), nil)
	a, err := s.Spawn("walker")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err = s.Despawn(a.ID); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("population = %d after despawn", s.Count())
	}
	if _, ok := s.AgentByID(a.ID); ok {
		t.Fatal("despawned agent still resolvable")
	}
	if err = s.Despawn(a.ID); !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("double despawn should report inconsistency, got %v", err)
	}
}

func TestImpatienceEscapesAndFreesTheSlot(t *testing.T) {
	eb := bus.New()
	col := &kindCollector{}
	col.collect(eb)

	s := newTestSim(t, 17, patientBundle(), eb)
	rt := s.Runtime()

	blocker, err := s.Spawn("patron")
	if err != nil {
		t.Fatalf("spawn blocker: %v", err)
	}
	if !rt.Queues.TryAcquireCounter(blocker) {
		t.Fatal("counter claim failed")
	}

	waiter, err := s.Spawn("patron")
	if err != nil {
		t.Fatalf("spawn waiter: %v", err)
	}
	rt.Transition(waiter, KeyLineMain)
	if !waiter.InLine(LineMain) {
		t.Fatal("waiter should have joined the main line")
	}
	// shrink the drawn deadline so the wait times out within the test
	waiter.Scratch.Deadline = rt.Now() + 0.3

	for i := 0; i < 20 && waiter.InLine(LineMain); i++ {
		s.Step(0.1)
	}

	if waiter.InLine(LineMain) {
		t.Fatal("impatient waiter never left the line")
	}
	if waiter.Key != KeyExit && waiter.Key != KeyDespawn {
		t.Fatalf("impatient waiter should be leaving, is %v", waiter.Key)
	}
	if !col.saw(EvAgentImpatient) {
		t.Fatal("impatience was never reported")
	}
	if q := rt.Queues.Snapshot(); len(q.Main.FIFO) != 0 {
		t.Fatalf("the abandoned slot was not released: %+v", q.Main)
	}
}
