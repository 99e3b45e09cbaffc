package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crowdsim/internal/core/crowd"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, log.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickRate = 0
	_, err := New(cfg, log.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestServerAppliesQueuedCommands(t *testing.T) {
	s := newTestServer(t, nil)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpSpawn, Archetype: "walker", Count: 2}))
	assert.Equal(t, 1, s.inbox.Len())

	s.step(0.05)

	assert.Equal(t, 2, s.Simulation().Count())
	st := s.Stats()
	assert.Equal(t, 2, st.Sim.Agents)
	assert.Equal(t, 0, st.Inbox)
	assert.Len(t, st.Digest, 16)
}

func TestEnqueueCommandValidates(t *testing.T) {
	s := newTestServer(t, nil)

	err := s.EnqueueCommand(Command{Op: "restart"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, 0, s.inbox.Len())
}

func TestCommandFailuresDoNotStopTheLoop(t *testing.T) {
	s := newTestServer(t, nil)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpDespawn, AgentID: "a-999999"}))
	require.NoError(t, s.EnqueueCommand(Command{Op: OpInterrupt, AgentID: "a-999999", Key: "no-such-key"}))
	require.NoError(t, s.EnqueueCommand(Command{Op: OpResume, AgentID: "a-999999"}))

	s.step(0.05)
	s.step(0.05)

	assert.Equal(t, uint64(2), s.Stats().Sim.Tick)
}

func TestAutoSpawnRespectsRateAndCap(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.Spawn = []SpawnRule{{Archetype: "walker", PerSecond: 2, Max: 3}}
	})

	// 2/s at dt=0.05 accrues one whole agent every 10 steps
	for i := 0; i < 9; i++ {
		s.step(0.05)
	}
	assert.Equal(t, 0, s.Simulation().Count())

	s.step(0.05)
	assert.Equal(t, 1, s.Simulation().Count())

	for i := 0; i < 50; i++ {
		s.step(0.05)
	}
	assert.Equal(t, 3, s.Simulation().Count(), "population must hold at the cap")
}

func TestFidelityCapDemotesOverflowAgents(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxActive = 2 })

	require.NoError(t, s.EnqueueCommand(Command{Op: OpSpawn, Archetype: "walker", Count: 4}))
	s.step(0.05)

	st := s.Stats()
	require.Equal(t, 4, st.Sim.Agents)
	assert.Equal(t, 2, st.Sim.Reduced)

	// the oldest agents hold the active slots
	first, ok := s.Simulation().AgentByID("a-000001")
	require.True(t, ok)
	assert.Equal(t, crowd.FidelityActive, first.Fidelity)

	// removing an active agent promotes the next reduced one
	require.NoError(t, s.EnqueueCommand(Command{Op: OpDespawn, AgentID: "a-000001"}))
	s.step(0.05)

	st = s.Stats()
	require.Equal(t, 3, st.Sim.Agents)
	assert.Equal(t, 1, st.Sim.Reduced)
}

func TestFidelityCommandSwitchesTables(t *testing.T) {
	s := newTestServer(t, nil)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpSpawn, Archetype: "walker"}))
	s.step(0.05)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpFidelity, AgentID: "a-000001", Fidelity: "reduced"}))
	s.step(0.05)
	assert.Equal(t, 1, s.Stats().Sim.Reduced)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpFidelity, AgentID: "a-000001", Fidelity: "active"}))
	s.step(0.05)
	assert.Equal(t, 0, s.Stats().Sim.Reduced)
}

func TestInterruptCommandRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpSpawn, Archetype: "walker"}))
	s.step(0.05)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpInterrupt, AgentID: "a-000001", Key: "engaged", Interactor: "guide"}))
	s.step(0.05)

	a, ok := s.Simulation().AgentByID("a-000001")
	require.True(t, ok)
	assert.Equal(t, 1, a.StackDepth())
	assert.Equal(t, "guide", a.Interactor)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpResume, AgentID: "a-000001"}))
	s.step(0.05)
	assert.Equal(t, 0, a.StackDepth())
	assert.Empty(t, a.Interactor)
}

func TestStatsSnapshotTracksBusTraffic(t *testing.T) {
	s := newTestServer(t, nil)

	require.NoError(t, s.EnqueueCommand(Command{Op: OpSpawn, Archetype: "patron"}))
	for i := 0; i < 20; i++ {
		s.step(0.05)
	}

	st := s.Stats()
	assert.Greater(t, st.Bus.Published, uint64(0), "spawn must publish notifications")
	assert.Equal(t, st.Bus.Published, st.Bus.Delivered, "hub subscribes to everything")
	assert.Equal(t, DefaultConfig().TickRate, st.TickRate)
}
