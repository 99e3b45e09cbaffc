package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandValidate(t *testing.T) {
	valid := []Command{
		{Op: OpSpawn, Archetype: "patron"},
		{Op: OpSpawn, Archetype: "patron", Count: 10},
		{Op: OpDespawn, AgentID: "a-000001"},
		{Op: OpInterrupt, AgentID: "a-000001", Key: "engaged"},
		{Op: OpResume, AgentID: "a-000001"},
		{Op: OpFidelity, AgentID: "a-000001", Fidelity: "reduced"},
		{Op: OpFidelity, AgentID: "a-000001", Fidelity: "active"},
	}
	for _, cmd := range valid {
		assert.NoError(t, cmd.Validate(), "op %s", cmd.Op)
	}

	invalid := []Command{
		{},
		{Op: "restart"},
		{Op: OpSpawn},
		{Op: OpSpawn, Archetype: "patron", Count: -1},
		{Op: OpDespawn},
		{Op: OpInterrupt, AgentID: "a-000001"},
		{Op: OpInterrupt, Key: "engaged"},
		{Op: OpResume},
		{Op: OpFidelity, AgentID: "a-000001"},
		{Op: OpFidelity, AgentID: "a-000001", Fidelity: "half"},
	}
	for _, cmd := range invalid {
		err := cmd.Validate()
		require.Error(t, err, "op %q", cmd.Op)
		assert.ErrorIs(t, err, ErrUnknownCommand)
	}
}

func TestInboxDrainsControlBeforeSpawns(t *testing.T) {
	in := newInbox(16)

	require.NoError(t, in.Push(Command{Op: OpSpawn, Archetype: "patron"}))
	require.NoError(t, in.Push(Command{Op: OpDespawn, AgentID: "a-000001"}))
	require.NoError(t, in.Push(Command{Op: OpSpawn, Archetype: "staff"}))
	require.NoError(t, in.Push(Command{Op: OpResume, AgentID: "a-000002"}))

	cmds := in.Drain()
	require.Len(t, cmds, 4)

	// agent control first, then spawns, arrival order within each band
	assert.Equal(t, OpDespawn, cmds[0].Op)
	assert.Equal(t, OpResume, cmds[1].Op)
	assert.Equal(t, "patron", cmds[2].Archetype)
	assert.Equal(t, "staff", cmds[3].Archetype)

	assert.Nil(t, in.Drain())
	assert.Equal(t, 0, in.Len())
}

func TestInboxRejectsWhenFull(t *testing.T) {
	in := newInbox(2)

	require.NoError(t, in.Push(Command{Op: OpResume, AgentID: "a-000001"}))
	require.NoError(t, in.Push(Command{Op: OpResume, AgentID: "a-000002"}))

	err := in.Push(Command{Op: OpResume, AgentID: "a-000003"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInboxFull)

	// draining frees capacity again
	require.Len(t, in.Drain(), 2)
	assert.NoError(t, in.Push(Command{Op: OpResume, AgentID: "a-000003"}))
}
