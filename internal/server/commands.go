package server

import (
	"fmt"
	"sync"

	"github.com/zeusync/crowdsim/pkg/sequence"
)

// Command operations accepted on POST /command.
const (
	OpSpawn     = "spawn"
	OpDespawn   = "despawn"
	OpInterrupt = "interrupt"
	OpResume    = "resume"
	OpFidelity  = "fidelity"
)

// Command is one external request against the simulation. Commands queue in
// the inbox and apply on the tick goroutine, never concurrently with a step.
type Command struct {
	Op        string `json:"op"`
	Archetype string `json:"archetype,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	// Key names the interruption behavior for interrupt commands.
	Key string `json:"key,omitempty"`
	// Interactor labels who or what triggered an interrupt command.
	Interactor string `json:"interactor,omitempty"`
	// Fidelity is "active" or "reduced" for fidelity commands.
	Fidelity string `json:"fidelity,omitempty"`
	// Count batches spawn commands; zero means one.
	Count int `json:"count,omitempty"`
}

// Validate rejects malformed commands before they enter the inbox.
func (c Command) Validate() error {
	switch c.Op {
	case OpSpawn:
		if c.Archetype == "" {
			return fmt.Errorf("%w: spawn needs an archetype", ErrUnknownCommand)
		}
		if c.Count < 0 {
			return fmt.Errorf("%w: spawn count cannot be negative", ErrUnknownCommand)
		}
	case OpDespawn, OpResume:
		if c.AgentID == "" {
			return fmt.Errorf("%w: %s needs an agent_id", ErrUnknownCommand, c.Op)
		}
	case OpInterrupt:
		if c.AgentID == "" || c.Key == "" {
			return fmt.Errorf("%w: interrupt needs agent_id and key", ErrUnknownCommand)
		}
	case OpFidelity:
		if c.AgentID == "" {
			return fmt.Errorf("%w: fidelity needs an agent_id", ErrUnknownCommand)
		}
		if c.Fidelity != "active" && c.Fidelity != "reduced" {
			return fmt.Errorf("%w: fidelity must be active or reduced, got %q", ErrUnknownCommand, c.Fidelity)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Op)
	}
	return nil
}

// priority ranks commands within one drain: agent control ahead of
// population growth. Equal priorities keep arrival order.
func (c Command) priority() int {
	if c.Op == OpSpawn {
		return 0
	}
	return 1
}

// inbox buffers commands between ticks. Handlers push from gateway
// goroutines; the tick loop drains.
type inbox struct {
	mu    sync.Mutex
	q     *sequence.PriorityQueue[Command]
	limit int
}

func newInbox(limit int) *inbox {
	return &inbox{q: sequence.NewPriorityQueue[Command](), limit: limit}
}

func (in *inbox) Push(cmd Command) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.q.Len() >= in.limit {
		return ErrInboxFull
	}
	in.q.Enqueue(cmd, cmd.priority())
	return nil
}

// Drain empties the inbox in priority order.
func (in *inbox) Drain() []Command {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.q.IsEmpty() {
		return nil
	}
	cmds := make([]Command, 0, in.q.Len())
	for {
		cmd, ok := in.q.Dequeue()
		if !ok {
			break
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (in *inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.q.Len()
}
