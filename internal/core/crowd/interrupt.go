package crowd

import (
	"fmt"

	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// TryInterrupt suspends the agent's current behavior and switches it to the
// interruption behavior next, pushing a resume frame. interactor names the
// trigger (a peer agent, an operator) and is readable on the record until
// the interruption ends. The suspended behavior's exit hook does not run,
// and its snapshot stores the remaining impatience time so suspension
// pauses the clock. Interruptions nest; the stack unwinds last-in
// first-out. Returns false with no error when the current behavior refuses
// interruption.
func (s *Simulation) TryInterrupt(id string, next Key, interactor string) (bool, error) {
	rt := s.rt
	a, ok := s.agents[id]
	if !ok {
		return false, fmt.Errorf("%w: agent %q", ErrInconsistentState, id)
	}
	if a.state == nil || !a.state.Interruptible() {
		return false, nil
	}
	st, err := rt.Table.Resolve(a.Archetype, a.Fidelity, next)
	if err != nil {
		rt.Events.Error(err, a.ID, "interrupt")
		return false, fmt.Errorf("resolve interruption %s: %w", rt.Keys.Name(next), err)
	}

	frame := suspended{Key: a.Key, Scratch: a.Scratch}
	if frame.Scratch.Deadline > 0 {
		frame.Scratch.Deadline -= rt.Now()
	}
	a.stack = append(a.stack, frame)
	a.Interactor = interactor

	prev := a.Key
	rt.Mover.Stop(a)
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
	rt.Events.Interrupted(a, prev)
	return true, nil
}

// EndInterruption pops the most recent suspension and resumes it. Resuming
// is not a blind restore: the world kept moving, so queue membership and
// counter claims are revalidated and a plan that no longer holds is
// replaced by a fresh transition. Ending with an empty stack is reported
// and parks the agent in its fallback behavior.
func (s *Simulation) EndInterruption(id string) error {
	rt := s.rt
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %q", ErrInconsistentState, id)
	}
	a.Interactor = ""
	if len(a.stack) == 0 {
		err := fmt.Errorf("%w: interruption end with empty stack", ErrInconsistentState)
		rt.Events.Error(err, a.ID, "resume")
		fb := KeyExit
		if a.Archetype != nil && a.Archetype.Fallback != KeyNone {
			fb = a.Archetype.Fallback
		}
		rt.Transition(a, fb)
		return err
	}

	frame := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]

	// Queue membership and venue presence stay live while suspended; the
	// cascade may have moved the agent. Everything else restores from the
	// snapshot, with the paused deadline rebased onto current time.
	live := a.Scratch
	a.Scratch = frame.Scratch
	a.Scratch.Line = live.Line
	a.Scratch.SlotIndex = live.SlotIndex
	a.Scratch.Inside = live.Inside
	a.Scratch.Pending = frame.Scratch.Pending || live.Pending
	if a.Scratch.Deadline > 0 {
		a.Scratch.Deadline += rt.Now()
	}

	key := s.revalidate(a, frame.Key)
	if key == KeyNone {
		// revalidation already rerouted the agent
		return nil
	}

	st, err := rt.Table.Resolve(a.Archetype, a.Fidelity, key)
	if err != nil {
		rt.Events.Error(err, a.ID, "resume")
		rt.Log.Warn("resume target unresolved",
			log.String("agent", a.ID),
			log.String("key", rt.Keys.Name(key)),
			log.Error(err),
		)
		fb := KeyExit
		if a.Archetype != nil && a.Archetype.Fallback != KeyNone && a.Archetype.Fallback != key {
			fb = a.Archetype.Fallback
		}
		rt.Transition(a, fb)
		return nil
	}
	a.Key = key
	a.state = st
	st.Enter(rt, a)
	rt.Events.Resumed(a, key)
	return nil
}

// revalidate checks a resume plan against the current world and returns the
// key to resume as. It returns KeyNone when it already moved the agent onto
// a fresh plan instead.
func (s *Simulation) revalidate(a *Agent, key Key) Key {
	rt := s.rt
	switch key {
	case KeyLineMain, KeyLineOverflow:
		want := LineMain
		if key == KeyLineOverflow {
			want = LineOverflow
		}
		switch {
		case a.InLine(want):
			return key
		case a.Scratch.Line == LineMain:
			// released or rebalanced into the other line while away
			return KeyLineMain
		case a.Scratch.Line == LineOverflow:
			return KeyLineOverflow
		}
		if rt.Queues == nil {
			rt.Transition(a, KeyExit)
			return KeyNone
		}
		if _, err := rt.Queues.TryJoin(a, want); err != nil {
			rt.Events.Error(err, a.ID, "resume rejoin")
			rt.Transition(a, KeyExit)
			return KeyNone
		}
		return key

	case KeyMoveToCounter:
		if rt.Queues == nil {
			rt.Transition(a, KeyExit)
			return KeyNone
		}
		if !rt.Queues.CounterBusy() || rt.Queues.CounterOwner() == a.ID {
			return key
		}
		// the counter was claimed while the agent was away
		if _, err := rt.Queues.TryJoin(a, LineMain); err == nil {
			rt.Transition(a, KeyLineMain)
			return KeyNone
		}
		if _, err := rt.Queues.TryJoin(a, LineOverflow); err == nil {
			rt.Transition(a, KeyLineOverflow)
			return KeyNone
		}
		err := fmt.Errorf("%w: counter taken and both lines full on resume", ErrResourceUnavailable)
		rt.Events.Error(err, a.ID, "resume")
		rt.Transition(a, KeyExit)
		return KeyNone

	default:
		return key
	}
}
