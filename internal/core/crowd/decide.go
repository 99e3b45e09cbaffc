package crowd

import (
	"math/rand"

	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// DecisionKind tags what a decision node resolved to.
type DecisionKind uint8

const (
	// DecideNone means no candidate survived filtering; the caller falls
	// back to the archetype fallback behavior.
	DecideNone DecisionKind = iota
	// DecideKey switches the agent to a behavior key.
	DecideKey
	// DecidePath sends the agent down a path.
	DecidePath
)

// Decision is the outcome of evaluating a decision node for one agent.
type Decision struct {
	Kind    DecisionKind
	Key     Key
	Path    *Path
	Start   int
	Reverse bool
}

// Evaluator picks the next directive for an agent standing at a decision
// node. Candidate options come from the node plus any options the agent's
// archetype contributes at that node; options gated to other archetypes or
// naming behaviors the agent cannot run are filtered out, and one survivor
// is drawn uniformly.
type Evaluator struct {
	lib   *Library
	table *Table
	rng   *rand.Rand
	log   log.Log
}

// NewEvaluator builds an evaluator over the bound content library.
func NewEvaluator(lib *Library, table *Table, rng *rand.Rand, lg log.Log) *Evaluator {
	return &Evaluator{lib: lib, table: table, rng: rng, log: lg}
}

// Evaluate resolves what the agent does next at node. A set pending flag
// overrides the node entirely: the agent is routed down its archetype's
// pending path and the flag clears. Returns DecideNone when nothing
// applies.
func (e *Evaluator) Evaluate(a *Agent, node *DecisionNode) Decision {
	if d, ok := e.pendingOverride(a); ok {
		return d
	}
	if node == nil {
		return Decision{Kind: DecideNone}
	}

	candidates := make([]Option, 0, len(node.Options))
	candidates = append(candidates, node.Options...)
	if a.Archetype != nil {
		candidates = append(candidates, a.Archetype.Extra[node.ID]...)
	}

	eligible := candidates[:0]
	for _, opt := range candidates {
		if !e.admits(a, opt) {
			continue
		}
		eligible = append(eligible, opt)
	}
	if len(eligible) == 0 {
		return Decision{Kind: DecideNone}
	}

	pick := eligible[e.rng.Intn(len(eligible))]
	if pick.Path != nil {
		return Decision{Kind: DecidePath, Path: pick.Path, Start: pick.Start, Reverse: pick.Reverse}
	}
	return Decision{Kind: DecideKey, Key: pick.Key}
}

// pendingOverride applies the queued-intent rule: an agent flagged pending
// is diverted onto its archetype's pending path at the next decision point,
// consuming the flag. Agents whose archetype binds no pending path keep the
// flag and decide normally, so the intent survives until it can apply.
func (e *Evaluator) pendingOverride(a *Agent) (Decision, bool) {
	if !a.Scratch.Pending {
		return Decision{}, false
	}
	if a.Archetype == nil || a.Archetype.PendingPath == nil {
		e.log.Debug("pending flag has no override path, deciding normally",
			log.String("agent", a.ID))
		return Decision{}, false
	}
	a.Scratch.Pending = false
	return Decision{Kind: DecidePath, Path: a.Archetype.PendingPath}, true
}

// admits filters one option against the agent: archetype gates must match
// the agent's lineage and key options must name a behavior the agent can
// actually be switched to at its current fidelity.
func (e *Evaluator) admits(a *Agent, opt Option) bool {
	if opt.Archetype != "" && (a.Archetype == nil || !a.Archetype.Is(opt.Archetype)) {
		return false
	}
	if opt.Path != nil {
		return true
	}
	return e.table.Resolvable(a.Archetype, a.Fidelity, opt.Key)
}
