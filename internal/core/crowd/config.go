package crowd

import "github.com/zeusync/crowdsim/internal/core/assets"

// Config holds simulation tuning knobs. Scene content (paths, nodes,
// archetypes, facility) comes from the asset library instead.
type Config struct {
	// Seed feeds the single random source; identical seeds over identical
	// asset bundles reproduce identical runs.
	Seed int64

	// ReducedCadence is the interval in seconds between behavior steps of
	// reduced-fidelity agents. Elapsed time accumulates between steps.
	ReducedCadence float64

	// ArriveRadius is the default arrival tolerance in meters when an
	// archetype does not override it.
	ArriveRadius float64

	// DefaultTimeout bounds the impatience interval for states that escape on
	// timeout but have no per-archetype range configured.
	DefaultTimeout assets.Range

	// PoolSize pre-warms the agent record pool.
	PoolSize int

	// MaxTransitionDepth caps chained immediate transitions within a single
	// step before the agent is forced to the fallback state.
	MaxTransitionDepth int
}

func DefaultConfig() Config {
	return Config{
		Seed:               1,
		ReducedCadence:     0.5,
		ArriveRadius:       0.25,
		DefaultTimeout:     assets.Range{Min: 30, Max: 60},
		PoolSize:           256,
		MaxTransitionDepth: 8,
	}
}
