package assets

// DefaultBundle returns a small built-in scene: a two-street network feeding a
// single corner shop with a three-slot main line and a four-slot overflow
// line. It is used by the example binary, as the server fallback when no
// asset path is configured, and by tests that need a coherent scene.
func DefaultBundle() *Bundle {
	return &Bundle{
		SpawnPoints: []VecSpec{
			{X: -30, Y: 0, Z: 0},
			{X: 30, Y: 0, Z: 0},
		},
		Paths: []PathSpec{
			{
				ID:       "high-street",
				NextNode: "high-street-end",
				Waypoints: []VecSpec{
					{X: -30, Z: 0}, {X: -10, Z: 0}, {X: 10, Z: 0}, {X: 30, Z: 0},
				},
			},
			{
				ID:       "market-lane",
				NextNode: "market-end",
				Waypoints: []VecSpec{
					{X: 10, Z: 0}, {X: 10, Z: 15}, {X: 0, Z: 22},
				},
			},
			{
				ID:       "to-venue",
				NextNode: "venue-door",
				Waypoints: []VecSpec{
					{X: 10, Z: 0}, {X: 4, Z: 10}, {X: 0, Z: 15},
				},
			},
		},
		Nodes: []NodeSpec{
			{
				ID: "street-hub",
				Options: []OptionSpec{
					{Path: "high-street", Start: 0},
					{Path: "high-street", Start: 3, Reverse: true},
					{Path: "market-lane", Start: 0},
				},
			},
			{
				ID: "high-street-end",
				Options: []OptionSpec{
					{Path: "high-street", Start: 3, Reverse: true},
					{Path: "market-lane", Start: 0},
					{Key: "idle"},
				},
			},
			{
				ID: "market-end",
				Options: []OptionSpec{
					{Path: "market-lane", Start: 2, Reverse: true},
					{Key: "idle"},
				},
			},
			{
				ID: "venue-door",
				Options: []OptionSpec{
					{Key: "enter"},
				},
			},
		},
		Archetypes: []ArchetypeSpec{
			{
				ID:           "walker",
				Speed:        1.4,
				ReducedSpeed: 1.4,
				EntryNode:    "street-hub",
				FallbackKey:  "idle",
				IdleDwell:    Range{Min: 2, Max: 6},
				Timeouts: map[string]Range{
					"browse":          {Min: 20, Max: 30},
					"move_to_counter": {Min: 30, Max: 40},
					"line_main":       {Min: 25, Max: 45},
					"line_overflow":   {Min: 20, Max: 35},
				},
			},
			{
				ID:          "patron",
				Base:        "walker",
				Venue:       true,
				Speed:       1.4,
				PendingPath: "to-venue",
				Browse:      BrowseSpec{Hops: IntRange{Min: 2, Max: 4}, Dwell: Range{Min: 2, Max: 5}},
			},
		},
		Facility: &FacilitySpec{
			ID:       "corner-shop",
			Entrance: VecSpec{X: 0, Z: 15},
			Exit:     VecSpec{X: 2, Z: 15},
			Counter:  VecSpec{X: 0, Z: 19},
			BrowseAnchors: []VecSpec{
				{X: -2, Z: 17.5}, {X: 2, Z: 18}, {X: -1, Z: 19.5},
			},
			ServiceDelay:     Range{Min: 0.5, Max: 1.5},
			ServiceTime:      Range{Min: 4, Max: 9},
			ReleaseThreshold: 1,
			Main: LineSpec{
				Capacity: 3,
				Anchors:  []VecSpec{{X: 0.8, Z: 18.6}, {X: 1.2, Z: 17.6}, {X: 1.6, Z: 16.6}},
			},
			Overflow: LineSpec{
				Capacity: 4,
				Anchors:  []VecSpec{{X: 3, Z: 14}, {X: 4, Z: 13}, {X: 5, Z: 12}, {X: 6, Z: 11}},
			},
		},
	}
}
