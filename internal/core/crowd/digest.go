package crowd

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Digest hashes everything externally observable about the population, in
// deterministic order. Two simulations built from the same seed and assets
// and stepped identically report identical digests tick for tick, which is
// how replay drift gets caught.
func (s *Simulation) Digest() uint64 {
	d := xxhash.New()
	var buf [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	f64 := func(v float64) { u64(math.Float64bits(v)) }
	str := func(v string) {
		u64(uint64(len(v)))
		_, _ = d.WriteString(v)
	}
	b := func(v bool) {
		if v {
			u64(1)
		} else {
			u64(0)
		}
	}

	u64(s.tick)
	f64(s.now)
	u64(uint64(len(s.order)))
	for _, id := range s.order {
		a, ok := s.agents[id]
		if !ok {
			continue
		}
		str(a.ID)
		u64(uint64(a.Key))
		u64(uint64(a.Fidelity))
		f64(a.Pos.X)
		f64(a.Pos.Y)
		f64(a.Pos.Z)
		f64(a.Yaw)
		u64(uint64(a.Scratch.Line))
		u64(uint64(int64(a.Scratch.SlotIndex)))
		u64(uint64(a.Scratch.Waypoint))
		str(a.Scratch.PathID)
		b(a.Scratch.Pending)
		b(a.Scratch.Inside)
		u64(uint64(a.StackDepth()))
	}

	if q := s.rt.Queues; q != nil {
		str(q.counterOwner)
		for i := range q.lines {
			l := &q.lines[i]
			for _, occ := range l.occupied {
				b(occ)
			}
			u64(uint64(len(l.fifo)))
			for _, id := range l.fifo {
				str(id)
			}
		}
	}
	return d.Sum64()
}
