package crowd

import (
	"math"
	"testing"
)

func TestMoverSnapsOntoTargetWithoutOvershoot(t *testing.T) {
	m := NewLineMover()
	a := &Agent{ID: "a", Speed: 2.0, Pos: Vec3{X: 0}}

	m.Request(a, Vec3{X: 0.15})
	done := m.Advance(a, 0.1) // step length 0.2 exceeds the remaining 0.15

	if !done {
		t.Fatal("expected arrival on the snapping step")
	}
	if a.Pos.X != 0.15 || a.Pos.Y != 0 || a.Pos.Z != 0 {
		t.Fatalf("expected exact landing on target, got %+v", a.Pos)
	}
	if a.Scratch.Target != nil {
		t.Fatal("target should clear on arrival")
	}
}

func TestMoverAdvanceReportsArrivalExactlyOnce(t *testing.T) {
	m := NewLineMover()
	a := &Agent{ID: "a", Speed: 1.0}

	m.Request(a, Vec3{X: 2.5})
	arrivals := 0
	for i := 0; i < 10; i++ {
		if m.Advance(a, 1.0) {
			arrivals++
		}
	}
	if arrivals != 1 {
		t.Fatalf("expected one arrival report, got %d", arrivals)
	}
}

func TestMoverWalksStraightAtSpeed(t *testing.T) {
	m := NewLineMover()
	a := &Agent{ID: "a", Speed: 1.0}

	m.Request(a, Vec3{X: 3, Z: 4}) // distance 5
	m.Advance(a, 1.0)

	moved := a.Pos.Length()
	if math.Abs(moved-1.0) > 1e-9 {
		t.Fatalf("expected 1m of travel, got %v", moved)
	}
	// still on the straight line toward the target
	if math.Abs(a.Pos.X/a.Pos.Z-3.0/4.0) > 1e-9 {
		t.Fatalf("expected travel along the target direction, got %+v", a.Pos)
	}
}

func TestMoverRemainingTracksTheApproach(t *testing.T) {
	m := NewLineMover()
	a := &Agent{ID: "a", Speed: 1.0}

	if m.Remaining(a) != 0 {
		t.Fatalf("idle agent should report zero remaining, got %v", m.Remaining(a))
	}

	m.Request(a, Vec3{X: 3})
	if math.Abs(m.Remaining(a)-3.0) > 1e-9 {
		t.Fatalf("remaining = %v, want 3", m.Remaining(a))
	}

	m.Advance(a, 1.0)
	if math.Abs(m.Remaining(a)-2.0) > 1e-9 {
		t.Fatalf("remaining after one step = %v, want 2", m.Remaining(a))
	}

	m.Advance(a, 5.0)
	if m.Remaining(a) != 0 {
		t.Fatalf("arrived agent should report zero remaining, got %v", m.Remaining(a))
	}
}

func TestMoverStopCancelsMovement(t *testing.T) {
	m := NewLineMover()
	a := &Agent{ID: "a", Speed: 1.0}

	m.Request(a, Vec3{X: 10})
	m.Stop(a)

	if a.Scratch.Target != nil {
		t.Fatal("stop should clear the target")
	}
	if m.Advance(a, 1.0) {
		t.Fatal("advance after stop should not report arrival")
	}
	if a.Pos.X != 0 {
		t.Fatalf("agent should not move after stop, got %+v", a.Pos)
	}
}

func TestMoverYawFacesTravelDirection(t *testing.T) {
	m := NewLineMover()
	a := &Agent{ID: "a", Speed: 1.0}

	m.Request(a, Vec3{Z: 5})
	if math.Abs(a.Yaw) > 1e-9 {
		t.Fatalf("facing +Z should be yaw 0, got %v", a.Yaw)
	}

	a = &Agent{ID: "b", Speed: 1.0}
	m.Request(a, Vec3{X: 5})
	if math.Abs(a.Yaw-math.Pi/2) > 1e-9 {
		t.Fatalf("facing +X should be yaw pi/2, got %v", a.Yaw)
	}
}

func TestReducedCadenceStepCoversAccumulatedTime(t *testing.T) {
	// one coarse 0.5s step must land on the same spot as five fine 0.1s steps
	m := NewLineMover()
	fine := &Agent{ID: "fine", Speed: 1.4}
	coarse := &Agent{ID: "coarse", Speed: 1.4}

	dest := Vec3{X: 10}
	m.Request(fine, dest)
	m.Request(coarse, dest)

	for i := 0; i < 5; i++ {
		m.Advance(fine, 0.1)
	}
	m.Advance(coarse, 0.5)

	if math.Abs(fine.Pos.X-coarse.Pos.X) > 1e-9 {
		t.Fatalf("coarse step diverged from fine steps: %v vs %v", coarse.Pos.X, fine.Pos.X)
	}
}
