package concurrent

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/zeusync/crowdsim/pkg/sequence"
)

func TestConcurrentRunsEveryElement(t *testing.T) {
	var sum atomic.Int64
	err := Concurrent(sequence.From([]int{1, 2, 3, 4}), func(v int) error {
		sum.Add(int64(v))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Load() != 10 {
		t.Fatalf("sum = %d, want 10", sum.Load())
	}
}

func TestConcurrentPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	err := Concurrent(sequence.From([]int{1, 2, 3}), func(v int) error {
		ran.Add(1)
		if v == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	// all goroutines finish even when one fails
	if ran.Load() != 3 {
		t.Fatalf("ran = %d, want 3", ran.Load())
	}
}

func TestParallelMuteIgnoresErrors(t *testing.T) {
	var ran atomic.Int32
	ParallelMute(sequence.From([]string{"a", "b", "c"}), func(string) error {
		ran.Add(1)
		return errors.New("ignored")
	})
	if ran.Load() != 3 {
		t.Fatalf("ran = %d, want 3", ran.Load())
	}
}
