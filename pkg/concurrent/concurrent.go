package concurrent

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/crowdsim/pkg/sequence"
)

// Concurrent runs the action function for each element of the iterator in a
// separate goroutine. It waits for all goroutines to finish and returns the
// first error encountered, if any.
func Concurrent[T any](i *sequence.Iterator[T], action func(T) error) error {
	errGroup := errgroup.Group{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		errGroup.Go(func() error {
			return action(value)
		})
	}

	return errGroup.Wait()
}

// ParallelMute runs the action function for each element of the iterator in a
// separate goroutine, ignoring errors. It waits for all goroutines to finish.
func ParallelMute[T any](i *sequence.Iterator[T], action func(T) error) {
	wg := sync.WaitGroup{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		wg.Add(1)
		go func(value T) {
			defer wg.Done()
			_ = action(value)
		}(value)
	}

	wg.Wait()
}
