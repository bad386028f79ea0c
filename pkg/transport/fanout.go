package transport

import (
	"context"
	"sync"
	"time"

	"kmesh/pkg/models"
)

// Outcome is the result of one call issued by FanOut.
type Outcome[T any] struct {
	Target models.PeerID
	Value  T
	Err    error
}

// CallFunc makes one call to one target.
type CallFunc[T any] func(ctx context.Context, target models.PeerID) (T, error)

// FanOut calls every target concurrently and waits for all of them. Each call
// gets its own timeout when timeout > 0, so one slow target cannot hold the
// others past their budget. Outcomes are returned in target order.
func FanOut[T any](ctx context.Context, targets []models.PeerID, timeout time.Duration, call CallFunc[T]) []Outcome[T] {
	outcomes := make([]Outcome[T], len(targets))
	if len(targets) == 0 {
		return outcomes
	}

	var waitGroup sync.WaitGroup
	for i, target := range targets {
		waitGroup.Add(1)
		go func(idx int, peer models.PeerID) {
			defer waitGroup.Done()

			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			value, err := call(callCtx, peer)
			outcomes[idx] = Outcome[T]{Target: peer, Value: value, Err: err}
		}(i, target)
	}
	waitGroup.Wait()

	return outcomes
}
