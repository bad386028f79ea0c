package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"kmesh/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOutPreservesTargetOrder(t *testing.T) {
	targets := []models.PeerID{"p1", "p2", "p3", "p4"}

	outcomes := FanOut(context.Background(), targets, 0, func(_ context.Context, target models.PeerID) (string, error) {
		if target == "p2" {
			// Finish last so arrival order differs from target order.
			time.Sleep(20 * time.Millisecond)
		}
		if target == "p3" {
			return "", errors.New("down")
		}
		return "hello " + string(target), nil
	})

	require.Len(t, outcomes, 4)
	for i, target := range targets {
		assert.Equal(t, target, outcomes[i].Target)
	}
	assert.Equal(t, "hello p2", outcomes[1].Value)
	assert.EqualError(t, outcomes[2].Err, "down")
}

func TestFanOutTimeoutIsPerCall(t *testing.T) {
	targets := []models.PeerID{"slow", "fast"}

	start := time.Now()
	outcomes := FanOut(context.Background(), targets, 50*time.Millisecond, func(ctx context.Context, target models.PeerID) (int, error) {
		if target == "slow" {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 1, nil
	})

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.NoError(t, outcomes[1].Err)
	assert.Equal(t, 1, outcomes[1].Value)
}

func TestFanOutNoTargets(t *testing.T) {
	calls := 0
	outcomes := FanOut(context.Background(), nil, 0, func(context.Context, models.PeerID) (int, error) {
		calls++
		return 0, nil
	})

	assert.Empty(t, outcomes)
	assert.Zero(t, calls)
}
