package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

func TestPhaseTicker_OverdueEscalation(t *testing.T) {
	details := activeDetails
	session := newFakeSession("user-1")
	session.serve(&details)
	reconciler := newTestReconciler(session, &memoryCache{})
	_, err := reconciler.Refresh(context.Background())
	require.NoError(t, err)

	clock := &fixedClock{now: date("2024-01-15")}
	ticker := NewPhaseTicker(reconciler, clock, time.Minute, nil)

	views, changed := ticker.Evaluate()
	assert.True(t, changed)
	require.Len(t, views, 1)
	assert.Equal(t, domain.PhaseGracePeriod, views[0].Phase)

	_, changed = ticker.Evaluate()
	assert.False(t, changed)

	clock.set(date("2024-01-26"))
	views, changed = ticker.Evaluate()
	assert.True(t, changed)
	assert.Equal(t, domain.PhaseOverdue, views[0].Phase)

	assert.Equal(t, domain.BillDue, reconciler.Current().History[1].Bill.Status)
}

func TestPhaseTicker_Run(t *testing.T) {
	details := activeDetails
	session := newFakeSession("user-1")
	session.serve(&details)
	reconciler := newTestReconciler(session, &memoryCache{})
	_, err := reconciler.Refresh(context.Background())
	require.NoError(t, err)

	clock := &fixedClock{now: date("2024-01-09")}
	ticker := NewPhaseTicker(reconciler, clock, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	phases := make(chan domain.BillPhase, 8)
	done := make(chan error, 1)
	go func() {
		done <- ticker.Run(ctx, func(views []domain.BillView) {
			phases <- views[0].Phase
		})
	}()

	assert.Equal(t, domain.PhaseDue, <-phases)
	clock.set(date("2024-01-11"))
	assert.Equal(t, domain.PhaseGracePeriod, <-phases)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestNewPhaseTicker_Defaults(t *testing.T) {
	ticker := NewPhaseTicker(newTestReconciler(newFakeSession(""), &memoryCache{}), nil, 0, nil)
	assert.Equal(t, time.Minute, ticker.interval)
	views, changed := ticker.Evaluate()
	assert.Empty(t, views)
	assert.True(t, changed)
}

func TestPhaseTicker_EvaluateWhileRunning(t *testing.T) {
	details := activeDetails
	session := newFakeSession("user-1")
	session.serve(&details)
	reconciler := newTestReconciler(session, &memoryCache{})
	_, err := reconciler.Refresh(context.Background())
	require.NoError(t, err)

	ticker := NewPhaseTicker(reconciler, &fixedClock{now: date("2024-01-09")}, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ticker.Run(ctx, func([]domain.BillView) {}) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				views, _ := ticker.Evaluate()
				assert.Len(t, views, 1)
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done

	_, changed := ticker.Evaluate()
	assert.False(t, changed)
}
