package application

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

// PhaseTicker periodically recomputes bill display phases so a bill slides
// into its grace period or overdue without a refetch. It only reads the
// reconciler's snapshot.
type PhaseTicker struct {
	reconciler *Reconciler
	clock      domain.Clock
	interval   time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	last   []domain.BillView
	primed bool
}

// NewPhaseTicker creates a ticker firing every interval (a minute if <= 0).
func NewPhaseTicker(reconciler *Reconciler, clock domain.Clock, interval time.Duration, logger *slog.Logger) *PhaseTicker {
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PhaseTicker{reconciler: reconciler, clock: clock, interval: interval, logger: logger}
}

// Evaluate computes the current phases and reports whether any differ from
// the previous evaluation. The first evaluation always reports a change.
// It is safe to call while Run is active.
func (t *PhaseTicker) Evaluate() ([]domain.BillView, bool) {
	views := domain.BillViews(t.reconciler.Current(), t.clock.Now())

	t.mu.Lock()
	defer t.mu.Unlock()
	changed := !t.primed || !slices.EqualFunc(views, t.last, func(a, b domain.BillView) bool {
		return a.Bill.ID == b.Bill.ID && a.Phase == b.Phase
	})
	t.last = views
	t.primed = true
	return views, changed
}

// Run evaluates once immediately and then on every tick, calling onChange
// whenever a phase changed. It returns when ctx is done.
func (t *PhaseTicker) Run(ctx context.Context, onChange func([]domain.BillView)) error {
	if views, changed := t.Evaluate(); changed {
		onChange(views)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			views, changed := t.Evaluate()
			if !changed {
				continue
			}
			t.logger.DebugContext(ctx, "bill phases changed", "bills", len(views))
			onChange(views)
		}
	}
}
