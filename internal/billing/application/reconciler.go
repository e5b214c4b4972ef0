package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

const refreshKey = "subscription"

// RefreshResult describes the snapshot a refresh settled on.
type RefreshResult struct {
	Snapshot domain.Snapshot
	// Stale is set when the snapshot came from the local cache.
	Stale bool
	// Offline is set when the backend could not be reached.
	Offline bool
	// FetchedAt is when the snapshot was fetched from the backend.
	FetchedAt time.Time
}

// Reconciler owns the in-memory subscription snapshot. It is the only
// writer of the snapshot cache.
type Reconciler struct {
	session   AuthSession
	cache     domain.SnapshotCache
	logger    *slog.Logger
	clock     domain.Clock
	metrics   observability.Metrics
	publisher eventbus.Publisher

	group singleflight.Group

	// commitMu serializes cache writes and publishes. generation counts
	// mutations, adoptions and resets; a fetch that started under an older
	// generation is discarded instead of committed.
	commitMu   sync.Mutex
	generation uint64

	mu      sync.RWMutex
	current RefreshResult
	loading bool

	subMu       sync.Mutex
	subscribers map[uint64]func(domain.Snapshot)
	nextSubID   uint64
}

// NewReconciler creates a reconciler holding the none snapshot until the
// first refresh completes.
func NewReconciler(session AuthSession, cache domain.SnapshotCache, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		session:     session,
		cache:       cache,
		logger:      logger,
		clock:       domain.SystemClock{},
		metrics:     observability.NoopMetrics{},
		current:     RefreshResult{Snapshot: domain.NoSubscription()},
		loading:     true,
		subscribers: make(map[uint64]func(domain.Snapshot)),
	}
}

// WithClock overrides the time source.
func (r *Reconciler) WithClock(clock domain.Clock) *Reconciler {
	r.clock = clock
	return r
}

// WithMetrics records refresh outcomes.
func (r *Reconciler) WithMetrics(metrics observability.Metrics) *Reconciler {
	r.metrics = metrics
	return r
}

// WithEventPublisher announces every published snapshot on the event bus.
func (r *Reconciler) WithEventPublisher(publisher eventbus.Publisher) *Reconciler {
	r.publisher = publisher
	return r
}

// Current returns a copy of the snapshot last published.
func (r *Reconciler) Current() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Snapshot.Clone()
}

// Last returns the last published result.
func (r *Reconciler) Last() RefreshResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.current
	res.Snapshot = res.Snapshot.Clone()
	return res
}

// IsLoading reports whether no refresh has completed yet.
func (r *Reconciler) IsLoading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading
}

// Subscribe registers fn to receive every published snapshot. The returned
// function removes the subscription and is safe to call more than once.
// fn runs while the snapshot is being committed and must not call Refresh,
// Adopt or Reset.
func (r *Reconciler) Subscribe(fn func(domain.Snapshot)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subscribers, id)
			r.subMu.Unlock()
		})
	}
}

// Refresh fetches the subscription from the backend. Concurrent callers
// share a single in-flight request; the request runs under the first
// caller's context.
//
// Transport failures fall back to the cached snapshot (or none) and return
// no error. Server refusals and malformed payloads are returned and leave
// the published snapshot untouched.
func (r *Reconciler) Refresh(ctx context.Context) (RefreshResult, error) {
	v, err, shared := r.group.Do(refreshKey, func() (any, error) {
		return r.refresh(ctx)
	})
	if shared {
		r.logger.DebugContext(ctx, "joined in-flight refresh")
	}
	if err != nil {
		return RefreshResult{}, err
	}
	res := v.(RefreshResult)
	res.Snapshot = res.Snapshot.Clone()
	return res, nil
}

// RefreshAfterMutation fetches in a new flight so the result reflects a
// mutation that has just completed. Fetches already in flight are discarded
// when they finish.
func (r *Reconciler) RefreshAfterMutation(ctx context.Context) (RefreshResult, error) {
	r.commitMu.Lock()
	r.generation++
	r.commitMu.Unlock()
	r.group.Forget(refreshKey)
	return r.Refresh(ctx)
}

// SignIn refreshes for a newly signed-in user.
func (r *Reconciler) SignIn(ctx context.Context) (RefreshResult, error) {
	return r.Refresh(ctx)
}

// SignOut drops the cached record and publishes none.
func (r *Reconciler) SignOut(ctx context.Context) error {
	return r.Reset(ctx)
}

// Reset deletes the cached record and publishes the none snapshot.
func (r *Reconciler) Reset(ctx context.Context) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	r.generation++

	if err := r.cache.Delete(ctx); err != nil {
		return errors.Wrap(err, "delete cached subscription")
	}
	r.publish(ctx, RefreshResult{Snapshot: domain.NoSubscription(), FetchedAt: r.clock.Now()})
	return nil
}

// Adopt publishes a snapshot a mutating endpoint returned inline, as if it
// had been fetched.
func (r *Reconciler) Adopt(ctx context.Context, snapshot domain.Snapshot) error {
	userID, ok := r.session.CurrentUserID()
	if !ok {
		return domain.NewValidationError("sign in to continue")
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	r.generation++
	r.store(ctx, userID, snapshot)
	return nil
}

func (r *Reconciler) refresh(ctx context.Context) (RefreshResult, error) {
	r.commitMu.Lock()
	gen := r.generation
	r.commitMu.Unlock()

	userID, ok := r.session.CurrentUserID()
	if !ok {
		return r.commit(ctx, gen, func() RefreshResult {
			if err := r.cache.Delete(ctx); err != nil {
				r.logger.WarnContext(ctx, "failed to clear cached subscription", "error", err)
			}
			res := RefreshResult{Snapshot: domain.NoSubscription(), FetchedAt: r.clock.Now()}
			r.publish(ctx, res)
			return res
		}), nil
	}

	raw, err := r.session.AuthorizedRequest(ctx, http.MethodGet, PathDetails, nil)
	if err != nil {
		if !domain.IsTransient(err) {
			r.metrics.Counter(observability.MetricRefreshTotal, 1, observability.T("outcome", "rejected"))
			r.logger.WarnContext(ctx, "subscription refresh refused", observability.ErrorKey, err)
			r.finishLoading()
			return RefreshResult{}, errors.Wrap(err, "refresh subscription")
		}
		return r.commit(ctx, gen, func() RefreshResult {
			return r.fallback(ctx, userID, err)
		}), nil
	}

	snapshot, err := domain.DecodeDetails(raw)
	if err != nil {
		r.metrics.Counter(observability.MetricRefreshIntegrity, 1)
		r.logger.ErrorContext(ctx, "rejected malformed subscription payload", "error", err)
		r.finishLoading()
		return RefreshResult{}, err
	}

	r.metrics.Counter(observability.MetricRefreshTotal, 1, observability.T("outcome", "fetched"))
	return r.commit(ctx, gen, func() RefreshResult {
		return r.store(ctx, userID, snapshot)
	}), nil
}

// commit runs apply unless a mutation, adoption or reset happened after the
// fetch began, in which case the fetched result is dropped and the snapshot
// published since is returned.
func (r *Reconciler) commit(ctx context.Context, gen uint64, apply func() RefreshResult) RefreshResult {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	if gen != r.generation {
		r.metrics.Counter(observability.MetricRefreshTotal, 1, observability.T("outcome", "superseded"))
		r.logger.DebugContext(ctx, "discarding superseded refresh")
		return r.Last()
	}
	return apply()
}

// store persists and publishes a trusted snapshot. Callers hold commitMu.
func (r *Reconciler) store(ctx context.Context, userID string, snapshot domain.Snapshot) RefreshResult {
	now := r.clock.Now()
	if snapshot.IsNone() {
		if err := r.cache.Delete(ctx); err != nil {
			r.logger.WarnContext(ctx, "failed to clear cached subscription", "error", err)
		}
	} else {
		cached := domain.CachedSnapshot{UserID: userID, CachedAt: now, Snapshot: snapshot.Clone()}
		if err := r.cache.Save(ctx, cached); err != nil {
			r.logger.WarnContext(ctx, "failed to cache subscription", "error", err)
		}
	}

	res := RefreshResult{Snapshot: snapshot, FetchedAt: now}
	r.publish(ctx, res)
	return res
}

// fallback adopts the cached snapshot of the same user, or none. Callers
// hold commitMu.
func (r *Reconciler) fallback(ctx context.Context, userID string, cause error) RefreshResult {
	// The request context may already be done; the cache read must still run.
	cacheCtx := context.WithoutCancel(ctx)
	offline := domain.IsTransient(cause)

	r.metrics.Counter(observability.MetricRefreshFallback, 1)
	r.logger.WarnContext(ctx, "subscription refresh failed, using local data",
		"offline", offline,
		observability.ErrorKey, cause,
	)

	res := RefreshResult{Snapshot: domain.NoSubscription(), Offline: offline}
	cached, err := r.cache.Load(cacheCtx)
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "failed to read cached subscription", "error", err)
	case cached == nil:
	case cached.UserID != userID:
		r.logger.InfoContext(ctx, "ignoring cached subscription of another user")
	default:
		if verr := cached.Snapshot.Validate(); verr != nil {
			r.logger.WarnContext(ctx, "ignoring invalid cached subscription", "error", verr)
			break
		}
		res.Snapshot = cached.Snapshot
		res.Stale = true
		res.FetchedAt = cached.CachedAt
	}

	r.publish(ctx, res)
	return res
}

func (r *Reconciler) finishLoading() {
	r.mu.Lock()
	r.loading = false
	r.mu.Unlock()
}

func (r *Reconciler) publish(ctx context.Context, res RefreshResult) {
	r.mu.Lock()
	r.current = RefreshResult{
		Snapshot:  res.Snapshot.Clone(),
		Stale:     res.Stale,
		Offline:   res.Offline,
		FetchedAt: res.FetchedAt,
	}
	r.loading = false
	r.mu.Unlock()

	r.subMu.Lock()
	listeners := make([]func(domain.Snapshot), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		listeners = append(listeners, fn)
	}
	r.subMu.Unlock()

	for _, fn := range listeners {
		fn(res.Snapshot.Clone())
	}

	r.announce(ctx, res)
}

type subscriptionEvent struct {
	UserID     string                    `json:"userId,omitempty"`
	Status     domain.SubscriptionStatus `json:"status"`
	PlanID     string                    `json:"planId,omitempty"`
	Stale      bool                      `json:"stale"`
	Offline    bool                      `json:"offline"`
	OccurredAt time.Time                 `json:"occurredAt"`
}

func (r *Reconciler) announce(ctx context.Context, res RefreshResult) {
	if r.publisher == nil {
		return
	}
	event := subscriptionEvent{
		Status:     res.Snapshot.Status,
		Stale:      res.Stale,
		Offline:    res.Offline,
		OccurredAt: r.clock.Now().UTC(),
	}
	if userID, ok := r.session.CurrentUserID(); ok {
		event.UserID = userID
	}
	if res.Snapshot.ActivePlan != nil {
		event.PlanID = res.Snapshot.ActivePlan.ID
	}
	routingKey := eventbus.RoutingKeySubscriptionUpdated
	if res.Snapshot.IsNone() {
		routingKey = eventbus.RoutingKeySubscriptionCleared
	}

	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode subscription event", "error", err)
		return
	}
	if err := r.publisher.Publish(context.WithoutCancel(ctx), routingKey, payload); err != nil {
		r.logger.WarnContext(ctx, "failed to publish subscription event",
			"routing_key", routingKey,
			"error", err,
		)
	}
}
