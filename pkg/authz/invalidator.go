package authz

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/palisade/pkg/cache"
	"github.com/platinummonkey/palisade/pkg/events"
	"github.com/platinummonkey/palisade/pkg/observability"
)

// Invalidator evicts cached resolutions in response to grant mutation
// events. Eviction is idempotent, so at-least-once delivery from the bus is
// safe; a redelivered event just matches zero keys.
type Invalidator struct {
	repo        Repository
	cache       cache.Cache
	metrics     *observability.Metrics
	log         *observability.Logger
	concurrency int
}

// InvalidatorOption configures an Invalidator.
type InvalidatorOption func(*Invalidator)

// WithEvictionConcurrency bounds the parallel per-user evictions during a
// role fan-out.
func WithEvictionConcurrency(n int) InvalidatorOption {
	return func(inv *Invalidator) {
		if n > 0 {
			inv.concurrency = n
		}
	}
}

// WithInvalidatorMetrics attaches Prometheus metrics.
func WithInvalidatorMetrics(m *observability.Metrics) InvalidatorOption {
	return func(inv *Invalidator) { inv.metrics = m }
}

// NewInvalidator creates the cache invalidation handler.
func NewInvalidator(repo Repository, c cache.Cache, log *observability.Logger, opts ...InvalidatorOption) *Invalidator {
	inv := &Invalidator{
		repo:        repo,
		cache:       c,
		log:         log,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Handle dispatches one envelope to the matching eviction routine. Unknown
// payloads are ignored so the bus can carry event types this handler does
// not care about.
func (inv *Invalidator) Handle(ctx context.Context, ev events.Envelope) error {
	var err error
	switch payload := ev.Payload.(type) {
	case events.UserMutated:
		err = inv.onUserMutated(ctx, payload.UserID)
	case events.RoleDataScopeReassigned:
		err = inv.onRoleDataScopeReassigned(ctx, payload.RoleID)
	case events.UserDataScopeReassigned:
		err = inv.onUserDataScopeReassigned(ctx, payload.UserID)
	default:
		return nil
	}

	if inv.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		inv.metrics.EventsTotal.WithLabelValues(ev.Name(), status).Inc()
	}
	return err
}

// onUserMutated clears every cached artifact for the user. Any mutation to
// the user record may change role membership or tenant admin status, so
// nothing cached for them can be trusted.
func (inv *Invalidator) onUserMutated(ctx context.Context, userID string) error {
	return inv.evict(ctx, "user_mutated", UserKeyPattern(userID))
}

// onRoleDataScopeReassigned looks up every user holding the role and clears
// their data-scope and derived filter-query entries. Per-user failures are
// logged and do not stop the fan-out; the TTL catches anything missed.
func (inv *Invalidator) onRoleDataScopeReassigned(ctx context.Context, roleID string) error {
	userIDs, err := inv.repo.GetUsersForRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("failed to list users for role %s: %w", roleID, err)
	}

	var g errgroup.Group
	g.SetLimit(inv.concurrency)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if err := inv.evictDataScopes(ctx, "role_reassigned", userID); err != nil {
				inv.logger(ctx).WithError(err).
					WithField("role_id", roleID).
					WithField("user_id", userID).
					Error("failed to evict cached scopes for role member")
			}
			return nil
		})
	}
	return g.Wait()
}

// onUserDataScopeReassigned clears the user's data-scope and filter-query
// entries directly.
func (inv *Invalidator) onUserDataScopeReassigned(ctx context.Context, userID string) error {
	return inv.evictDataScopes(ctx, "user_reassigned", userID)
}

// evictDataScopes removes the two key families a data-scope change can
// stale: the resolved scopes and any filter queries derived from them.
func (inv *Invalidator) evictDataScopes(ctx context.Context, reason, userID string) error {
	if err := inv.evict(ctx, reason, DataScopeKeyPattern(userID)); err != nil {
		return err
	}
	return inv.evict(ctx, reason, FilterQueryKeyPattern(userID))
}

func (inv *Invalidator) evict(ctx context.Context, reason, pattern string) error {
	removed, err := inv.cache.DeletePattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to evict pattern %s: %w", pattern, err)
	}
	if inv.metrics != nil && removed > 0 {
		inv.metrics.CacheEvictionsTotal.WithLabelValues(reason).Add(float64(removed))
	}
	inv.logger(ctx).WithField("pattern", pattern).WithField("removed", removed).
		Debug("evicted cached resolutions")
	return nil
}

func (inv *Invalidator) logger(ctx context.Context) *observability.Logger {
	if inv.log != nil {
		return inv.log
	}
	return observability.FromContext(ctx)
}
