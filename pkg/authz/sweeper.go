package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/palisade/pkg/cache"
	"github.com/platinummonkey/palisade/pkg/observability"
)

// Sweeper periodically finds users whose grants expired since the previous
// sweep and clears their cached resolutions. TTL already bounds staleness;
// the sweeper tightens that bound to one sweep interval for expiry, which
// has no mutation event to ride on.
type Sweeper struct {
	repo    Repository
	cache   cache.Cache
	log     *observability.Logger
	metrics *observability.Metrics
	spec    string
	timeout time.Duration

	cron *cron.Cron

	mu   sync.Mutex
	last time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepSchedule sets the cron spec for sweep runs. The default runs
// every minute.
func WithSweepSchedule(spec string) SweeperOption {
	return func(s *Sweeper) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// WithSweepTimeout bounds one sweep run.
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSweeperMetrics attaches Prometheus metrics.
func WithSweeperMetrics(m *observability.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// NewSweeper creates the expired-grant sweeper.
func NewSweeper(repo Repository, c cache.Cache, log *observability.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:    repo,
		cache:   c,
		log:     log,
		spec:    "@every 1m",
		timeout: 30 * time.Second,
		last:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep job. The cron scheduler skips a tick when the
// previous run is still in flight.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.Sweep(runCtx); err != nil {
			s.log.WithError(err).Error("expired-grant sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", s.spec, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep evicts cached resolutions for every user with a grant that expired
// since the previous successful sweep. The window only advances on success,
// so a failed run is retried over the same span.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.mu.Lock()
	from := s.last
	s.mu.Unlock()
	to := time.Now()

	userIDs, err := s.repo.GetUsersWithGrantsExpiredBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to find expired grants: %w", err)
	}

	var removed int
	for _, userID := range userIDs {
		n, err := s.cache.DeletePattern(ctx, UserKeyPattern(userID))
		if err != nil {
			return fmt.Errorf("failed to evict expired grants for user %s: %w", userID, err)
		}
		removed += n
	}

	if s.metrics != nil && removed > 0 {
		s.metrics.CacheEvictionsTotal.WithLabelValues("grant_expired").Add(float64(removed))
	}
	if len(userIDs) > 0 {
		s.log.WithField("users", len(userIDs)).WithField("removed", removed).
			Info("evicted cached resolutions for expired grants")
	}

	s.mu.Lock()
	s.last = to
	s.mu.Unlock()
	return nil
}
