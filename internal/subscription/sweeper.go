package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mindgarden/backend/internal/repository"
	"mindgarden/backend/pkg/logger"

	"github.com/adhocore/gronx"
)

// Sweeper periodically marks lapsed subscriptions inactive. Reads already
// treat them as free; the sweep keeps the stored rows in line.
type Sweeper struct {
	repo repository.SubscriptionRepository
	cron string
	log  *logger.Logger
	now  func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSweeper validates the cron expression and creates a sweeper
func NewSweeper(repo repository.SubscriptionRepository, cron string, log *logger.Logger) (*Sweeper, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid subscription sweep cron %q", cron)
	}
	return &Sweeper{repo: repo, cron: cron, log: log, now: time.Now}, nil
}

// Start runs the schedule loop until ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("Subscription sweeper started", "cron", s.cron)
	go s.scheduleLoop(ctx)
}

func (s *Sweeper) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now(), false)
		if err != nil {
			s.log.Error("Failed to compute next sweep", "cron", s.cron, "error", err.Error())
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			s.runJob(ctx)
		case <-ctx.Done():
			s.log.Info("Subscription sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) runJob(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.LogError(err, "Subscription sweep failed")
	}
}

// RunOnce deactivates every subscription that expired before now
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	changed, err := s.repo.DeactivateExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivate expired subscriptions: %w", err)
	}
	if changed > 0 {
		s.log.Info("Expired subscriptions deactivated", "count", changed)
	}
	return changed, nil
}
