package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var sweptAttempts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ikhtibar",
	Subsystem: "attempts",
	Name:      "swept_expired_total",
	Help:      "Number of attempts expired by the background sweep",
})

const sweepLockKey = "attempts:expiry-sweep:lock"

// ExpirySweeper periodically expires overdue attempts. Expiry is otherwise
// evaluated lazily on read, so clients may learn about it up to one sweep
// interval late; the sweeper bounds that staleness for attempts nobody reads.
type ExpirySweeper struct {
	attempts AttemptService
	redis    *redis.Client
	interval time.Duration
	nodeID   string
	logger   zerolog.Logger
}

// NewExpirySweeper constructs the sweeper. The redis client is optional; when
// present it is used as a leader lock so only one instance sweeps at a time.
func NewExpirySweeper(attempts AttemptService, redisClient *redis.Client, interval time.Duration, logger zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}

	return &ExpirySweeper{
		attempts: attempts,
		redis:    redisClient,
		interval: interval,
		nodeID:   uuid.NewString(),
		logger:   logger.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass. It is safe to call concurrently with
// in-flight submissions: losing a terminal-state race counts as a no-op.
func (s *ExpirySweeper) RunOnce(ctx context.Context) int {
	if !s.acquireLock(ctx) {
		return 0
	}
	defer s.releaseLock(ctx)

	count, err := s.attempts.ExpireOverdue(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return 0
	}

	if count > 0 {
		sweptAttempts.Add(float64(count))
	}
	return count
}

func (s *ExpirySweeper) acquireLock(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}

	// Lock TTL outlives the interval so a crashed holder cannot block sweeps
	// for long while still preventing overlap between live instances.
	acquired, err := s.redis.SetNX(ctx, sweepLockKey, s.nodeID, 2*s.interval).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to acquire sweep lock, sweeping anyway")
		return true
	}
	return acquired
}

func (s *ExpirySweeper) releaseLock(ctx context.Context) {
	if s.redis == nil {
		return
	}

	owner, err := s.redis.Get(ctx, sweepLockKey).Result()
	if err != nil || owner != s.nodeID {
		return
	}
	if err := s.redis.Del(ctx, sweepLockKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to release sweep lock")
	}
}
