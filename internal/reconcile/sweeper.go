package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	actiondomain "github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	"github.com/smallbiznis/memberledger/internal/clock"
	obslogger "github.com/smallbiznis/memberledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/memberledger/internal/observability/metrics"
	obscontext "github.com/smallbiznis/memberledger/internal/observability/obscontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobPendingRequests = "pending_requests"

var ErrInvalidConfig = errors.New("reconcile: invalid configuration")

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	ActionSvc actiondomain.Service
	Config    Config `optional:"true"`
}

// Sweeper periodically re-drives stale pending action requests through the
// auto-approval path.
type Sweeper struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	actionSvc actiondomain.Service
}

func New(p Params) (*Sweeper, error) {
	if p.Log == nil || p.Clock == nil || p.ActionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		log:       p.Log.Named("reconcile").With(zap.String("component", "reconcile")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		actionSvc: p.ActionSvc,
	}, nil
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobPendingRequests, 30*time.Second, s.sweepPendingRequests)
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	sweepMetrics := obsmetrics.Sweeper()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			sweepMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("reconcile run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "reconcile")
	runID := ulid.Make().String()
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("job", name),
		zap.String("run_id", runID),
	)
	log.Info("reconcile.job.start", zap.Int("batch_size", s.cfg.BatchSize))

	sweepMetrics := obsmetrics.Sweeper()
	sweepMetrics.IncJobRun(name)

	err := fn(ctx)
	sweepMetrics.ObserveJobDuration(name, time.Since(start))
	log.Info("reconcile.job.finish",
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		sweepMetrics.IncJobTimeout(name)
		sweepMetrics.IncJobError(name, err)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	sweepMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Sweeper) sweepPendingRequests(ctx context.Context) error {
	olderThan := s.clock.Now().Add(-s.cfg.PendingThreshold)
	sweepMetrics := obsmetrics.Sweeper()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		processed, err := s.actionSvc.SweepPending(ctx, olderThan, s.cfg.BatchSize)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		if processed == 0 {
			sweepMetrics.IncBatchDeferred(jobPendingRequests, obsmetrics.SweeperBatchDeferredReasonSkipLockedEmpty)
			break
		}
		sweepMetrics.AddBatchProcessed(jobPendingRequests, "action_requests", processed)

		// A full batch means more work may be waiting.
		if processed < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}
