package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fintrack/internal/clock"
	applog "fintrack/internal/log"
	"fintrack/internal/services"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a processing cycle at the top of every hour.
const DefaultSchedule = "@hourly"

var ErrAlreadyRunning = errors.New("scheduler is already running")

// Processor is the work performed on every cycle.
type Processor interface {
	ProcessDueTransactions(ctx context.Context, now time.Time) (services.Result, error)
	ProcessDueTransfers(ctx context.Context, now time.Time) (services.Result, error)
}

type SchedulerConfig struct {
	// Schedule is a cron expression or descriptor ("@hourly", "@every 30m", "0 * * * *").
	Schedule string
	// RunOnStart triggers one cycle immediately after Start.
	RunOnStart bool
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Schedule:   DefaultSchedule,
		RunOnStart: true,
	}
}

// CycleResult reports one processing cycle.
type CycleResult struct {
	ID           string
	Transactions services.Result
	Transfers    services.Result
	Err          error
}

// Scheduler periodically runs the recurring processor. At most one
// processing loop is active per Scheduler.
type Scheduler struct {
	processor Processor
	schedule  cron.Schedule
	config    SchedulerConfig
	clock     clock.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler validates the cron expression and returns a stopped scheduler.
// A nil clock uses the real time source.
func NewScheduler(processor Processor, config SchedulerConfig, clk clock.Clock) (*Scheduler, error) {
	if processor == nil {
		return nil, errors.New("scheduler needs a processor")
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", config.Schedule, err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		processor: processor,
		schedule:  schedule,
		config:    config,
		clock:     clk,
	}, nil
}

// Start launches the processing loop. It returns ErrAlreadyRunning if the
// loop is already active.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.runLoop(ctx, stopCh, doneCh)

	workerLogger(ctx).InfoContext(ctx, "Recurring scheduler started",
		"schedule", s.config.Schedule,
		"run_on_start", s.config.RunOnStart,
		"next_run", s.schedule.Next(s.clock.Now()).Format(time.RFC3339))

	return nil
}

// Stop signals the loop to exit and waits for the in-flight cycle, if any,
// to finish or for ctx to expire. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	select {
	case <-doneCh:
		workerLogger(ctx).InfoContext(ctx, "Recurring scheduler stopped gracefully")
	case <-ctx.Done():
		workerLogger(ctx).WarnContext(ctx, "Recurring scheduler stop timed out")
		return ctx.Err()
	}

	s.markStopped(doneCh)
	return nil
}

// markStopped clears the running state if doneCh still belongs to the
// current loop. A loop from an earlier Start never resets a newer one.
func (s *Scheduler) markStopped(doneCh chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doneCh == doneCh {
		s.running = false
		s.stopCh = nil
	}
}

// IsRunning returns whether the processing loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runLoop exits on Stop, on ctx cancellation, or when the schedule has no
// future activation. In each case the scheduler is left stopped and can be
// started again.
func (s *Scheduler) runLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer func() {
		s.markStopped(doneCh)
		close(doneCh)
	}()

	if s.config.RunOnStart {
		s.RunCycle(ctx, s.clock.Now())
	}

	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		if next.IsZero() {
			workerLogger(ctx).ErrorContext(ctx, "Schedule has no future activation", "schedule", s.config.Schedule)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-s.clock.After(next.Sub(now)):
			s.RunCycle(ctx, t)
		}
	}
}

// RunCycle processes due recurring transactions and transfers concurrently
// and waits for both. Errors of both sides are logged and collected into the
// result; a panic on either side is recovered. The context passed to the
// processor carries a logger tagged with the cycle id.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) (result CycleResult) {
	result.ID = uuid.NewString()
	start := time.Now()
	logger := workerLogger(ctx).With(applog.NewFields().WithCycle(result.ID).ToSlice()...)
	ctx = applog.WithLogger(ctx, logger)

	logger.InfoContext(ctx, "Recurring cycle started", "now", now.UTC().Format(time.RFC3339))

	var (
		g            multierror.Group
		txRes, trRes services.Result
	)
	g.Go(func() error {
		res, err := s.side(ctx, logger, "transactions", now, s.processor.ProcessDueTransactions)
		txRes = res
		return err
	})
	g.Go(func() error {
		res, err := s.side(ctx, logger, "transfers", now, s.processor.ProcessDueTransfers)
		trRes = res
		return err
	})
	result.Err = g.Wait().ErrorOrNil()
	result.Transactions, result.Transfers = txRes, trRes

	fields := []any{
		applog.FieldDuration, time.Since(start).Milliseconds(),
		"processed", txRes.Processed + trRes.Processed,
		"deactivated", txRes.Deactivated + trRes.Deactivated,
		"failed", txRes.Failed + trRes.Failed,
	}
	if result.Err != nil {
		logger.ErrorContext(ctx, "Recurring cycle finished with errors", append(fields, applog.FieldError, result.Err)...)
	} else {
		logger.InfoContext(ctx, "Recurring cycle complete", fields...)
	}
	return result
}

type processFunc func(ctx context.Context, now time.Time) (services.Result, error)

func (s *Scheduler) side(ctx context.Context, logger *applog.Logger, name string, now time.Time, fn processFunc) (res services.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
		if err != nil {
			logger.ErrorContext(ctx, "Recurring side failed", applog.FieldSide, name, applog.FieldError, err)
		}
	}()

	res, err = fn(ctx, now)
	if err != nil {
		return res, fmt.Errorf("%s: %w", name, err)
	}
	logger.InfoContext(ctx, "Recurring side complete",
		applog.FieldSide, name,
		"checked", res.Checked,
		"processed", res.Processed,
		"deactivated", res.Deactivated,
		"failed", res.Failed)
	return res, nil
}

func workerLogger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentWorker)
}
