// Package scheduler runs the autopilot that drives live negotiations on the
// server side:
//  1. advanceLoop  – steps every live deal once its turn delay has elapsed.
//  2. approvalLoop – sends confirmation links for deals parked at TRANSPORT_AGREED.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborators
// ──────────────────────────────────────────────────────────────────────────────

// Advancer is the slice of service.DealService the autopilot needs.
type Advancer interface {
	ListLive(ctx context.Context, limit int) ([]*domain.Deal, error)
	ListAwaitingApproval(ctx context.Context, limit int) ([]*domain.Deal, error)
	AdvanceTurn(ctx context.Context, id uuid.UUID) (*domain.Deal, error)
}

// ApprovalRequester is implemented by service.ApprovalService.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, id uuid.UUID) (*domain.Deal, error)
}

// Config tunes the autopilot pacing.
type Config struct {
	Interval   time.Duration // poll period
	FirstDelay time.Duration // pause before a deal's first turn
	TurnDelay  time.Duration // pause between later turns
	Batch      int           // deals fetched per poll
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.FirstDelay < 0 {
		c.FirstDelay = 0
	}
	if c.TurnDelay < 0 {
		c.TurnDelay = 0
	}
	if c.Batch <= 0 {
		c.Batch = 50
	}
	return c
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns the autopilot goroutines. Call Start(ctx) once from main();
// cancel the context and call Wait to shut it down.
type Scheduler struct {
	deals     Advancer
	approvals ApprovalRequester
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	inflight sync.Map // uuid.UUID -> struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler. approvals may be nil, in which case deals
// stay at TRANSPORT_AGREED until a client requests approval.
func NewScheduler(deals Advancer, approvals ApprovalRequester, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		deals:     deals,
		approvals: approvals,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background goroutines. It returns immediately; all loops
// run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.advanceLoop(ctx)
	go s.approvalLoop(ctx)
	s.logger.Info("autopilot started",
		"interval", s.cfg.Interval,
		"first_delay", s.cfg.FirstDelay,
		"turn_delay", s.cfg.TurnDelay,
	)
}

// Wait blocks until the loops and every in-flight step have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// ──────────────────────────────────────────────────────────────────────────────
// advanceLoop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) advanceLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.recoverAndLog("advanceLoop")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("advanceLoop: shutting down")
			return
		case <-ticker.C:
			s.advanceDue(ctx)
		}
	}
}

// advanceDue dispatches one step for every live deal whose delay has elapsed.
// A deal already being stepped is skipped until its step returns.
func (s *Scheduler) advanceDue(ctx context.Context) {
	live, err := s.deals.ListLive(ctx, s.cfg.Batch)
	if err != nil {
		s.logger.Error("advanceLoop: ListLive", "err", err)
		return
	}
	now := s.now()
	for _, d := range live {
		if !s.due(d, now) {
			continue
		}
		s.dispatch(ctx, d.ID, "advance", func(ctx context.Context, id uuid.UUID) error {
			next, err := s.deals.AdvanceTurn(ctx, id)
			if err == nil && next.Phase.IsTerminal() {
				s.logger.Info("autopilot: deal finished", "deal_id", id, "phase", next.Phase, "turns", next.TurnCount)
			}
			return err
		})
	}
}

func (s *Scheduler) due(d *domain.Deal, now time.Time) bool {
	delay := s.cfg.TurnDelay
	if d.TurnCount == 0 {
		delay = s.cfg.FirstDelay
	}
	return now.Sub(d.UpdatedAt) >= delay
}

// ──────────────────────────────────────────────────────────────────────────────
// approvalLoop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) approvalLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.recoverAndLog("approvalLoop")

	if s.approvals == nil {
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("approvalLoop: shutting down")
			return
		case <-ticker.C:
			s.requestDue(ctx)
		}
	}
}

func (s *Scheduler) requestDue(ctx context.Context) {
	parked, err := s.deals.ListAwaitingApproval(ctx, s.cfg.Batch)
	if err != nil {
		s.logger.Error("approvalLoop: ListAwaitingApproval", "err", err)
		return
	}
	now := s.now()
	for _, d := range parked {
		if now.Sub(d.UpdatedAt) < s.cfg.TurnDelay {
			continue
		}
		s.dispatch(ctx, d.ID, "approval", func(ctx context.Context, id uuid.UUID) error {
			_, err := s.approvals.RequestApproval(ctx, id)
			if domain.IsConflict(err) {
				// A client got there first.
				return nil
			}
			return err
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispatch & panic recovery
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) dispatch(ctx context.Context, id uuid.UUID, job string, fn func(context.Context, uuid.UUID) error) {
	if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(id)
		defer s.recoverAndLog(job)

		if err := fn(ctx, id); err != nil && ctx.Err() == nil {
			s.logger.Warn("autopilot step failed", "job", job, "deal_id", id, "err", err)
		}
	}()
}

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
