package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/application/engine"
	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
)

// EscalationWorkerConfig holds configuration for the escalation worker
type EscalationWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	SweepTimeout time.Duration
}

// DefaultEscalationWorkerConfig returns default configuration
func DefaultEscalationWorkerConfig() EscalationWorkerConfig {
	return EscalationWorkerConfig{
		PollInterval: 5 * time.Minute,
		BatchSize:    100,
		SweepTimeout: 60 * time.Second,
	}
}

// EscalationWorker periodically sweeps pending workflows and flags the ones
// that have sat at the same level longer than their rule's escalation window.
// Escalation is informational: the workflow stays actionable and the sweep is
// idempotent, so a workflow already in ESCALATED is never touched again.
type EscalationWorker struct {
	config EscalationWorkerConfig

	workflows port.WorkflowRepository
	rules     port.RuleRepository
	engine    *engine.Engine
	logger    *zap.Logger

	// overridable in tests
	now func() time.Time

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isRunning      bool
	escalatedCount int
	lastSweep      time.Time
	lastError      error
}

// NewEscalationWorker creates a new escalation worker
func NewEscalationWorker(
	config EscalationWorkerConfig,
	workflows port.WorkflowRepository,
	rules port.RuleRepository,
	eng *engine.Engine,
	logger *zap.Logger,
) *EscalationWorker {
	return &EscalationWorker{
		config:    config,
		workflows: workflows,
		rules:     rules,
		engine:    eng,
		logger:    logger,
		now:       time.Now,
	}
}

// Name implements Worker
func (w *EscalationWorker) Name() string {
	return "escalation-worker"
}

// Start begins the worker polling loop
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("escalation worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("EscalationWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop()

	return nil
}

// Stop gracefully terminates the worker
func (w *EscalationWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}

	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("EscalationWorker stopped",
		zap.Int("escalated_count", w.escalatedCount))
	return nil
}

func (w *EscalationWorker) pollLoop() {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(w.ctx, w.config.SweepTimeout)
			if err := w.Sweep(sweepCtx); err != nil {
				w.mu.Lock()
				w.lastError = err
				w.mu.Unlock()
				w.logger.Error("Escalation sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Sweep runs one escalation pass. It is safe to call concurrently with live
// approvals: a workflow that advances or completes mid-sweep loses its
// PENDING status and the engine treats the escalation as a no-op.
func (w *EscalationWorker) Sweep(ctx context.Context) error {
	pending, err := w.workflows.ListByStatus(ctx, entity.StatusPending, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending workflows: %w", err)
	}

	now := w.now()
	escalated := 0
	for _, wf := range pending {
		due, err := w.escalationDue(ctx, wf, now)
		if err != nil {
			w.logger.Error("Failed to evaluate escalation",
				zap.Int64("workflow_id", wf.ID),
				zap.Error(err))
			continue
		}
		if !due {
			continue
		}

		if _, err := w.engine.Escalate(ctx, wf.ID); err != nil {
			w.logger.Error("Failed to escalate workflow",
				zap.Int64("workflow_id", wf.ID),
				zap.Error(err))
			continue
		}
		escalated++
	}

	w.mu.Lock()
	w.escalatedCount += escalated
	w.lastSweep = now
	w.mu.Unlock()

	if escalated > 0 {
		w.logger.Info("Escalation sweep completed",
			zap.Int("scanned", len(pending)),
			zap.Int("escalated", escalated))
	}
	return nil
}

// escalationDue reports whether the workflow has exceeded its rule's
// escalation window. Rules without a window never escalate.
func (w *EscalationWorker) escalationDue(ctx context.Context, wf *entity.ApprovalWorkflow, now time.Time) (bool, error) {
	if wf.RuleID == nil {
		return false, nil
	}
	rule, err := w.rules.GetByID(ctx, *wf.RuleID)
	if err != nil {
		return false, err
	}
	if rule == nil || rule.EscalationHours == nil {
		return false, nil
	}

	deadline := wf.UpdatedAt.Add(time.Duration(*rule.EscalationHours) * time.Hour)
	return now.After(deadline), nil
}

// Verify interface compliance
var _ Worker = (*EscalationWorker)(nil)
