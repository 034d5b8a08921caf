package validation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/tracker"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SnapshotSource returns the latest tracker snapshot
type SnapshotSource func() tracker.Snapshot

// Runner triggers the scheduler on a cron schedule and hands results to sinks
type Runner struct {
	cron      *cron.Cron
	scheduler *Scheduler
	source    SnapshotSource
	sinks     []contracts.EvaluationSink
	timeout   time.Duration
	logger    *logrus.Entry

	mu      sync.Mutex
	last    []models.ModelEvaluation
	onFlags func(flagged int)
}

// NewRunner creates a runner. schedule is a standard five-field cron expression.
func NewRunner(schedule string, scheduler *Scheduler, source SnapshotSource, logger *logrus.Entry, sinks ...contracts.EvaluationSink) (*Runner, error) {
	r := &Runner{
		cron:      cron.New(cron.WithLogger(cron.VerbosePrintfLogger(logger))),
		scheduler: scheduler,
		source:    source,
		sinks:     sinks,
		timeout:   time.Minute,
		logger:    logger,
	}

	if _, err := r.cron.AddFunc(schedule, r.runScheduled); err != nil {
		return nil, fmt.Errorf("schedule validation %q: %w", schedule, err)
	}
	return r, nil
}

// OnFlagged registers a callback receiving the number of flagged models after each run
func (r *Runner) OnFlagged(fn func(flagged int)) {
	r.mu.Lock()
	r.onFlags = fn
	r.mu.Unlock()
}

// Start starts the cron scheduler and blocks until ctx is cancelled
func (r *Runner) Start(ctx context.Context) error {
	r.cron.Start()
	for _, e := range r.cron.Entries() {
		r.logger.WithField("next_run", e.Next).Info("Validation scheduled")
	}

	<-ctx.Done()

	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		r.logger.Info("Validation scheduler stopped gracefully")
	case <-time.After(5 * time.Second):
		r.logger.Warn("Validation scheduler stop timed out")
	}
	return nil
}

// RunOnce evaluates the current snapshot and persists the results
func (r *Runner) RunOnce(ctx context.Context) ([]models.ModelEvaluation, error) {
	evals := r.scheduler.Run(r.source())
	flagged := Flagged(evals)

	r.mu.Lock()
	r.last = evals
	onFlags := r.onFlags
	r.mu.Unlock()

	if onFlags != nil {
		onFlags(len(flagged))
	}

	for _, e := range flagged {
		r.logger.WithFields(logrus.Fields{
			"model_id": e.ModelID,
			"accuracy": e.Accuracy,
			"reasons":  e.Reasons,
		}).Warn("Model flagged for retraining")
	}

	for _, sink := range r.sinks {
		if err := sink.SaveEvaluations(ctx, evals); err != nil {
			return evals, fmt.Errorf("save evaluations: %w", err)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"models":  len(evals),
		"flagged": len(flagged),
	}).Info("Validation run complete")

	return evals, nil
}

// Last returns the evaluations of the most recent run
func (r *Runner) Last() []models.ModelEvaluation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ModelEvaluation(nil), r.last...)
}

func (r *Runner) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.WithError(err).Error("Validation run failed")
	}
}
