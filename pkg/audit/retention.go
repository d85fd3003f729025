package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wardenhq/warden/pkg/observability"
)

// Pruner periodically removes audit entries older than the retention
// window.
type Pruner struct {
	recorder *DBRecorder
	policy   RetentionPolicy
	logger   *observability.Logger
	cron     *cron.Cron
}

// NewPruner creates a pruner for the given recorder and policy.
func NewPruner(recorder *DBRecorder, policy RetentionPolicy, logger *observability.Logger) *Pruner {
	return &Pruner{
		recorder: recorder,
		policy:   policy,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules a daily prune run. Callers must call Stop on
// shutdown.
func (p *Pruner) Start() error {
	_, err := p.cron.AddFunc("@daily", func() {
		p.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop stops the schedule and waits for a running job to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// RunOnce prunes immediately, independent of the schedule.
func (p *Pruner) RunOnce(ctx context.Context) {
	if p.policy.RetentionDays <= 0 {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -p.policy.RetentionDays)
	removed, err := p.recorder.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.WithError(err).Error("audit retention prune failed")
		return
	}
	if removed > 0 {
		p.logger.WithFields(map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("pruned audit entries")
	}
}
