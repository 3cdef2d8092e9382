package jobs

import (
	"context"

	"github.com/emrgen/omnistore/internal/store"
	"github.com/sirupsen/logrus"
)

var _ CronJob = (*ReconcileTask)(nil)

// ReconcileTask recounts reaction summaries from the live reactions.
type ReconcileTask struct {
	store store.ReactionStore
	cron  string
}

func NewReconcileTask(schedule string, s store.ReactionStore) *ReconcileTask {
	return &ReconcileTask{
		store: s,
		cron:  schedule,
	}
}

func (r *ReconcileTask) Name() string {
	return "reaction_reconcile"
}

func (r *ReconcileTask) Schedule() string {
	return r.cron
}

func (r *ReconcileTask) Run(ctx context.Context) error {
	changed, err := r.store.ReconcileReactionSummaries(ctx)
	if err != nil {
		return err
	}
	if changed > 0 {
		logrus.Infof("reconciled %d reaction summaries", changed)
	}
	return nil
}
