package jobs

import (
	"context"
	"errors"

	"github.com/emrgen/omnistore/internal/ledger"
	"github.com/emrgen/omnistore/internal/store"
)

var _ CronJob = (*LedgerAuditTask)(nil)

// LedgerAuditTask repairs roots whose versions drifted from the ledger
// invariants.
type LedgerAuditTask struct {
	ledgers []*ledger.Ledger
	store   store.Store
	cron    string
}

func NewLedgerAuditTask(schedule string, s store.Store, ledgers []*ledger.Ledger) *LedgerAuditTask {
	return &LedgerAuditTask{
		ledgers: ledgers,
		store:   s,
		cron:    schedule,
	}
}

func (l *LedgerAuditTask) Name() string {
	return "ledger_audit"
}

func (l *LedgerAuditTask) Schedule() string {
	return l.cron
}

// Run audits every ledger, continuing past failures.
func (l *LedgerAuditTask) Run(ctx context.Context) error {
	var errs []error
	for _, lg := range l.ledgers {
		if _, err := lg.Audit(ctx, l.store); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
