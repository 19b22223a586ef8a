package job

import (
	"context"
	"time"

	"gymledger/internal/infrastructure/metrics"
	"gymledger/internal/model"

	"github.com/sirupsen/logrus"
)

// OverdueLister is the part of the receivable service the monitor needs.
type OverdueLister interface {
	ListOverdue(ctx context.Context) ([]*model.Receivable, error)
}

// OverdueMonitor periodically counts unpaid receivables past their due date and exports
// the count as a gauge.
type OverdueMonitor struct {
	receivables OverdueLister
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	stopCh      chan struct{}
	interval    time.Duration
}

func NewOverdueMonitor(receivables OverdueLister, m *metrics.Metrics, log logrus.FieldLogger) *OverdueMonitor {
	return &OverdueMonitor{
		receivables: receivables,
		metrics:     m,
		log:         log.WithField("job", "overdue_monitor"),
		stopCh:      make(chan struct{}),
		interval:    5 * time.Minute,
	}
}

func (j *OverdueMonitor) Start(ctx context.Context) {
	j.log.Info("overdue monitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			j.log.Info("context cancelled, overdue monitor exiting")
			return
		case <-j.stopCh:
			j.log.Info("overdue monitor stopped")
			return
		case <-ticker.C:
			j.Scan(ctx)
		}
	}
}

func (j *OverdueMonitor) Stop() {
	close(j.stopCh)
}

// Scan runs one pass and returns the number of overdue receivables, or -1 on error.
func (j *OverdueMonitor) Scan(ctx context.Context) int {
	overdue, err := j.receivables.ListOverdue(ctx)
	if err != nil {
		j.log.WithError(err).Error("list overdue receivables failed")
		return -1
	}

	j.metrics.SetOverdue(len(overdue))
	if len(overdue) > 0 {
		var outstanding int64
		for _, r := range overdue {
			outstanding += r.FinalAmount
		}
		j.log.WithFields(logrus.Fields{
			"count":        len(overdue),
			"oldest_id":    overdue[0].ID,
			"final_amount": outstanding,
		}).Info("overdue receivables found")
	}
	return len(overdue)
}
