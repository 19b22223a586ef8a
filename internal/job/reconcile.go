package job

import (
	"context"
	"fmt"
	"time"

	"gymledger/internal/infrastructure/lock"
	"gymledger/internal/repository"
	"gymledger/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const reconcileJobName = "credit_reconcile"

// CreditRebuilder is the part of the credit service the reconcile job needs.
type CreditRebuilder interface {
	Rebuild(ctx context.Context, ownerID int64) (*service.Drift, error)
}

// ReconcileJob walks every credit cache row on a cron schedule and rewrites the ones
// that disagree with the ledger. Only one replica runs a pass at a time.
type ReconcileJob struct {
	creditRepo *repository.CreditRepository
	credits    CreditRebuilder
	redis      *redis.Client
	schedule   string
	log        logrus.FieldLogger
	batchSize  int
	lockTTL    time.Duration
	cron       *cron.Cron
}

// NewReconcileJob builds the job. redisClient may be nil, in which case passes run
// without the cross-replica lock.
func NewReconcileJob(db *gorm.DB, credits CreditRebuilder, redisClient *redis.Client, schedule string, log logrus.FieldLogger) *ReconcileJob {
	return &ReconcileJob{
		creditRepo: repository.NewCreditRepository(db),
		credits:    credits,
		redis:      redisClient,
		schedule:   schedule,
		log:        log.WithField("job", reconcileJobName),
		batchSize:  200,
		lockTTL:    10 * time.Minute,
	}
}

// Start schedules the job and blocks until ctx is cancelled.
func (j *ReconcileJob) Start(ctx context.Context) error {
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.WithError(err).Error("reconcile pass failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule %s %q: %w", reconcileJobName, j.schedule, err)
	}

	j.log.WithField("schedule", j.schedule).Info("reconcile job started")
	j.cron.Start()

	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.log.Info("reconcile job stopped")
	return nil
}

// ReconcileStats summarizes one pass.
type ReconcileStats struct {
	Checked  int
	Repaired int
	Skipped  bool
}

// RunOnce performs one full pass over the cache rows.
func (j *ReconcileJob) RunOnce(ctx context.Context) (*ReconcileStats, error) {
	stats := &ReconcileStats{}

	if j.redis != nil {
		jobLock := lock.NewJobLock(j.redis, reconcileJobName, j.lockTTL)
		acquired, err := jobLock.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire job lock: %w", err)
		}
		if !acquired {
			j.log.Debug("another replica holds the reconcile lock, skipping")
			stats.Skipped = true
			return stats, nil
		}
		defer func() {
			if err := jobLock.Unlock(ctx); err != nil {
				j.log.WithError(err).Warn("release job lock failed")
			}
		}()
	}

	var after int64
	for {
		ownerIDs, err := j.creditRepo.ListOwnerIDs(ctx, after, j.batchSize)
		if err != nil {
			return stats, fmt.Errorf("list credit accounts: %w", err)
		}
		for _, ownerID := range ownerIDs {
			drift, err := j.credits.Rebuild(ctx, ownerID)
			if err != nil {
				j.log.WithError(err).WithField("owner_id", ownerID).Error("rebuild failed")
				continue
			}
			stats.Checked++
			if drift.Repaired {
				stats.Repaired++
			}
		}
		if len(ownerIDs) < j.batchSize {
			break
		}
		after = ownerIDs[len(ownerIDs)-1]
	}

	j.log.WithFields(logrus.Fields{
		"checked":  stats.Checked,
		"repaired": stats.Repaired,
	}).Info("reconcile pass finished")
	return stats, nil
}
