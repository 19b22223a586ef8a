package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gymledger/internal/config"
	"gymledger/internal/infrastructure/cache"
	"gymledger/internal/infrastructure/database"
	"gymledger/internal/infrastructure/metrics"
	"gymledger/internal/model"
	"gymledger/internal/repository"
	"gymledger/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreditService guards an owner's prepaid credits. Every balance decision is taken from
// sum(delta) over the ledger while holding the owner's cache-row lock.
type CreditService struct {
	db         *gorm.DB
	cfg        *config.Config
	ids        *idgen.Generator
	display    *cache.BalanceCache
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
	creditRepo *repository.CreditRepository
	events     *eventWriter
}

func NewCreditService(db *gorm.DB, cfg *config.Config, ids *idgen.Generator, display *cache.BalanceCache, m *metrics.Metrics, log logrus.FieldLogger) *CreditService {
	return &CreditService{
		db:         db,
		cfg:        cfg,
		ids:        ids,
		display:    display,
		metrics:    m,
		log:        log.WithField("component", "credit"),
		now:        utcNow,
		creditRepo: repository.NewCreditRepository(db),
		events:     newEventWriter(db, ids),
	}
}

// SetClock replaces the time source.
func (s *CreditService) SetClock(now func() time.Time) {
	s.now = now
}

type Balance struct {
	OwnerID       int64     `json:"owner_id"`
	Available     int64     `json:"available"`
	TotalGranted  int64     `json:"total_granted"`
	TotalConsumed int64     `json:"total_consumed"`
	LastUpdated   time.Time `json:"last_updated"`
}

// ConsumeResult is the entry a consumption appended and the balance left after it.
type ConsumeResult struct {
	Entry     *model.CreditLedgerEntry `json:"entry"`
	Available int64                    `json:"available"`
}

type Report struct {
	Balance *Balance                   `json:"balance"`
	Entries []*model.CreditLedgerEntry `json:"entries"`
}

// Drift compares the cache row with the ledger as found before a rebuild.
type Drift struct {
	OwnerID         int64 `json:"owner_id"`
	CachedAvailable int64 `json:"cached_available"`
	LedgerAvailable int64 `json:"ledger_available"`
	Repaired        bool  `json:"repaired"`
}

// GetBalance refreshes the owner's cache row from the ledger and returns the
// ledger-derived balance. The row is created with zero counters on first access.
func (s *CreditService) GetBalance(ctx context.Context, ownerID int64) (*Balance, error) {
	var balance *Balance
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		if _, err := s.creditRepo.LockAccount(ctx, tx, ownerID); err != nil {
			return fmt.Errorf("lock credit account: %w", err)
		}
		totals, err := s.creditRepo.LedgerTotals(ctx, tx, ownerID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		if err := s.creditRepo.Overwrite(ctx, tx, ownerID, totals); err != nil {
			return fmt.Errorf("refresh credit account: %w", err)
		}
		balance = &Balance{
			OwnerID:       ownerID,
			Available:     totals.Available(),
			TotalGranted:  totals.Granted,
			TotalConsumed: totals.Consumed,
			LastUpdated:   s.now(),
		}
		return nil
	})
	if err != nil {
		return nil, classify("get balance", err)
	}

	s.remember(ctx, ownerID, balance.Available)
	return balance, nil
}

// DisplayBalance serves the available balance from the snapshot cache when present.
// The value may be stale by up to the cache TTL and must not drive a consumption.
func (s *CreditService) DisplayBalance(ctx context.Context, ownerID int64) (int64, error) {
	available, ok, err := s.display.Get(ctx, ownerID)
	if err != nil {
		s.log.WithError(err).WithField("owner_id", ownerID).Warn("balance cache read failed")
	}
	if ok {
		return available, nil
	}
	balance, err := s.GetBalance(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return balance.Available, nil
}

// Grant appends a positive entry of one of the grant kinds.
func (s *CreditService) Grant(ctx context.Context, ownerID, delta int64, kind, description string) (*model.CreditLedgerEntry, error) {
	if err := validateGrant(delta, kind); err != nil {
		s.metrics.CreditOp("grant", "invalid")
		return nil, err
	}

	var entry *model.CreditLedgerEntry
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		granted, err := s.grantInTx(ctx, tx, ownerID, delta, kind, description)
		entry = granted
		return err
	})
	if err != nil {
		s.metrics.CreditOp("grant", "fault")
		err = classify("grant credits", err)
		s.log.WithError(err).WithField("owner_id", ownerID).Error("grant failed")
		return nil, err
	}

	s.metrics.CreditOp("grant", "ok")
	s.forget(ctx, ownerID)
	s.log.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"delta":    delta,
		"kind":     kind,
	}).Info("credits granted")
	return entry, nil
}

func validateGrant(delta int64, kind string) error {
	if delta <= 0 {
		return invalid("delta", "must be greater than 0, got %d", delta)
	}
	if !model.IsGrantKind(kind) {
		return invalid("kind", "%q cannot grant credits", kind)
	}
	return nil
}

func (s *CreditService) grantInTx(ctx context.Context, tx *gorm.DB, ownerID, delta int64, kind, description string) (*model.CreditLedgerEntry, error) {
	if err := validateGrant(delta, kind); err != nil {
		return nil, err
	}
	if _, err := s.creditRepo.LockAccount(ctx, tx, ownerID); err != nil {
		return nil, fmt.Errorf("lock credit account: %w", err)
	}

	entry := &model.CreditLedgerEntry{
		EntryNo:     s.ids.EntryNo(),
		OwnerID:     ownerID,
		Delta:       delta,
		Kind:        kind,
		Description: description,
	}
	if err := s.creditRepo.AppendEntry(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append grant: %w", err)
	}
	if err := s.creditRepo.AddGranted(ctx, tx, ownerID, delta); err != nil {
		return nil, fmt.Errorf("update credit account: %w", err)
	}

	err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.Credit, model.EventCreditGranted, ownerID, s.now(), map[string]interface{}{
		"entry_no": entry.EntryNo,
		"delta":    delta,
		"kind":     kind,
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ConsumeOne spends one credit. Two concurrent calls against a balance of one produce
// exactly one success and one ErrInsufficientBalance.
func (s *CreditService) ConsumeOne(ctx context.Context, ownerID int64, reason string) (*ConsumeResult, error) {
	return s.consume(ctx, "consume", ownerID, 1, model.CreditKindConsume, reason, nil)
}

// ConsumeWithDate spends one credit for a session that happened at effectiveAt.
func (s *CreditService) ConsumeWithDate(ctx context.Context, ownerID int64, reason string, effectiveAt time.Time) (*ConsumeResult, error) {
	at := effectiveAt.UTC()
	return s.consume(ctx, "consume", ownerID, 1, model.CreditKindConsume, reason, &at)
}

// Deduct removes units credits as an administrative correction. It never takes the
// balance below zero.
func (s *CreditService) Deduct(ctx context.Context, ownerID, units int64, description string) (*ConsumeResult, error) {
	if units <= 0 {
		s.metrics.CreditOp("deduct", "invalid")
		return nil, invalid("units", "must be greater than 0, got %d", units)
	}
	return s.consume(ctx, "deduct", ownerID, units, model.CreditKindAdminDeduction, description, nil)
}

func (s *CreditService) consume(ctx context.Context, op string, ownerID, units int64, kind, reason string, effectiveAt *time.Time) (*ConsumeResult, error) {
	var result *ConsumeResult
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		consumed, err := s.consumeInTx(ctx, tx, ownerID, units, kind, reason, effectiveAt)
		result = consumed
		return err
	})

	logger := s.log.WithFields(logrus.Fields{"owner_id": ownerID, "units": units, "kind": kind})
	switch {
	case err == nil:
		s.metrics.CreditOp(op, "ok")
		s.remember(ctx, ownerID, result.Available)
		logger.WithField("available", result.Available).Info("credits consumed")
		return result, nil
	case errors.Is(err, ErrInsufficientBalance):
		s.metrics.CreditOp(op, "insufficient")
		logger.Info("consumption refused: insufficient balance")
		return nil, err
	default:
		s.metrics.CreditOp(op, "fault")
		err = classify(op+" credits", err)
		logger.WithError(err).Error("consumption failed")
		return nil, err
	}
}

func (s *CreditService) consumeInTx(ctx context.Context, tx *gorm.DB, ownerID, units int64, kind, reason string, effectiveAt *time.Time) (*ConsumeResult, error) {
	if _, err := s.creditRepo.LockAccount(ctx, tx, ownerID); err != nil {
		return nil, fmt.Errorf("lock credit account: %w", err)
	}

	available, err := s.creditRepo.SumDelta(ctx, tx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}
	if available < units {
		return nil, fmt.Errorf("owner %d has %d credits, needs %d: %w", ownerID, available, units, ErrInsufficientBalance)
	}

	entry := &model.CreditLedgerEntry{
		EntryNo:     s.ids.EntryNo(),
		OwnerID:     ownerID,
		Delta:       -units,
		Kind:        kind,
		Description: reason,
		EffectiveAt: effectiveAt,
	}
	if err := s.creditRepo.AppendEntry(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append consumption: %w", err)
	}
	remaining := available - units
	if err := s.creditRepo.AddConsumed(ctx, tx, ownerID, units, remaining); err != nil {
		return nil, fmt.Errorf("update credit account: %w", err)
	}

	data := map[string]interface{}{
		"entry_no":  entry.EntryNo,
		"units":     units,
		"kind":      kind,
		"available": remaining,
	}
	if effectiveAt != nil {
		data["effective_at"] = effectiveAt.Format(time.RFC3339)
	}
	if err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.Credit, model.EventCreditConsumed, ownerID, s.now(), data); err != nil {
		return nil, err
	}
	return &ConsumeResult{Entry: entry, Available: remaining}, nil
}

// Report returns the ledger-derived balance with the full history, most recent first.
func (s *CreditService) Report(ctx context.Context, ownerID int64) (*Report, error) {
	var report *Report
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		totals, err := s.creditRepo.LedgerTotals(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		entries, err := s.creditRepo.ListEntries(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		report = &Report{
			Balance: &Balance{
				OwnerID:       ownerID,
				Available:     totals.Available(),
				TotalGranted:  totals.Granted,
				TotalConsumed: totals.Consumed,
				LastUpdated:   s.now(),
			},
			Entries: entries,
		}
		return nil
	})
	if err != nil {
		return nil, classify("credit report", err)
	}
	return report, nil
}

// Rebuild rewrites the owner's cache row from the ledger and reports what it found.
func (s *CreditService) Rebuild(ctx context.Context, ownerID int64) (*Drift, error) {
	var drift *Drift
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		account, err := s.creditRepo.LockAccount(ctx, tx, ownerID)
		if err != nil {
			return fmt.Errorf("lock credit account: %w", err)
		}
		totals, err := s.creditRepo.LedgerTotals(ctx, tx, ownerID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		drift = &Drift{
			OwnerID:         ownerID,
			CachedAvailable: account.Available,
			LedgerAvailable: totals.Available(),
			Repaired: account.TotalGranted != totals.Granted ||
				account.TotalConsumed != totals.Consumed ||
				account.Available != totals.Available(),
		}
		if !drift.Repaired {
			return nil
		}
		return s.creditRepo.Overwrite(ctx, tx, ownerID, totals)
	})
	if err != nil {
		return nil, classify("rebuild credit account", err)
	}

	if drift.Repaired {
		s.metrics.DriftRepaired()
		s.forget(ctx, ownerID)
		s.log.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"cached":   drift.CachedAvailable,
			"ledger":   drift.LedgerAvailable,
		}).Warn("credit account drift repaired")
	}
	return drift, nil
}

func (s *CreditService) remember(ctx context.Context, ownerID, available int64) {
	if err := s.display.Set(ctx, ownerID, available); err != nil {
		s.log.WithError(err).WithField("owner_id", ownerID).Warn("balance cache write failed")
	}
}

func (s *CreditService) forget(ctx context.Context, ownerID int64) {
	if err := s.display.Invalidate(ctx, ownerID); err != nil {
		s.log.WithError(err).WithField("owner_id", ownerID).Warn("balance cache invalidate failed")
	}
}
