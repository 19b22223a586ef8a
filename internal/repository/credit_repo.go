package repository

import (
	"context"
	"errors"

	"gymledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCreditAccountNotFound = errors.New("credit account not found")
)

// CreditRepository persists the append-only credit ledger and the per-owner cache row.
type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// EnsureAccount creates the zeroed cache row for ownerID if it does not exist yet.
// Concurrent callers race harmlessly on the unique owner_id index.
func (r *CreditRepository) EnsureAccount(ctx context.Context, tx *gorm.DB, ownerID int64) error {
	account := &model.CreditAccount{OwnerID: ownerID}
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoNothing: true,
		}).
		Create(account).Error
}

// GetAccountForUpdate locks the owner's cache row until tx ends. Every mutation of the
// owner's credits goes through this lock, so they are serialized per owner.
func (r *CreditRepository) GetAccountForUpdate(ctx context.Context, tx *gorm.DB, ownerID int64) (*model.CreditAccount, error) {
	var account model.CreditAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ?", ownerID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCreditAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// LockAccount is EnsureAccount followed by GetAccountForUpdate in the same transaction.
func (r *CreditRepository) LockAccount(ctx context.Context, tx *gorm.DB, ownerID int64) (*model.CreditAccount, error) {
	if err := r.EnsureAccount(ctx, tx, ownerID); err != nil {
		return nil, err
	}
	return r.GetAccountForUpdate(ctx, tx, ownerID)
}

// LedgerTotals aggregates the owner's ledger into granted and consumed units, reading
// past tx's snapshot.
func (r *CreditRepository) LedgerTotals(ctx context.Context, tx *gorm.DB, ownerID int64) (model.LedgerTotals, error) {
	var totals model.LedgerTotals
	err := currentRead(tx.WithContext(ctx)).
		Model(&model.CreditLedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN delta > 0 THEN delta ELSE 0 END), 0) AS granted, "+
			"COALESCE(SUM(CASE WHEN delta < 0 THEN -delta ELSE 0 END), 0) AS consumed").
		Where("owner_id = ?", ownerID).
		Scan(&totals).Error
	return totals, err
}

// SumDelta returns the authoritative available balance: sum(delta) over the ledger,
// including entries committed after tx's snapshot was taken.
func (r *CreditRepository) SumDelta(ctx context.Context, tx *gorm.DB, ownerID int64) (int64, error) {
	var total int64
	err := currentRead(tx.WithContext(ctx)).
		Model(&model.CreditLedgerEntry{}).
		Where("owner_id = ?", ownerID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	return total, err
}

func (r *CreditRepository) AppendEntry(ctx context.Context, tx *gorm.DB, entry *model.CreditLedgerEntry) error {
	return r.conn(tx).WithContext(ctx).Create(entry).Error
}

// AddGranted bumps the cached granted and available counters by delta.
func (r *CreditRepository) AddGranted(ctx context.Context, tx *gorm.DB, ownerID, delta int64) error {
	result := tx.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]interface{}{
			"total_granted": gorm.Expr("total_granted + ?", delta),
			"available":     gorm.Expr("available + ?", delta),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCreditAccountNotFound
	}
	return nil
}

// AddConsumed bumps the cached consumed counter by units and stores the ledger-derived
// available balance.
func (r *CreditRepository) AddConsumed(ctx context.Context, tx *gorm.DB, ownerID, units, available int64) error {
	result := tx.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]interface{}{
			"total_consumed": gorm.Expr("total_consumed + ?", units),
			"available":      available,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCreditAccountNotFound
	}
	return nil
}

// Overwrite replaces the cached counters with ledger-derived totals. The row must be
// locked by the caller.
func (r *CreditRepository) Overwrite(ctx context.Context, tx *gorm.DB, ownerID int64, totals model.LedgerTotals) error {
	return tx.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]interface{}{
			"total_granted":  totals.Granted,
			"total_consumed": totals.Consumed,
			"available":      totals.Available(),
		}).Error
}

// ListEntries returns the owner's ledger, most recent first.
func (r *CreditRepository) ListEntries(ctx context.Context, tx *gorm.DB, ownerID int64) ([]*model.CreditLedgerEntry, error) {
	var entries []*model.CreditLedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&entries).Error
	return entries, err
}

// ListOwnerIDs pages through cache rows by owner_id, starting after afterOwnerID.
func (r *CreditRepository) ListOwnerIDs(ctx context.Context, afterOwnerID int64, limit int) ([]int64, error) {
	var ownerIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("owner_id > ?", afterOwnerID).
		Order("owner_id ASC").
		Limit(limit).
		Pluck("owner_id", &ownerIDs).Error
	return ownerIDs, err
}
