package repository

import (
	"context"

	"gymledger/internal/model"

	"gorm.io/gorm"
)

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// CreateBatch appends all entries with a single insert.
func (r *SettlementRepository) CreateBatch(ctx context.Context, tx *gorm.DB, entries []*model.SettlementEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Create(&entries).Error
}

// SumByReceivable returns the total received against a receivable as of now, not as of
// tx's snapshot. The caller holds the receivable's row lock.
func (r *SettlementRepository) SumByReceivable(ctx context.Context, tx *gorm.DB, receivableID int64) (int64, error) {
	var total int64
	err := currentRead(tx.WithContext(ctx)).
		Model(&model.SettlementEntry{}).
		Where("receivable_id = ?", receivableID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

type methodTotal struct {
	Method string
	Total  int64
}

// SumByMethod returns the received total per settlement method.
func (r *SettlementRepository) SumByMethod(ctx context.Context, tx *gorm.DB, receivableID int64) (map[string]int64, error) {
	var rows []methodTotal
	err := r.conn(tx).WithContext(ctx).
		Model(&model.SettlementEntry{}).
		Select("method, COALESCE(SUM(amount), 0) AS total").
		Where("receivable_id = ?", receivableID).
		Group("method").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.Method] = row.Total
	}
	return totals, nil
}

func (r *SettlementRepository) ListByReceivable(ctx context.Context, tx *gorm.DB, receivableID int64) ([]*model.SettlementEntry, error) {
	var entries []*model.SettlementEntry
	err := r.conn(tx).WithContext(ctx).
		Where("receivable_id = ?", receivableID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
