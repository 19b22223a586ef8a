package repository

import (
	"context"
	"errors"
	"time"

	"gymledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrReceivableNotFound = errors.New("receivable not found")
)

type ReceivableRepository struct {
	db *gorm.DB
}

func NewReceivableRepository(db *gorm.DB) *ReceivableRepository {
	return &ReceivableRepository{db: db}
}

func (r *ReceivableRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *ReceivableRepository) Create(ctx context.Context, tx *gorm.DB, receivable *model.Receivable) error {
	return r.conn(tx).WithContext(ctx).Create(receivable).Error
}

func (r *ReceivableRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Receivable, error) {
	var receivable model.Receivable
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&receivable).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceivableNotFound
		}
		return nil, err
	}
	return &receivable, nil
}

// GetByIDForUpdate reads the receivable under an exclusive row lock held until tx ends.
func (r *ReceivableRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Receivable, error) {
	var receivable model.Receivable
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&receivable).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceivableNotFound
		}
		return nil, err
	}
	return &receivable, nil
}

// UpdateStatus writes the derived status. Callers must hold the row lock; RowsAffected
// is not checked because MySQL reports 0 for an unchanged row.
func (r *ReceivableRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, status string) error {
	return tx.WithContext(ctx).
		Model(&model.Receivable{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// FindLatestBySource returns the most recent receivable created for an originating
// order, or nil when there is none.
func (r *ReceivableRepository) FindLatestBySource(ctx context.Context, tx *gorm.DB, category, sourceRef string) (*model.Receivable, error) {
	var receivable model.Receivable
	err := r.conn(tx).WithContext(ctx).
		Where("category = ? AND source_ref = ?", category, sourceRef).
		Order("created_at DESC").
		Order("id DESC").
		First(&receivable).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receivable, nil
}

// FindLatestBySourceForUpdate is FindLatestBySource under an exclusive lock. On MySQL the
// lock also covers the index gap, so a concurrent caller that found nothing and inserts
// one deadlocks instead of creating a second receivable, and its retry finds this one.
func (r *ReceivableRepository) FindLatestBySourceForUpdate(ctx context.Context, tx *gorm.DB, category, sourceRef string) (*model.Receivable, error) {
	var receivable model.Receivable
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("category = ? AND source_ref = ?", category, sourceRef).
		Order("created_at DESC").
		Order("id DESC").
		First(&receivable).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receivable, nil
}

// ListOverdue returns unpaid receivables due strictly before the given instant, oldest
// due date first.
func (r *ReceivableRepository) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*model.Receivable, error) {
	var receivables []*model.Receivable
	query := r.db.WithContext(ctx).
		Where("status <> ? AND due_date IS NOT NULL AND due_date < ?", model.ReceivableStatusPaid, before).
		Order("due_date ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&receivables).Error
	return receivables, err
}

func (r *ReceivableRepository) ListByOwnerID(ctx context.Context, ownerID int64, page, pageSize int) ([]*model.Receivable, int64, error) {
	var receivables []*model.Receivable
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Receivable{}).Where("owner_id = ?", ownerID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&receivables).Error

	return receivables, total, err
}
