package repository

import (
	"context"
	"errors"
	"time"

	"gymledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRequestNotFound = errors.New("request not found")
)

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *RequestRepository) Create(ctx context.Context, tx *gorm.DB, req *model.ApprovalRequest) error {
	return r.conn(tx).WithContext(ctx).Create(req).Error
}

func (r *RequestRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// CompareAndSet moves the request from fromState to toState with one conditional
// update and reports whether this call performed the flip. A false result with a nil
// error means the row was missing or no longer in fromState. Callers check the pair
// against model.CanTransitionTo first.
func (r *RequestRepository) CompareAndSet(ctx context.Context, tx *gorm.DB, id int64, fromState, toState string, actorID int64, at time.Time) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.ApprovalRequest{}).
		Where("id = ? AND state = ?", id, fromState).
		Updates(map[string]interface{}{
			"state":      toState,
			"decided_by": actorID,
			"decided_at": at,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *RequestRepository) ListPending(ctx context.Context, kind string, limit int) ([]*model.ApprovalRequest, error) {
	var reqs []*model.ApprovalRequest
	query := r.db.WithContext(ctx).Where("state = ?", model.RequestStatePending)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}
