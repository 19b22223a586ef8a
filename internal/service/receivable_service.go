package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gymledger/internal/config"
	"gymledger/internal/infrastructure/database"
	"gymledger/internal/infrastructure/metrics"
	"gymledger/internal/model"
	"gymledger/internal/repository"
	"gymledger/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReceivableService owns receivables and their settlement lines, and is the only writer
// of a receivable's status.
type ReceivableService struct {
	db             *gorm.DB
	cfg            *config.Config
	ids            *idgen.Generator
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
	now            func() time.Time
	receivableRepo *repository.ReceivableRepository
	settlementRepo *repository.SettlementRepository
	events         *eventWriter
}

func NewReceivableService(db *gorm.DB, cfg *config.Config, ids *idgen.Generator, m *metrics.Metrics, log logrus.FieldLogger) *ReceivableService {
	return &ReceivableService{
		db:             db,
		cfg:            cfg,
		ids:            ids,
		metrics:        m,
		log:            log.WithField("component", "receivable"),
		now:            utcNow,
		receivableRepo: repository.NewReceivableRepository(db),
		settlementRepo: repository.NewSettlementRepository(db),
		events:         newEventWriter(db, ids),
	}
}

// SetClock replaces the time source.
func (s *ReceivableService) SetClock(now func() time.Time) {
	s.now = now
}

type CreateReceivableRequest struct {
	OwnerID        int64
	Category       string
	SourceRef      string
	BillAmount     int64
	DiscountAmount int64
	DueDate        *time.Time
}

func (r *CreateReceivableRequest) validate() error {
	if r.BillAmount <= 0 {
		return invalid("bill_amount", "must be greater than 0, got %d", r.BillAmount)
	}
	if r.DiscountAmount < 0 || r.DiscountAmount > r.BillAmount {
		return invalid("discount_amount", "must be within 0..%d, got %d", r.BillAmount, r.DiscountAmount)
	}
	if strings.TrimSpace(r.Category) == "" {
		return invalid("category", "is required")
	}
	return nil
}

// SettlementLine is one payment line of a settlement batch.
type SettlementLine struct {
	Method    string
	Amount    int64
	Reference string
}

func validateLines(lines []SettlementLine) error {
	if len(lines) == 0 {
		return invalid("lines", "at least one settlement line is required")
	}
	for i, line := range lines {
		if line.Amount <= 0 {
			return invalid(fmt.Sprintf("lines[%d].amount", i), "must be greater than 0, got %d", line.Amount)
		}
		if line.Method != "" && !model.IsValidMethod(line.Method) {
			return invalid(fmt.Sprintf("lines[%d].method", i), "unknown method %q", line.Method)
		}
	}
	return nil
}

// Breakdown is the settlement view of one receivable.
type Breakdown struct {
	Receivable    *model.Receivable        `json:"receivable"`
	ReceivedTotal int64                    `json:"received_total"`
	Balance       int64                    `json:"balance"`
	PerMethod     map[string]int64         `json:"per_method"`
	Entries       []*model.SettlementEntry `json:"entries"`
}

// CreateReceivable records a new obligation. FinalAmount is bill minus discount and does
// not change afterwards.
func (s *ReceivableService) CreateReceivable(ctx context.Context, req CreateReceivableRequest) (*model.Receivable, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var receivable *model.Receivable
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		created, err := s.createInTx(ctx, tx, req)
		receivable = created
		return err
	})
	if err != nil {
		return nil, classify("create receivable", err)
	}

	s.log.WithFields(logrus.Fields{
		"receivable_id": receivable.ID,
		"owner_id":      receivable.OwnerID,
		"final_amount":  receivable.FinalAmount,
	}).Info("receivable created")
	return receivable, nil
}

func (s *ReceivableService) createInTx(ctx context.Context, tx *gorm.DB, req CreateReceivableRequest) (*model.Receivable, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	receivable := &model.Receivable{
		ReceivableNo:   s.ids.ReceivableNo(),
		OwnerID:        req.OwnerID,
		Category:       req.Category,
		SourceRef:      req.SourceRef,
		BillAmount:     req.BillAmount,
		DiscountAmount: req.DiscountAmount,
		FinalAmount:    req.BillAmount - req.DiscountAmount,
		Status:         model.ReceivableStatusPending,
		DueDate:        truncateDate(req.DueDate),
	}
	if err := s.receivableRepo.Create(ctx, tx, receivable); err != nil {
		return nil, fmt.Errorf("insert receivable: %w", err)
	}

	err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.Receivable, model.EventReceivableCreated, receivable.OwnerID, s.now(), map[string]interface{}{
		"receivable_id": receivable.ID,
		"receivable_no": receivable.ReceivableNo,
		"category":      receivable.Category,
		"source_ref":    receivable.SourceRef,
		"final_amount":  receivable.FinalAmount,
	})
	if err != nil {
		return nil, err
	}
	return receivable, nil
}

// RecordSettlement appends all lines and recomputes the receivable once, in a single
// transaction holding the receivable's row lock. Either every line is stored or none.
func (s *ReceivableService) RecordSettlement(ctx context.Context, receivableID int64, lines []SettlementLine, actorID *int64) ([]*model.SettlementEntry, error) {
	if err := validateLines(lines); err != nil {
		s.metrics.SettlementBatch("invalid", 0)
		return nil, err
	}

	var entries []*model.SettlementEntry
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		recorded, err := s.recordInTx(ctx, tx, receivableID, lines, actorID)
		entries = recorded
		return err
	})
	if err != nil {
		err = classify("record settlement", err)
		if errors.Is(err, ErrNotFound) {
			s.metrics.SettlementBatch("not_found", 0)
		} else {
			s.metrics.SettlementBatch("fault", 0)
			s.log.WithError(err).WithField("receivable_id", receivableID).Error("record settlement failed")
		}
		return nil, err
	}

	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	s.metrics.SettlementBatch("ok", total)
	s.log.WithFields(logrus.Fields{
		"receivable_id": receivableID,
		"lines":         len(entries),
		"amount":        total,
	}).Info("settlement recorded")
	return entries, nil
}

func (s *ReceivableService) recordInTx(ctx context.Context, tx *gorm.DB, receivableID int64, lines []SettlementLine, actorID *int64) ([]*model.SettlementEntry, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	receivable, err := s.lockReceivable(ctx, tx, receivableID)
	if err != nil {
		return nil, err
	}

	entries := make([]*model.SettlementEntry, 0, len(lines))
	for _, line := range lines {
		method := line.Method
		if method == "" {
			method = model.MethodUnknown
		}
		entries = append(entries, &model.SettlementEntry{
			ReceivableID: receivable.ID,
			Method:       method,
			Amount:       line.Amount,
			Reference:    line.Reference,
			RecordedBy:   actorID,
		})
	}
	if err := s.settlementRepo.CreateBatch(ctx, tx, entries); err != nil {
		return nil, fmt.Errorf("insert settlement lines: %w", err)
	}

	received, err := s.recomputeLocked(ctx, tx, receivable)
	if err != nil {
		return nil, err
	}

	err = s.events.write(ctx, tx, s.cfg.Kafka.Topic.Receivable, model.EventReceivableSettled, receivable.OwnerID, s.now(), map[string]interface{}{
		"receivable_id":  receivable.ID,
		"lines":          len(entries),
		"received_total": received,
		"balance":        receivable.FinalAmount - received,
		"status":         receivable.Status,
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Recompute re-derives the receivable's status from its settlement lines. Calling it
// again without new lines changes nothing.
func (s *ReceivableService) Recompute(ctx context.Context, receivableID int64) (*model.Receivable, error) {
	var receivable *model.Receivable
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		locked, err := s.lockReceivable(ctx, tx, receivableID)
		if err != nil {
			return err
		}
		if _, err := s.recomputeLocked(ctx, tx, locked); err != nil {
			return err
		}
		receivable = locked
		return nil
	})
	if err != nil {
		return nil, classify("recompute receivable", err)
	}
	return receivable, nil
}

func (s *ReceivableService) lockReceivable(ctx context.Context, tx *gorm.DB, receivableID int64) (*model.Receivable, error) {
	receivable, err := s.receivableRepo.GetByIDForUpdate(ctx, tx, receivableID)
	if err != nil {
		if errors.Is(err, repository.ErrReceivableNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrReceivableNotFound, receivableID)
		}
		return nil, fmt.Errorf("lock receivable %d: %w", receivableID, err)
	}
	return receivable, nil
}

// recomputeLocked sums the settlement lines of a locked receivable and stores the derived
// status when it changed. It returns the received total.
func (s *ReceivableService) recomputeLocked(ctx context.Context, tx *gorm.DB, receivable *model.Receivable) (int64, error) {
	received, err := s.settlementRepo.SumByReceivable(ctx, tx, receivable.ID)
	if err != nil {
		return 0, fmt.Errorf("sum settlements: %w", err)
	}

	status := model.DeriveReceivableStatus(received, receivable.FinalAmount)
	if status != receivable.Status {
		if err := s.receivableRepo.UpdateStatus(ctx, tx, receivable.ID, status); err != nil {
			return 0, fmt.Errorf("update receivable status: %w", err)
		}
		receivable.Status = status
	}
	return received, nil
}

// Breakdown reports received total, balance and per-method totals. Balance is negative
// when the receivable was overpaid.
func (s *ReceivableService) Breakdown(ctx context.Context, receivableID int64) (*Breakdown, error) {
	var breakdown *Breakdown
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		receivable, err := s.receivableRepo.GetByID(ctx, tx, receivableID)
		if err != nil {
			if errors.Is(err, repository.ErrReceivableNotFound) {
				return fmt.Errorf("%w: %d", ErrReceivableNotFound, receivableID)
			}
			return err
		}
		perMethod, err := s.settlementRepo.SumByMethod(ctx, tx, receivableID)
		if err != nil {
			return err
		}
		entries, err := s.settlementRepo.ListByReceivable(ctx, tx, receivableID)
		if err != nil {
			return err
		}

		var received int64
		for _, amount := range perMethod {
			received += amount
		}
		breakdown = &Breakdown{
			Receivable:    receivable,
			ReceivedTotal: received,
			Balance:       receivable.FinalAmount - received,
			PerMethod:     perMethod,
			Entries:       entries,
		}
		return nil
	})
	if err != nil {
		return nil, classify("receivable breakdown", err)
	}
	return breakdown, nil
}

// ListOverdue returns unpaid receivables whose due date is before today, oldest first.
func (s *ReceivableService) ListOverdue(ctx context.Context) ([]*model.Receivable, error) {
	today := startOfDay(s.now())
	receivables, err := s.receivableRepo.ListOverdue(ctx, today, 0)
	if err != nil {
		return nil, classify("list overdue", err)
	}
	return receivables, nil
}

// LookupBySource returns the most recent receivable created for the originating order,
// or nil. Callers use it to avoid creating a second receivable on retry.
func (s *ReceivableService) LookupBySource(ctx context.Context, category, sourceRef string) (*model.Receivable, error) {
	receivable, err := s.receivableRepo.FindLatestBySource(ctx, nil, category, sourceRef)
	if err != nil {
		return nil, classify("lookup receivable by source", err)
	}
	return receivable, nil
}

func (s *ReceivableService) GetReceivable(ctx context.Context, receivableID int64) (*model.Receivable, error) {
	receivable, err := s.receivableRepo.GetByID(ctx, nil, receivableID)
	if err != nil {
		if errors.Is(err, repository.ErrReceivableNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrReceivableNotFound, receivableID)
		}
		return nil, classify("get receivable", err)
	}
	return receivable, nil
}

func (s *ReceivableService) ListByOwner(ctx context.Context, ownerID int64, page, pageSize int) ([]*model.Receivable, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	receivables, total, err := s.receivableRepo.ListByOwnerID(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, 0, classify("list receivables", err)
	}
	return receivables, total, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := startOfDay(*t)
	return &d
}
