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

// TransitionService decides approval requests. A request leaves pending exactly once no
// matter how many operators act on it concurrently, and the ledger side effect of an
// approval commits or rolls back together with the state flip.
type TransitionService struct {
	db          *gorm.DB
	cfg         *config.Config
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	now         func() time.Time
	requestRepo *repository.RequestRepository
	receivables *ReceivableService
	credits     *CreditService
	events      *eventWriter
}

func NewTransitionService(db *gorm.DB, cfg *config.Config, ids *idgen.Generator, receivables *ReceivableService, credits *CreditService, m *metrics.Metrics, log logrus.FieldLogger) *TransitionService {
	return &TransitionService{
		db:          db,
		cfg:         cfg,
		metrics:     m,
		log:         log.WithField("component", "transition"),
		now:         utcNow,
		requestRepo: repository.NewRequestRepository(db),
		receivables: receivables,
		credits:     credits,
		events:      newEventWriter(db, ids),
	}
}

// SetClock replaces the time source.
func (s *TransitionService) SetClock(now func() time.Time) {
	s.now = now
}

type SubmitRequest struct {
	Kind           string
	OwnerID        int64
	Credits        int64
	Category       string
	SourceRef      string
	BillAmount     int64
	DiscountAmount int64
	Amount         int64
	Method         string
	Reference      string
	Note           string
}

func (r *SubmitRequest) validate() error {
	if !model.IsValidRequestKind(r.Kind) {
		return invalid("kind", "unknown request kind %q", r.Kind)
	}
	if r.OwnerID <= 0 {
		return invalid("owner_id", "is required")
	}

	switch r.Kind {
	case model.RequestKindCreditPurchase:
		if r.Credits <= 0 {
			return invalid("credits", "must be greater than 0, got %d", r.Credits)
		}
	case model.RequestKindPaymentRequest:
		if strings.TrimSpace(r.Category) == "" {
			return invalid("category", "is required")
		}
		if strings.TrimSpace(r.SourceRef) == "" {
			return invalid("source_ref", "is required")
		}
		if r.BillAmount <= 0 {
			return invalid("bill_amount", "must be greater than 0, got %d", r.BillAmount)
		}
		if r.DiscountAmount < 0 || r.DiscountAmount > r.BillAmount {
			return invalid("discount_amount", "must be within 0..%d, got %d", r.BillAmount, r.DiscountAmount)
		}
		if r.Amount <= 0 {
			return invalid("amount", "must be greater than 0, got %d", r.Amount)
		}
		if r.Method != "" && !model.IsValidMethod(r.Method) {
			return invalid("method", "unknown method %q", r.Method)
		}
	}
	return nil
}

// TransitionResult reports what a Transition call did. Applied is true only for the
// caller that moved the request out of pending; every other caller gets AlreadyProcessed.
type TransitionResult struct {
	Request          *model.ApprovalRequest   `json:"request"`
	Applied          bool                     `json:"applied"`
	AlreadyProcessed *AlreadyProcessed        `json:"already_processed,omitempty"`
	Receivable       *model.Receivable        `json:"receivable,omitempty"`
	CreditEntry      *model.CreditLedgerEntry `json:"credit_entry,omitempty"`
}

// Submit stores a new pending request.
func (s *TransitionService) Submit(ctx context.Context, req SubmitRequest) (*model.ApprovalRequest, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	method := req.Method
	if req.Kind == model.RequestKindPaymentRequest && method == "" {
		method = model.MethodUnknown
	}
	request := &model.ApprovalRequest{
		Kind:           req.Kind,
		OwnerID:        req.OwnerID,
		State:          model.RequestStatePending,
		Credits:        req.Credits,
		Category:       req.Category,
		SourceRef:      req.SourceRef,
		BillAmount:     req.BillAmount,
		DiscountAmount: req.DiscountAmount,
		Amount:         req.Amount,
		Method:         method,
		Reference:      req.Reference,
		Note:           req.Note,
	}
	if err := s.requestRepo.Create(ctx, nil, request); err != nil {
		return nil, classify("submit request", err)
	}

	s.log.WithFields(logrus.Fields{
		"request_id": request.ID,
		"kind":       request.Kind,
		"owner_id":   request.OwnerID,
	}).Info("request submitted")
	return request, nil
}

// Transition moves a pending request to target on behalf of actorID.
func (s *TransitionService) Transition(ctx context.Context, requestID int64, target string, actorID int64) (*TransitionResult, error) {
	if !model.CanTransitionTo(model.RequestStatePending, target) {
		return nil, invalid("target", "must be %s or %s, got %q", model.RequestStateApproved, model.RequestStateRejected, target)
	}

	var result *TransitionResult
	err := database.Transaction(ctx, s.db, s.cfg.Business.LockRetryAttempts, func(tx *gorm.DB) error {
		result = nil
		r, err := s.transitionInTx(ctx, tx, requestID, target, actorID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	logger := s.log.WithFields(logrus.Fields{"request_id": requestID, "target": target, "actor_id": actorID})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			s.metrics.Transition("unknown", "not_found")
		case errors.Is(err, ErrInsufficientBalance):
			s.metrics.Transition(model.RequestKindCheckIn, "insufficient")
			logger.Info("approval rolled back: insufficient balance")
		default:
			err = classify("transition request", err)
			s.metrics.Transition("unknown", "fault")
			logger.WithError(err).Error("transition failed")
		}
		return nil, err
	}

	kind := result.Request.Kind
	if !result.Applied {
		s.metrics.Transition(kind, "already_processed")
		logger.WithField("state", result.AlreadyProcessed.State).Info("request already processed")
		return result, nil
	}

	s.metrics.Transition(kind, target)
	if target == model.RequestStateApproved {
		switch kind {
		case model.RequestKindCreditPurchase, model.RequestKindCheckIn:
			s.credits.forget(ctx, result.Request.OwnerID)
		}
	}
	logger.WithField("kind", kind).Info("request transitioned")
	return result, nil
}

func (s *TransitionService) transitionInTx(ctx context.Context, tx *gorm.DB, requestID int64, target string, actorID int64) (*TransitionResult, error) {
	at := s.now()
	applied, err := s.requestRepo.CompareAndSet(ctx, tx, requestID, model.RequestStatePending, target, actorID, at)
	if err != nil {
		return nil, fmt.Errorf("update request state: %w", err)
	}

	request, err := s.requestRepo.GetByID(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, requestID)
		}
		return nil, fmt.Errorf("load request: %w", err)
	}

	if !applied {
		return &TransitionResult{
			Request:          request,
			AlreadyProcessed: &AlreadyProcessed{State: request.State, DecidedBy: request.DecidedBy},
		}, nil
	}

	result := &TransitionResult{Request: request, Applied: true}
	if target == model.RequestStateApproved {
		if err := s.applyApproval(ctx, tx, request, actorID, result); err != nil {
			return nil, err
		}
	}

	eventType := model.EventRequestRejected
	if target == model.RequestStateApproved {
		eventType = model.EventRequestApproved
	}
	err = s.events.write(ctx, tx, s.cfg.Kafka.Topic.Request, eventType, request.OwnerID, at, map[string]interface{}{
		"request_id": request.ID,
		"kind":       request.Kind,
		"decided_by": actorID,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyApproval runs the ledger side effect of approving request inside tx.
func (s *TransitionService) applyApproval(ctx context.Context, tx *gorm.DB, request *model.ApprovalRequest, actorID int64, result *TransitionResult) error {
	switch request.Kind {
	case model.RequestKindCreditPurchase:
		entry, err := s.credits.grantInTx(ctx, tx, request.OwnerID, request.Credits, model.CreditKindPurchase,
			fmt.Sprintf("credit purchase #%d", request.ID))
		if err != nil {
			return err
		}
		result.CreditEntry = entry

	case model.RequestKindCheckIn:
		consumed, err := s.credits.consumeInTx(ctx, tx, request.OwnerID, 1, model.CreditKindConsume,
			fmt.Sprintf("check-in #%d", request.ID), nil)
		if err != nil {
			return err
		}
		result.CreditEntry = consumed.Entry

	case model.RequestKindPaymentRequest:
		receivable, err := s.receivables.receivableRepo.FindLatestBySourceForUpdate(ctx, tx, request.Category, request.SourceRef)
		if err != nil {
			return fmt.Errorf("lookup receivable: %w", err)
		}
		if receivable == nil {
			receivable, err = s.receivables.createInTx(ctx, tx, CreateReceivableRequest{
				OwnerID:        request.OwnerID,
				Category:       request.Category,
				SourceRef:      request.SourceRef,
				BillAmount:     request.BillAmount,
				DiscountAmount: request.DiscountAmount,
			})
			if err != nil {
				return err
			}
		}

		line := SettlementLine{Method: request.Method, Amount: request.Amount, Reference: request.Reference}
		if _, err := s.receivables.recordInTx(ctx, tx, receivable.ID, []SettlementLine{line}, &actorID); err != nil {
			return err
		}
		settled, err := s.receivables.receivableRepo.GetByID(ctx, tx, receivable.ID)
		if err != nil {
			return fmt.Errorf("reload receivable: %w", err)
		}
		result.Receivable = settled
	}
	return nil
}

func (s *TransitionService) GetRequest(ctx context.Context, requestID int64) (*model.ApprovalRequest, error) {
	request, err := s.requestRepo.GetByID(ctx, nil, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, requestID)
		}
		return nil, classify("get request", err)
	}
	return request, nil
}

// ListPending returns pending requests oldest first, optionally of one kind.
func (s *TransitionService) ListPending(ctx context.Context, kind string, limit int) ([]*model.ApprovalRequest, error) {
	if kind != "" && !model.IsValidRequestKind(kind) {
		return nil, invalid("kind", "unknown request kind %q", kind)
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	requests, err := s.requestRepo.ListPending(ctx, kind, limit)
	if err != nil {
		return nil, classify("list pending requests", err)
	}
	return requests, nil
}
