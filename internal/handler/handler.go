package handler

import (
	"errors"
	"strconv"
	"time"

	"gymledger/internal/service"
	"gymledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler exposes the ledger services over HTTP.
type Handler struct {
	receivables *service.ReceivableService
	credits     *service.CreditService
	transitions *service.TransitionService
	log         logrus.FieldLogger
}

func NewHandler(receivables *service.ReceivableService, credits *service.CreditService, transitions *service.TransitionService, log logrus.FieldLogger) *Handler {
	return &Handler{
		receivables: receivables,
		credits:     credits,
		transitions: transitions,
		log:         log,
	}
}

// fail maps a service error onto the response codes.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrReceivableNotFound):
		response.NotFound(c, response.CodeReceivableNotFound, err.Error())
	case errors.Is(err, service.ErrRequestNotFound):
		response.NotFound(c, response.CodeRequestNotFound, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeBalanceNotEnough, "insufficient credit balance, top up required")
	case service.IsPersistenceFault(err):
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request rolled back")
		response.Unavailable(c, "temporarily unavailable, retry")
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("unexpected error")
		response.ServerError(c, "internal server error")
	}
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		response.ParamError(c, name+" must be an integer")
		return 0, false
	}
	return v, true
}

// ============================================================
// Receivables
// ============================================================

type CreateReceivableRequest struct {
	OwnerID        int64  `json:"owner_id" binding:"required"`
	Category       string `json:"category" binding:"required"`
	SourceRef      string `json:"source_ref"`
	BillAmount     int64  `json:"bill_amount"`
	DiscountAmount int64  `json:"discount_amount"`
	DueDate        string `json:"due_date"` // YYYY-MM-DD
}

// CreateReceivable
// POST /api/v1/receivable/create
func (h *Handler) CreateReceivable(c *gin.Context) {
	var req CreateReceivableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	serviceReq := service.CreateReceivableRequest{
		OwnerID:        req.OwnerID,
		Category:       req.Category,
		SourceRef:      req.SourceRef,
		BillAmount:     req.BillAmount,
		DiscountAmount: req.DiscountAmount,
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			response.ParamError(c, "due_date must be YYYY-MM-DD")
			return
		}
		serviceReq.DueDate = &due
	}

	receivable, err := h.receivables.CreateReceivable(c.Request.Context(), serviceReq)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, receivable)
}

// GetReceivable
// GET /api/v1/receivable/detail?id=xxx
func (h *Handler) GetReceivable(c *gin.Context) {
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}
	receivable, err := h.receivables.GetReceivable(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, receivable)
}

type SettlementLineRequest struct {
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type RecordSettlementRequest struct {
	ReceivableID int64                   `json:"receivable_id" binding:"required"`
	Lines        []SettlementLineRequest `json:"lines"`
	ActorID      *int64                  `json:"actor_id"`
}

// RecordSettlement applies a batch of payment lines in one unit of work.
// POST /api/v1/receivable/settle
func (h *Handler) RecordSettlement(c *gin.Context) {
	var req RecordSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	lines := make([]service.SettlementLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, service.SettlementLine{Method: l.Method, Amount: l.Amount, Reference: l.Reference})
	}

	entries, err := h.receivables.RecordSettlement(c.Request.Context(), req.ReceivableID, lines, req.ActorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	breakdown, err := h.receivables.Breakdown(c.Request.Context(), req.ReceivableID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"entries":   entries,
		"breakdown": breakdown,
	})
}

// Recompute
// POST /api/v1/receivable/recompute
func (h *Handler) Recompute(c *gin.Context) {
	var req struct {
		ReceivableID int64 `json:"receivable_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	receivable, err := h.receivables.Recompute(c.Request.Context(), req.ReceivableID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, receivable)
}

// Breakdown
// GET /api/v1/receivable/breakdown?id=xxx
func (h *Handler) Breakdown(c *gin.Context) {
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}
	breakdown, err := h.receivables.Breakdown(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, breakdown)
}

// ListOverdue
// GET /api/v1/receivable/overdue
func (h *Handler) ListOverdue(c *gin.Context) {
	overdue, err := h.receivables.ListOverdue(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  overdue,
		"total": len(overdue),
	})
}

// LookupBySource
// GET /api/v1/receivable/lookup?category=xxx&source_ref=xxx
func (h *Handler) LookupBySource(c *gin.Context) {
	category, sourceRef := c.Query("category"), c.Query("source_ref")
	if category == "" || sourceRef == "" {
		response.ParamError(c, "category and source_ref are required")
		return
	}
	receivable, err := h.receivables.LookupBySource(c.Request.Context(), category, sourceRef)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"found":      receivable != nil,
		"receivable": receivable,
	})
}

// ListReceivables
// GET /api/v1/receivable/list?owner_id=xxx&page=1&page_size=20
func (h *Handler) ListReceivables(c *gin.Context) {
	ownerID, ok := queryInt64(c, "owner_id")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	receivables, total, err := h.receivables.ListByOwner(c.Request.Context(), ownerID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      receivables,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Credits
// ============================================================

// GetBalance returns the ledger-derived balance and refreshes the cache row.
// GET /api/v1/credit/balance?owner_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	ownerID, ok := queryInt64(c, "owner_id")
	if !ok {
		return
	}
	balance, err := h.credits.GetBalance(c.Request.Context(), ownerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, balance)
}

// DisplayBalance may serve a slightly stale value from Redis.
// GET /api/v1/credit/display?owner_id=xxx
func (h *Handler) DisplayBalance(c *gin.Context) {
	ownerID, ok := queryInt64(c, "owner_id")
	if !ok {
		return
	}
	available, err := h.credits.DisplayBalance(c.Request.Context(), ownerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"owner_id":  ownerID,
		"available": available,
	})
}

type GrantRequest struct {
	OwnerID     int64  `json:"owner_id" binding:"required"`
	Delta       int64  `json:"delta"`
	Kind        string `json:"kind" binding:"required"`
	Description string `json:"description"`
}

// Grant
// POST /api/v1/credit/grant
func (h *Handler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	entry, err := h.credits.Grant(c.Request.Context(), req.OwnerID, req.Delta, req.Kind, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, entry)
}

type ConsumeRequest struct {
	OwnerID     int64      `json:"owner_id" binding:"required"`
	Reason      string     `json:"reason"`
	EffectiveAt *time.Time `json:"effective_at"`
}

// Consume spends one credit. With effective_at set the entry is backdated.
// POST /api/v1/credit/consume
func (h *Handler) Consume(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	var (
		result *service.ConsumeResult
		err    error
	)
	if req.EffectiveAt != nil {
		result, err = h.credits.ConsumeWithDate(c.Request.Context(), req.OwnerID, req.Reason, *req.EffectiveAt)
	} else {
		result, err = h.credits.ConsumeOne(c.Request.Context(), req.OwnerID, req.Reason)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type DeductRequest struct {
	OwnerID     int64  `json:"owner_id" binding:"required"`
	Units       int64  `json:"units"`
	Description string `json:"description"`
}

// Deduct
// POST /api/v1/credit/deduct
func (h *Handler) Deduct(c *gin.Context) {
	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	result, err := h.credits.Deduct(c.Request.Context(), req.OwnerID, req.Units, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// CreditReport
// GET /api/v1/credit/report?owner_id=xxx
func (h *Handler) CreditReport(c *gin.Context) {
	ownerID, ok := queryInt64(c, "owner_id")
	if !ok {
		return
	}
	report, err := h.credits.Report(c.Request.Context(), ownerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, report)
}

// RebuildCredits
// POST /api/v1/credit/rebuild
func (h *Handler) RebuildCredits(c *gin.Context) {
	var req struct {
		OwnerID int64 `json:"owner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	drift, err := h.credits.Rebuild(c.Request.Context(), req.OwnerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, drift)
}

// ============================================================
// Approval requests
// ============================================================

type SubmitRequest struct {
	Kind           string `json:"kind" binding:"required"`
	OwnerID        int64  `json:"owner_id" binding:"required"`
	Credits        int64  `json:"credits"`
	Category       string `json:"category"`
	SourceRef      string `json:"source_ref"`
	BillAmount     int64  `json:"bill_amount"`
	DiscountAmount int64  `json:"discount_amount"`
	Amount         int64  `json:"amount"`
	Method         string `json:"method"`
	Reference      string `json:"reference"`
	Note           string `json:"note"`
}

// SubmitRequest
// POST /api/v1/request/submit
func (h *Handler) SubmitRequest(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	request, err := h.transitions.Submit(c.Request.Context(), service.SubmitRequest{
		Kind:           req.Kind,
		OwnerID:        req.OwnerID,
		Credits:        req.Credits,
		Category:       req.Category,
		SourceRef:      req.SourceRef,
		BillAmount:     req.BillAmount,
		DiscountAmount: req.DiscountAmount,
		Amount:         req.Amount,
		Method:         req.Method,
		Reference:      req.Reference,
		Note:           req.Note,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, request)
}

type TransitionRequest struct {
	RequestID int64  `json:"request_id" binding:"required"`
	Target    string `json:"target" binding:"required"`
	ActorID   int64  `json:"actor_id" binding:"required"`
}

// Transition approves or rejects a pending request. A request someone else already
// decided is reported in the payload with applied=false, not as an error.
// POST /api/v1/request/transition
func (h *Handler) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	result, err := h.transitions.Transition(c.Request.Context(), req.RequestID, req.Target, req.ActorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if result.AlreadyProcessed != nil {
		response.Outcome(c, response.CodeAlreadyProcessed, "request already "+result.AlreadyProcessed.State, result)
		return
	}
	response.Success(c, result)
}

// GetRequest
// GET /api/v1/request/detail?id=xxx
func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}
	request, err := h.transitions.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, request)
}

// ListPending
// GET /api/v1/request/pending?kind=check_in&limit=50
func (h *Handler) ListPending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	requests, err := h.transitions.ListPending(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  requests,
		"total": len(requests),
	})
}
