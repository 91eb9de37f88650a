package service

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fairsettle/fairsettle/internal/engine"
	"github.com/fairsettle/fairsettle/internal/middleware"
	"github.com/fairsettle/fairsettle/internal/models"
	"github.com/fairsettle/fairsettle/internal/registry"
)

// SettlementService exposes the settlement state machine over HTTP.
type SettlementService struct {
	engine *engine.Engine
}

// NewSettlementService creates the settlement HTTP service.
func NewSettlementService(e *engine.Engine) *SettlementService {
	return &SettlementService{engine: e}
}

// Register mounts the settlement routes on the given group. All routes
// assume RequireAuth already ran; resolve additionally requires admin.
func (s *SettlementService) Register(r *gin.RouterGroup) {
	r.POST("/settlements", s.create)
	r.POST("/settlements/:id/deposit", s.deposit)
	r.POST("/settlements/:id/initiate", s.initiate)
	r.POST("/settlements/:id/execute", s.execute)
	r.POST("/settlements/:id/refund", s.refund)
	r.POST("/settlements/:id/dispute", s.dispute)
	r.POST("/settlements/:id/resolve", middleware.RequireAdmin(), s.resolve)

	r.GET("/settlements/:id", s.get)
	r.GET("/settlements/:id/transfers", s.getWithTransfers)
	r.GET("/settlements/:id/can-initiate", s.canInitiate)
	r.GET("/settlements/:id/refund-eligible", s.refundEligible)

	r.GET("/queue/head", s.queueHead)
	r.GET("/queue/length", s.queueLength)
	r.GET("/queue/next-id", s.nextID)

	r.GET("/accounts/:party/balance", s.balance)
}

func caller(c *gin.Context) engine.Caller {
	return engine.Caller{
		ID:   middleware.CallerID(c),
		Role: middleware.CallerRole(c),
	}
}

func settlementID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settlement id"})
		return 0, false
	}
	return id, true
}

type createRequest struct {
	Transfers   []registry.TransferSpec `json:"transfers" binding:"required"`
	Timeout     int64                   `json:"timeout"`
	PriceSymbol string                  `json:"priceSymbol"`
}

// defaultTimeout applies when a create request omits the refund deadline.
const defaultTimeout = 24 * 60 * 60

func (s *SettlementService) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Timeout == 0 {
		req.Timeout = defaultTimeout
	}

	settlement, err := s.engine.Create(c.Request.Context(), caller(c), req.Transfers, req.Timeout, req.PriceSymbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, settlement)
}

type depositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (s *SettlementService) deposit(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	total, err := s.engine.Deposit(c.Request.Context(), caller(c), id, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlementId": id, "totalDeposited": total})
}

func (s *SettlementService) initiate(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}

	pos, err := s.engine.Initiate(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlementId": id, "queuePosition": pos})
}

type executeRequest struct {
	Count int `json:"count" binding:"required"`
}

func (s *SettlementService) execute(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	executed, err := s.engine.Execute(c.Request.Context(), caller(c), id, req.Count)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlementId": id, "executed": executed})
}

func (s *SettlementService) refund(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}

	refunded, err := s.engine.Refund(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlementId": id, "refunded": refunded})
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *SettlementService) dispute(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.Dispute(c.Request.Context(), caller(c), id, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlementId": id, "state": models.StateDisputed})
}

type resolveRequest struct {
	Outcome models.DisputeOutcome `json:"outcome" binding:"required"`
}

func (s *SettlementService) resolve(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := s.engine.ResolveDispute(c.Request.Context(), caller(c), id, req.Outcome)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlementId": id, "state": state})
}

func (s *SettlementService) get(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	settlement, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settlement)
}

func (s *SettlementService) getWithTransfers(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	settlement, transfers, err := s.engine.GetWithTransfers(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlement": settlement, "transfers": transfers})
}

func (s *SettlementService) canInitiate(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	can, reason, err := s.engine.CanInitiate(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canInitiate": can, "reason": reason})
}

func (s *SettlementService) refundEligible(c *gin.Context) {
	id, ok := settlementID(c)
	if !ok {
		return
	}
	eligible, err := s.engine.EligibleForRefund(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"eligible": eligible})
}

func (s *SettlementService) queueHead(c *gin.Context) {
	head, err := s.engine.QueueHead(c.Request.Context())
	if err != nil {
		if engine.IsNotFound(err) {
			c.JSON(http.StatusOK, gin.H{"head": nil})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"head": head})
}

func (s *SettlementService) queueLength(c *gin.Context) {
	n, err := s.engine.QueueLength(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"length": n})
}

func (s *SettlementService) nextID(c *gin.Context) {
	id, err := s.engine.NextSettlementID(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nextId": id})
}

func (s *SettlementService) balance(c *gin.Context) {
	party := c.Param("party")
	balance, err := s.engine.Balance(c.Request.Context(), party)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"party": party, "balance": balance})
}
