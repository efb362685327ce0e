package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signal-trader/models"
	"signal-trader/services"
)

// SignalController handles signal intake and resolution
type SignalController struct {
	parser      *services.SignalParser
	engine      *services.TradingEngine
	executor    *services.AutoExecutor
	riskManager *services.RiskManager
}

// NewSignalController creates a new signal controller
func NewSignalController(
	parser *services.SignalParser,
	engine *services.TradingEngine,
	executor *services.AutoExecutor,
	riskManager *services.RiskManager,
) *SignalController {
	return &SignalController{
		parser:      parser,
		engine:      engine,
		executor:    executor,
		riskManager: riskManager,
	}
}

// SubmitSignalRequest is the intake payload
type SubmitSignalRequest struct {
	Raw    string `json:"raw" binding:"required"`
	Source string `json:"source"`
}

// HandleSubmitSignal parses a raw message, registers the signal and runs it
// through the auto-execute gate. Gate rejections are reported in the
// response but still leave the signal pending for manual review.
// POST /api/v1/signals
func (sc *SignalController) HandleSubmitSignal(c *gin.Context) {
	var req SubmitSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	signal, err := sc.parser.Parse(req.Raw, source)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	sc.engine.AddSignal(signal)

	trade, gateErr := sc.executor.ProcessSignal(c.Request.Context(), *signal)
	if gateErr != nil {
		var reason string
		var gerr *models.GateError
		var rerr *models.RiskError
		var eerr *models.ExecError
		switch {
		case errors.As(gateErr, &gerr):
			reason = gerr.Code
		case errors.As(gateErr, &rerr):
			reason = rerr.Code
		case errors.As(gateErr, &eerr):
			reason = eerr.Code
		default:
			reason = gateErr.Error()
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message":       "Signal accepted, pending manual review",
			"signal":        signal,
			"auto_executed": false,
			"gate_reason":   reason,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":       "Signal auto-executed",
		"signal":        signal,
		"auto_executed": true,
		"trade":         trade,
	})
}

// HandleListSignals lists registered signals, newest first
// GET /api/v1/signals?pending=true
func (sc *SignalController) HandleListSignals(c *gin.Context) {
	pendingOnly := c.Query("pending") == "true"

	signals := sc.engine.ListSignals(pendingOnly)

	c.JSON(http.StatusOK, gin.H{
		"count":   len(signals),
		"signals": signals,
	})
}

// HandleGetSignal retrieves a single signal
// GET /api/v1/signals/:id
func (sc *SignalController) HandleGetSignal(c *gin.Context) {
	signal, err := sc.engine.GetSignal(c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, signal)
}

// ExecuteSignalRequest allows a manual execution to override the sized
// quantity and to supply the fill price observed by the caller
type ExecuteSignalRequest struct {
	Quantity    *decimal.Decimal `json:"quantity"`
	MarketPrice *decimal.Decimal `json:"market_price"`
}

// HandleExecuteSignal manually executes a pending signal. The risk manager
// still sizes and validates the order; a quantity override recomputes the
// margin for the overridden size.
// POST /api/v1/signals/:id/execute
func (sc *SignalController) HandleExecuteSignal(c *gin.Context) {
	var req ExecuteSignalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request",
				"details": err.Error(),
			})
			return
		}
	}

	signal, err := sc.engine.GetSignal(c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if signal.Resolved() {
		respondDomainError(c, &models.ExecError{Code: models.CodeAlreadyResolved, Detail: signal.ID})
		return
	}

	order, err := sc.riskManager.Size(&signal, sc.engine.RiskSettings(), sc.engine.GetPortfolio(), sc.engine.OpenTradeCount())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	if req.Quantity != nil {
		if !req.Quantity.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "quantity must be positive",
			})
			return
		}
		order.Quantity = *req.Quantity
		order.Margin = req.Quantity.Mul(signal.Entry).Div(decimal.NewFromInt(int64(order.Leverage)))
	}

	trade, err := sc.engine.ExecuteSignal(signal.ID, *order, req.MarketPrice)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Trade opened",
		"trade":   trade,
	})
}

// HandleDismissSignal dismisses a pending signal
// POST /api/v1/signals/:id/dismiss
func (sc *SignalController) HandleDismissSignal(c *gin.Context) {
	if err := sc.engine.DismissSignal(c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Signal dismissed",
	})
}
