package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signal-trader/interfaces"
	"signal-trader/models"
	"signal-trader/services"
)

// TradeController handles trade queries and manual closes
type TradeController struct {
	engine    *services.TradingEngine
	priceFeed interfaces.PriceFeed
}

// NewTradeController creates a new trade controller. priceFeed may be nil;
// manual closes then require an explicit price in the request.
func NewTradeController(engine *services.TradingEngine, priceFeed interfaces.PriceFeed) *TradeController {
	return &TradeController{
		engine:    engine,
		priceFeed: priceFeed,
	}
}

// HandleListTrades lists trades, newest first
// GET /api/v1/trades?symbol=BTC/USDT&status=open
func (tc *TradeController) HandleListTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	status := models.TradeStatus(c.Query("status"))

	trades := tc.engine.ListTrades(symbol, status)

	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

// HandleGetTrade retrieves a single trade
// GET /api/v1/trades/:id
func (tc *TradeController) HandleGetTrade(c *gin.Context) {
	trade, err := tc.engine.GetTrade(c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

// CloseTradeRequest supplies the close price, or omits it to use the
// latest feed price
type CloseTradeRequest struct {
	Price *decimal.Decimal `json:"price"`
}

// HandleCloseTrade closes all remaining quantity of an open trade
// POST /api/v1/trades/:id/close
func (tc *TradeController) HandleCloseTrade(c *gin.Context) {
	var req CloseTradeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request",
				"details": err.Error(),
			})
			return
		}
	}

	var price decimal.Decimal
	switch {
	case req.Price != nil:
		price = *req.Price
	case tc.priceFeed != nil:
		trade, err := tc.engine.GetTrade(c.Param("id"))
		if err != nil {
			respondDomainError(c, err)
			return
		}
		price, err = tc.priceFeed.LatestPrice(c.Request.Context(), trade.Symbol)
		if err != nil {
			respondDomainError(c, &models.ExecError{Code: models.CodePriceUnavailable, Detail: err.Error()})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "price required, no price feed configured",
		})
		return
	}

	trade, err := tc.engine.CloseTrade(c.Param("id"), price, models.ExitManual)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Trade closed",
		"trade":   trade,
	})
}
