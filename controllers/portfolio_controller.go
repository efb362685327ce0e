package controllers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"signal-trader/services"
)

// PortfolioController handles portfolio and statistics queries
type PortfolioController struct {
	engine *services.TradingEngine
}

// NewPortfolioController creates a new portfolio controller
func NewPortfolioController(engine *services.TradingEngine) *PortfolioController {
	return &PortfolioController{engine: engine}
}

// HandleGetPortfolio returns the account ledger snapshot
// GET /api/v1/portfolio
func (pc *PortfolioController) HandleGetPortfolio(c *gin.Context) {
	portfolio := pc.engine.GetPortfolio()

	c.JSON(http.StatusOK, gin.H{
		"portfolio":      portfolio,
		"open_positions": pc.engine.OpenTradeCount(),
	})
}

// HandleGetStats returns the derived trading statistics. The profit factor
// is +Inf for an account with no losing trades, which JSON cannot carry as
// a number, so it is reported as the string "inf" in that case.
// GET /api/v1/portfolio/stats
func (pc *PortfolioController) HandleGetStats(c *gin.Context) {
	stats := pc.engine.Stats()

	var profitFactor interface{}
	if math.IsInf(stats.ProfitFactor, 1) {
		profitFactor = "inf"
	} else {
		profitFactor = stats.ProfitFactor
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":         stats,
		"profit_factor": profitFactor,
	})
}
