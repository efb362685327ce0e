package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signal-trader/models"
	"signal-trader/services"
)

// SettingsController handles risk policy and auto-execute configuration
type SettingsController struct {
	engine   *services.TradingEngine
	executor *services.AutoExecutor
}

// NewSettingsController creates a new settings controller
func NewSettingsController(engine *services.TradingEngine, executor *services.AutoExecutor) *SettingsController {
	return &SettingsController{
		engine:   engine,
		executor: executor,
	}
}

// HandleGetRiskSettings returns the current risk policy
// GET /api/v1/settings/risk
func (sc *SettingsController) HandleGetRiskSettings(c *gin.Context) {
	c.JSON(http.StatusOK, sc.engine.RiskSettings())
}

// UpdateRiskSettingsRequest carries a full replacement risk policy
type UpdateRiskSettingsRequest struct {
	MaxRiskPerTradePercent decimal.Decimal `json:"max_risk_per_trade_percent"`
	MaxOpenPositions       int             `json:"max_open_positions"`
	MinRiskRewardRatio     decimal.Decimal `json:"min_risk_reward_ratio"`
	DefaultLeverage        int             `json:"default_leverage"`
}

// HandleUpdateRiskSettings hot-reloads the risk policy
// PUT /api/v1/settings/risk
func (sc *SettingsController) HandleUpdateRiskSettings(c *gin.Context) {
	var req UpdateRiskSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if !req.MaxRiskPerTradePercent.IsPositive() || req.MaxRiskPerTradePercent.GreaterThan(decimal.NewFromInt(100)) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_risk_per_trade_percent must be in (0, 100]",
		})
		return
	}
	if req.MaxOpenPositions <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_open_positions must be positive",
		})
		return
	}
	if req.MinRiskRewardRatio.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "min_risk_reward_ratio must not be negative",
		})
		return
	}
	if req.DefaultLeverage <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "default_leverage must be positive",
		})
		return
	}

	settings := models.RiskSettings{
		MaxRiskPerTradePercent: req.MaxRiskPerTradePercent,
		MaxOpenPositions:       req.MaxOpenPositions,
		MinRiskRewardRatio:     req.MinRiskRewardRatio,
		DefaultLeverage:        req.DefaultLeverage,
	}
	sc.engine.UpdateRiskSettings(settings)

	c.JSON(http.StatusOK, gin.H{
		"message":  "Risk settings updated",
		"settings": settings,
	})
}

// autoExecuteConfigView is the wire shape of the gate configuration, with
// the cooldown expressed in seconds
type autoExecuteConfigView struct {
	Enabled           bool    `json:"enabled"`
	MinConfidence     float64 `json:"min_confidence"`
	MinAIScore        float64 `json:"min_ai_score"`
	RequireAIApproval bool    `json:"require_ai_approval"`
	MaxDailyTrades    int     `json:"max_daily_trades"`
	CooldownSeconds   int     `json:"cooldown_seconds"`
}

// HandleGetAutoExecuteConfig returns the gate configuration and counters
// GET /api/v1/settings/auto-execute
func (sc *SettingsController) HandleGetAutoExecuteConfig(c *gin.Context) {
	cfg := sc.executor.Config()

	c.JSON(http.StatusOK, gin.H{
		"config": autoExecuteConfigView{
			Enabled:           cfg.Enabled,
			MinConfidence:     cfg.MinConfidence,
			MinAIScore:        cfg.MinAIScore,
			RequireAIApproval: cfg.RequireAIApproval,
			MaxDailyTrades:    cfg.MaxDailyTrades,
			CooldownSeconds:   int(cfg.Cooldown / time.Second),
		},
		"state": sc.executor.State(),
	})
}

// HandleUpdateAutoExecuteConfig replaces the gate configuration
// PUT /api/v1/settings/auto-execute
func (sc *SettingsController) HandleUpdateAutoExecuteConfig(c *gin.Context) {
	var req autoExecuteConfigView
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "min_confidence must be in [0, 1]",
		})
		return
	}
	if req.MinAIScore < 0 || req.MinAIScore > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "min_ai_score must be in [0, 100]",
		})
		return
	}
	if req.MaxDailyTrades <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_daily_trades must be positive",
		})
		return
	}
	if req.CooldownSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "cooldown_seconds must not be negative",
		})
		return
	}

	cfg := models.AutoExecuteConfig{
		Enabled:           req.Enabled,
		MinConfidence:     req.MinConfidence,
		MinAIScore:        req.MinAIScore,
		RequireAIApproval: req.RequireAIApproval,
		MaxDailyTrades:    req.MaxDailyTrades,
		Cooldown:          time.Duration(req.CooldownSeconds) * time.Second,
	}
	sc.executor.UpdateConfig(cfg)

	c.JSON(http.StatusOK, gin.H{
		"message": "Auto-execute config updated",
		"config":  req,
	})
}

// HandleResetCircuitBreaker is the manual breaker reset
// POST /api/v1/settings/auto-execute/reset-breaker
func (sc *SettingsController) HandleResetCircuitBreaker(c *gin.Context) {
	sc.executor.ResetCircuitBreaker()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset",
		"state":   sc.executor.State(),
	})
}
