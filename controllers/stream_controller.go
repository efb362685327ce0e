package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signal-trader/interfaces"
)

// StreamController manages live price stream subscriptions
type StreamController struct {
	stream interfaces.PriceStream
}

// NewStreamController creates a new stream controller. stream may be nil
// when no streaming feed is configured.
func NewStreamController(stream interfaces.PriceStream) *StreamController {
	return &StreamController{stream: stream}
}

// SubscribeRequest lists the symbols to start streaming
type SubscribeRequest struct {
	Symbols []string `json:"symbols" binding:"required,min=1"`
}

// HandleSubscribe adds symbols to the live tick stream so open trades on
// them get stop and take-profit evaluation
// POST /api/v1/stream/subscribe
func (stc *StreamController) HandleSubscribe(c *gin.Context) {
	if stc.stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "no price stream configured",
		})
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if err := stc.stream.Subscribe(req.Symbols); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Subscription failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Subscribed",
		"symbols": req.Symbols,
	})
}
