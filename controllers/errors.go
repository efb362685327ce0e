package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signal-trader/models"
)

// respondDomainError maps typed domain errors onto HTTP statuses and a
// uniform body shape so clients can branch on the reason code
func respondDomainError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *models.ParseError:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Signal could not be parsed",
			"code":    e.Code,
			"details": e.Error(),
		})
	case *models.RiskError:
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Signal rejected by risk policy",
			"code":    e.Code,
			"details": e.Error(),
		})
	case *models.GateError:
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Signal rejected by auto-execute gate",
			"code":    e.Code,
			"details": e.Error(),
		})
	case *models.ExecError:
		status := http.StatusConflict
		switch e.Code {
		case models.CodeSignalNotFound, models.CodeTradeNotFound:
			status = http.StatusNotFound
		case models.CodePriceUnavailable:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error":   "Execution failed",
			"code":    e.Code,
			"details": e.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}
