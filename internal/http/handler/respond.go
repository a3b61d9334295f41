package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aakashsharma7/code-reviewer/internal/fault"
)

// respondError maps a fault kind to an HTTP status. Unclassified errors
// are reported as 500 without leaking the message.
func respondError(c *gin.Context, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case fault.KindAuth:
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
