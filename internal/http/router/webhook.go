package router

import (
	"github.com/gin-gonic/gin"

	"github.com/aakashsharma7/code-reviewer/internal/http/handler"
	"github.com/aakashsharma7/code-reviewer/internal/http/middleware"
)

func WebhookRouter(router *gin.RouterGroup, h *handler.WebhookHandler, adminAPIKey string) {
	router.POST("/test", middleware.AdminAuth(adminAPIKey), h.ReceiveTest)
	router.POST("/:provider/:repository_id", h.Receive)
}
