package router

import (
	"github.com/gin-gonic/gin"

	"github.com/aakashsharma7/code-reviewer/internal/http/handler"
	"github.com/aakashsharma7/code-reviewer/internal/http/middleware"
)

func JobRouter(router *gin.RouterGroup, h *handler.JobHandler, adminAPIKey string) {
	router.GET("/:id", h.Get)
	router.POST("/:id/retry", middleware.AdminAuth(adminAPIKey), h.Retry)
	router.POST("/:id/cancel", middleware.AdminAuth(adminAPIKey), h.Cancel)
}
