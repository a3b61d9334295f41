package router

import (
	"github.com/gin-gonic/gin"

	"github.com/aakashsharma7/code-reviewer/internal/http/handler"
	"github.com/aakashsharma7/code-reviewer/internal/realtime"
	"github.com/aakashsharma7/code-reviewer/internal/service"
)

type RouterConfig struct {
	IsProduction bool
	AdminAPIKey  string
}

func SetupRoutes(router *gin.Engine, services *service.Services, hub *realtime.Hub, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		webhookHandler := handler.NewWebhookHandler(services.Ingest())
		WebhookRouter(v1.Group("/webhooks"), webhookHandler, cfg.AdminAPIKey)

		jobHandler := handler.NewJobHandler(services.Jobs())
		JobRouter(v1.Group("/jobs"), jobHandler, cfg.AdminAPIKey)

		wsHandler := handler.NewWSHandler(hub, services.Identity())
		v1.GET("/ws", wsHandler.Connect)
	}
}
