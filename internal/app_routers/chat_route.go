package approuters

import (
	"github.com/ciphermg101/smartHIVE-sub000/internal/configuration"
	"github.com/ciphermg101/smartHIVE-sub000/internal/middleware"

	"github.com/gin-gonic/gin"
)

// ChatRouters mounts the REST chat surface. The :id segment is an apartment
// id or a message id depending on the route; the handler resolves it.
func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chatRoute := router.Group("/chat", middleware.AuthMiddleware(container.Verifier))
	{
		chatRoute.POST("/", container.ChatHandler.CreateMessage)
		chatRoute.GET("/:id", container.ChatHandler.GetMessages)
		chatRoute.GET("/:id/unread-count", container.ChatHandler.GetUnreadCount)
		chatRoute.GET("/:id/reactions", container.ChatHandler.ListReactions)
		chatRoute.POST("/:id/mark-all-read", container.ChatHandler.MarkAllRead)
		chatRoute.GET("/message/:messageId", container.ChatHandler.GetMessage)
		chatRoute.POST("/message/:messageId/read", container.ChatHandler.MarkMessageRead)
		chatRoute.POST("/message/:messageId/react", container.ChatHandler.ReactToMessage)
		chatRoute.DELETE("/:id", container.ChatHandler.DeleteMessage)
	}
}
