package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vetclaims/assistant-api/internal/chat"
	"github.com/vetclaims/assistant-api/internal/common"
	"github.com/vetclaims/assistant-api/internal/config"
	"github.com/vetclaims/assistant-api/internal/httpapi/handlers"
	"github.com/vetclaims/assistant-api/internal/httpapi/middleware"
	"github.com/vetclaims/assistant-api/internal/store/redisstore"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, cache *redisstore.Store, publisher chat.SummaryPublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "Not found", "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "Method not allowed", "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.OptionalAuth(cfg.JWTSecret))

	h := handlers.NewHandler(db, cfg, cache, publisher)

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.POST("/chat", h.Chat)
	api.GET("/conversations", h.ListConversations)
	api.DELETE("/conversations", h.DeleteConversation)

	return r
}
