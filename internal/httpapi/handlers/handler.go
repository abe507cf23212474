package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/vetclaims/assistant-api/internal/ai"
	"github.com/vetclaims/assistant-api/internal/chat"
	"github.com/vetclaims/assistant-api/internal/common"
	"github.com/vetclaims/assistant-api/internal/config"
	"github.com/vetclaims/assistant-api/internal/prompt"
	"github.com/vetclaims/assistant-api/internal/quota"
	"github.com/vetclaims/assistant-api/internal/store/redisstore"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	History *chat.Aggregator
}

func NewHandler(db *gorm.DB, cfg config.Config, cache *redisstore.Store, publisher chat.SummaryPublisher) *Handler {
	repo := chat.NewRepo(db)
	ledger := quota.NewLedger(db)
	router := ai.NewRouter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.XAIBaseURL, cfg.XAIAPIKey)
	assembler := prompt.NewKBAssembler(db, cache)

	svc := chat.NewService(repo, ledger, router, assembler, cfg.ChatContextWindowSize)
	if publisher != nil {
		svc.SetSummaryPublisher(publisher)
	}

	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: svc,
		History: chat.NewAggregator(repo),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}
