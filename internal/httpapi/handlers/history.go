package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vetclaims/assistant-api/internal/common"
)

func (h *Handler) ListConversations(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		common.Fail(c, http.StatusBadRequest, "Invalid request", "userId is required")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	list, err := h.History.ListConversations(c.Request.Context(), userID, limit)
	if err != nil {
		log.Printf("[ListConversations] failed user=%s err=%v", userID, err)
		common.Fail(c, http.StatusServiceUnavailable, "Store unavailable", "conversation store is unreachable")
		return
	}

	common.OK(c, list)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	userID := c.Query("userId")
	conversationID := c.Query("conversationId")
	if userID == "" || conversationID == "" {
		common.Fail(c, http.StatusBadRequest, "Invalid request", "userId and conversationId are required")
		return
	}

	if err := h.History.DeleteConversation(c.Request.Context(), userID, conversationID); err != nil {
		log.Printf("[DeleteConversation] failed user=%s conv=%s err=%v", userID, conversationID, err)
		common.Fail(c, http.StatusInternalServerError, "Store error", "failed to delete conversation")
		return
	}

	common.OK(c, gin.H{"success": true})
}
