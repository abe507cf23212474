package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vetclaims/assistant-api/internal/ai"
	"github.com/vetclaims/assistant-api/internal/chat"
	"github.com/vetclaims/assistant-api/internal/common"
	"github.com/vetclaims/assistant-api/internal/httpapi/middleware"
	"github.com/vetclaims/assistant-api/internal/quota"
)

type chatReq struct {
	Messages         []json.RawMessage `json:"messages" binding:"required"`
	UserID           string            `json:"userId"`
	Model            string            `json:"model"`
	ConversationID   string            `json:"conversationId"`
	UseKnowledgeBase *bool             `json:"useKnowledgeBase"`
	UseDataset       bool              `json:"useDataset"`
}

func userIDFromContext(c *gin.Context) string {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// Chat is the streaming completion endpoint. Metadata travels in headers
// because the body is an opaque token stream; failures before the first
// token return the JSON error envelope instead.
func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "Invalid request", "request must include a messages array")
		return
	}

	// a verified bearer identity wins over the body field
	userID := userIDFromContext(c)
	if userID == "" {
		userID = req.UserID
	}

	useKB := true
	if req.UseKnowledgeBase != nil {
		useKB = *req.UseKnowledgeBase
	}

	res, err := h.ChatSvc.StreamCompletion(c.Request.Context(), chat.StreamRequest{
		Turns:            req.Messages,
		UserID:           userID,
		Model:            req.Model,
		ConversationID:   req.ConversationID,
		UseKnowledgeBase: useKB,
		UseDataset:       req.UseDataset,
	})
	if err != nil {
		var limitErr *quota.LimitError
		var misconfigured *ai.MisconfiguredError
		switch {
		case errors.Is(err, chat.ErrInvalidRequest):
			common.Fail(c, http.StatusBadRequest, "Invalid request", err.Error())
		case errors.As(err, &limitErr):
			common.FailQuota(c, http.StatusTooManyRequests, "Rate limit exceeded",
				"You have reached your daily question limit. Please try again tomorrow.",
				limitErr.Remaining, limitErr.Limit)
		case errors.As(err, &misconfigured):
			common.Fail(c, http.StatusInternalServerError, "Provider misconfigured", misconfigured.Error())
		default:
			log.Printf("[Chat] stream setup failed: %v", err)
			common.Fail(c, http.StatusInternalServerError, "Internal error", "failed to start completion")
		}
		return
	}

	c.Header("X-Conversation-ID", res.ConversationID)
	if res.Remaining >= 0 {
		c.Header("X-Rate-Limit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-Rate-Limit-Limit", strconv.Itoa(res.Limit))
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, "Internal error", "streaming not supported")
		return
	}

	ctx := c.Request.Context()
	chunks := res.Chunks
	errs := res.Errs
	wroteAny := false

	// Stream headers commit with the first chunk; a failure before any
	// output still gets the JSON error envelope.
	commit := func() {
		if wroteAny {
			return
		}
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
		c.Status(http.StatusOK)
		wroteAny = true
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			commit()
			fmt.Fprint(c.Writer, chunk)
			flusher.Flush()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if !wroteAny {
				// nothing committed yet, surface the upstream failure
				if errors.Is(err, ai.ErrUpstreamTimeout) {
					common.Fail(c, http.StatusGatewayTimeout, "Upstream timeout", "the model took too long to respond")
				} else {
					common.Fail(c, http.StatusBadGateway, "Upstream error", err.Error())
				}
				return
			}
			// mid-stream failure: nothing left to do but end the stream
			log.Printf("[Chat] stream failed conv=%s err=%v", res.ConversationID, err)
			return

		case <-res.Done:
			// flush anything still buffered before ending the response
			for chunk := range res.Chunks {
				commit()
				fmt.Fprint(c.Writer, chunk)
			}
			// a terminal error may have raced the done signal
			if errs != nil {
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						if !wroteAny {
							if errors.Is(err, ai.ErrUpstreamTimeout) {
								common.Fail(c, http.StatusGatewayTimeout, "Upstream timeout", "the model took too long to respond")
							} else {
								common.Fail(c, http.StatusBadGateway, "Upstream error", err.Error())
							}
							return
						}
						log.Printf("[Chat] stream failed conv=%s err=%v", res.ConversationID, err)
					}
				default:
				}
			}
			commit()
			flusher.Flush()
			return

		case <-ctx.Done():
			return
		}
	}
}
