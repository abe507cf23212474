package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/vetclaims/assistant-api/internal/ai"
	"github.com/vetclaims/assistant-api/internal/chat"
	"github.com/vetclaims/assistant-api/internal/quota"
	"gorm.io/gorm"
)

type stubProvider struct {
	chunks []string
	err    error
}

func (p *stubProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	_ = messages
	if p.err != nil {
		return "", p.err
	}
	return strings.Join(p.chunks, ""), nil
}

func (p *stubProvider) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	_ = ctx
	_ = messages
	chunks := make(chan string, len(p.chunks))
	errs := make(chan error, 1)
	for _, c := range p.chunks {
		chunks <- c
	}
	if p.err != nil {
		errs <- p.err
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

type stubAssembler struct{}

func (stubAssembler) BuildPrompt(ctx context.Context, question string, history []ai.Message, useKB, useDataset bool) (string, error) {
	_ = ctx
	_ = question
	_ = history
	_ = useKB
	_ = useDataset
	return "system", nil
}

func newChatRouter(t *testing.T, prov ai.Provider) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&chat.Message{}, &chat.Summary{}, &quota.Record{}, &quota.Subscription{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	router := ai.NewRouter("", "test-openai-key", "", "test-xai-key")
	router.SetFactory(func(family, providerModel string) ai.Provider {
		_ = family
		_ = providerModel
		return prov
	})

	repo := chat.NewRepo(db)
	svc := chat.NewService(repo, quota.NewLedger(db), router, stubAssembler{}, 20)

	h := &Handler{ChatSvc: svc, History: chat.NewAggregator(repo)}
	r := gin.New()
	r.POST("/api/chat", h.Chat)
	return r
}

func postChat(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestChat_StreamsPlainText(t *testing.T) {
	r := newChatRouter(t, &stubProvider{chunks: []string{"hello ", "world"}})

	w := postChat(t, r, `{"messages":["hi"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
	if w.Body.String() != "hello world" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
	if w.Header().Get("X-Conversation-ID") == "" {
		t.Fatalf("expected a conversation id header")
	}
}

func TestChat_UpstreamErrorBeforeOutputIsJSON(t *testing.T) {
	r := newChatRouter(t, &stubProvider{err: fmt.Errorf("connection refused")})

	w := postChat(t, r, `{"messages":["hi"]}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("error envelope must be JSON, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Upstream error") {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}
}

func TestChat_UpstreamTimeoutBeforeOutputIsJSON(t *testing.T) {
	r := newChatRouter(t, &stubProvider{err: fmt.Errorf("openai: %w", ai.ErrUpstreamTimeout)})

	w := postChat(t, r, `{"messages":["hi"]}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("error envelope must be JSON, got %q", ct)
	}
}

func TestChat_MissingMessagesIsBadRequest(t *testing.T) {
	r := newChatRouter(t, &stubProvider{chunks: []string{"never"}})

	w := postChat(t, r, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}
