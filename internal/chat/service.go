package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/vetclaims/assistant-api/internal/ai"
	"github.com/vetclaims/assistant-api/internal/common"
	"github.com/vetclaims/assistant-api/internal/prompt"
	"github.com/vetclaims/assistant-api/internal/quota"
	"gorm.io/datatypes"
)

// ErrInvalidRequest marks malformed or empty input; handlers map it to 400.
var ErrInvalidRequest = errors.New("invalid request")

// SummaryPublisher schedules async conversation summarization. Publish
// failures are logged and never surfaced.
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, userID, conversationID string) error
}

// Service is the streaming completion gateway: it validates the request,
// consults the quota ledger, resolves a provider, assembles the prompt,
// relays the upstream token stream, and schedules persistence.
type Service struct {
	repo              *Repo
	ledger            *quota.Ledger
	router            *ai.Router
	assembler         prompt.Assembler
	publisher         SummaryPublisher
	contextWindowSize int
	streamTimeout     time.Duration

	// tracks fire-and-forget persistence writes; tests wait on it
	bg sync.WaitGroup
}

func NewService(repo *Repo, ledger *quota.Ledger, router *ai.Router, assembler prompt.Assembler, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		repo:              repo,
		ledger:            ledger,
		router:            router,
		assembler:         assembler,
		contextWindowSize: contextWindowSize,
		streamTimeout:     90 * time.Second,
	}
}

// SetSummaryPublisher wires the optional summarization queue.
func (s *Service) SetSummaryPublisher(p SummaryPublisher) {
	s.publisher = p
}

// StreamRequest is the normalized inbound chat request. Turns stay raw until
// extraction so all three accepted shapes pass through one decoder.
type StreamRequest struct {
	Turns            []json.RawMessage
	UserID           string
	Model            string
	ConversationID   string
	UseKnowledgeBase bool
	UseDataset       bool
}

// StreamResult carries the response metadata resolved before streaming plus
// the relay channels. Remaining is -1 when no admission decision was made
// (anonymous request or ledger fail-open).
type StreamResult struct {
	ConversationID string
	Remaining      int
	Limit          int
	Chunks         <-chan string
	Errs           <-chan error
	Done           <-chan struct{}
}

// StreamCompletion runs the gateway pipeline. Every failure before the
// upstream call returns a terminal error; once streaming starts, failures
// surface only on the Errs channel.
func (s *Service) StreamCompletion(ctx context.Context, req StreamRequest) (*StreamResult, error) {
	if len(req.Turns) == 0 {
		return nil, fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		id, err := common.NewULID()
		if err != nil {
			return nil, fmt.Errorf("generate conversation id: %w", err)
		}
		conversationID = id
	}

	// Admission. Anonymous requests carry no durable identity to meter, so
	// they bypass the ledger the same way they bypass persistence.
	remaining, limit := -1, -1
	if req.UserID != "" {
		tier := s.ledger.TierFor(ctx, req.UserID)
		dec := s.ledger.Admit(ctx, req.UserID, tier)
		if !dec.Allowed {
			return nil, &quota.LimitError{Remaining: dec.Remaining, Limit: dec.Limit}
		}
		remaining, limit = dec.Remaining, dec.Limit
	}

	resolution, err := s.router.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	turns, question := extractTurns(req.Turns, s.contextWindowSize)
	if question == "" && len(turns) == 0 {
		return nil, fmt.Errorf("%w: no usable message content", ErrInvalidRequest)
	}

	// The final turn is the question itself; the assembler history must not
	// duplicate it.
	history := turns
	if len(history) > 0 {
		history = history[:len(history)-1]
	}

	systemPrompt, err := s.assembler.BuildPrompt(ctx, question, history, req.UseKnowledgeBase, req.UseDataset)
	if err != nil {
		log.Printf("[ChatService] prompt assembly failed conv=%s err=%v, using fallback", conversationID, err)
		systemPrompt = prompt.Fallback(question, history)
	}

	chunks := make(chan string, 16)
	done := make(chan struct{})
	errsOut := make(chan error, 1)

	go s.relay(ctx, relayParams{
		req:            req,
		resolution:     resolution,
		conversationID: conversationID,
		systemPrompt:   systemPrompt,
		history:        history,
		question:       question,
	}, chunks, done, errsOut)

	return &StreamResult{
		ConversationID: conversationID,
		Remaining:      remaining,
		Limit:          limit,
		Chunks:         chunks,
		Errs:           errsOut,
		Done:           done,
	}, nil
}

type relayParams struct {
	req            StreamRequest
	resolution     *ai.Resolution
	conversationID string
	systemPrompt   string
	history        []ai.Message
	question       string
}

func (s *Service) relay(ctx context.Context, p relayParams, chunks chan<- string, done chan<- struct{}, errsOut chan<- error) {
	defer close(chunks)
	defer close(done)
	defer close(errsOut)

	// Fire-and-forget user turn. Detached from the request context so a
	// client disconnect does not lose the record.
	if p.req.UserID != "" && p.question != "" {
		uctx := context.WithoutCancel(ctx)
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.persistTurn(uctx, p.req.UserID, p.conversationID, "user", p.question, p.resolution.ProviderModel)
		}()
	}

	providerMsgs := make([]ai.Message, 0, len(p.history)+2)
	providerMsgs = append(providerMsgs, ai.Message{Role: "system", Content: p.systemPrompt})
	providerMsgs = append(providerMsgs, p.history...)
	if p.question != "" {
		providerMsgs = append(providerMsgs, ai.Message{Role: "user", Content: p.question})
	}

	sp, ok := p.resolution.Provider.(ai.StreamProvider)
	if !ok {
		errsOut <- errors.New("provider does not support streaming")
		return
	}

	// Bound the upstream call; client disconnects cancel it through ctx.
	sctx, cancel := context.WithTimeout(ctx, s.streamTimeout)
	defer cancel()

	pChunks, pErrs := sp.StreamChat(sctx, providerMsgs)

	var b strings.Builder
relayLoop:
	for c := range pChunks {
		b.WriteString(c)
		select {
		case chunks <- c:
		case <-ctx.Done():
			// Caller is gone: stop paying for generation nobody reads, but
			// keep draining so the provider goroutine can exit; whatever
			// already arrived is still worth recording.
			cancel()
			for cc := range pChunks {
				b.WriteString(cc)
			}
			break relayLoop
		}
	}

	var streamErr error
	select {
	case err := <-pErrs:
		streamErr = err
	default:
	}

	reply := b.String()

	// Record what was produced, if anything, even when the stream failed or
	// the caller disconnected. Detached like the user turn: closing the
	// relay channels must not wait on the store or the broker.
	if p.req.UserID != "" && reply != "" {
		bctx := context.WithoutCancel(ctx)
		publish := s.publisher != nil && streamErr == nil
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.persistTurn(bctx, p.req.UserID, p.conversationID, "assistant", reply, p.resolution.ProviderModel)
			if publish {
				if err := s.publisher.PublishSummary(bctx, p.req.UserID, p.conversationID); err != nil {
					log.Printf("[ChatService] summary publish failed conv=%s err=%v", p.conversationID, err)
				}
			}
		}()
	}

	if streamErr != nil {
		errsOut <- streamErr
	}
}

func (s *Service) persistTurn(ctx context.Context, userID, conversationID, role, content, model string) {
	m := &Message{
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata: datatypes.JSONMap{
			"model":        model,
			"submitted_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.repo.Append(ctx, m); err != nil {
		log.Printf("[ChatService] persist %s turn failed conv=%s err=%v", role, conversationID, err)
	}
}

// Summarize generates and stores a short digest of a conversation. Called by
// the summarization worker, not the request path.
func (s *Service) Summarize(ctx context.Context, userID, conversationID string) error {
	msgs, err := s.repo.ListConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	resolution, err := s.router.Resolve("")
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("Summarize the following conversation between a veteran and a benefits assistant in at most two sentences.\n\n")
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	digest, err := resolution.Provider.Chat(ctx, []ai.Message{{Role: "user", Content: b.String()}})
	if err != nil {
		return err
	}

	return s.repo.UpsertSummary(ctx, &Summary{
		UserID:         userID,
		ConversationID: conversationID,
		Summary:        digest,
		Model:          resolution.ProviderModel,
	})
}
