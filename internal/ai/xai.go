package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// XAIProvider speaks the xAI chat completions API. Grok reasoning models
// accept a reasoning_effort knob the OpenAI family does not.
type XAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type xaiChatReq struct {
	Model           string      `json:"model"`
	Messages        []openAIMsg `json:"messages"`
	Stream          bool        `json:"stream"`
	ReasoningEffort string      `json:"reasoning_effort,omitempty"`
}

func NewXAIProvider(baseURL, apiKey, model string) *XAIProvider {
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	return &XAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *XAIProvider) reasoningEffort() string {
	if strings.Contains(p.Model, "reasoning") && !strings.Contains(p.Model, "non-reasoning") {
		return "low"
	}
	return ""
}

func (p *XAIProvider) buildRequest(messages []Message, stream bool) ([]byte, error) {
	out := make([]openAIMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, openAIMsg{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(xaiChatReq{
		Model:           p.Model,
		Messages:        out,
		Stream:          stream,
		ReasoningEffort: p.reasoningEffort(),
	})
}

func (p *XAIProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	return req, nil
}

func (p *XAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("xai: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("xai: api key is required")
	}
	if strings.TrimSpace(p.Model) == "" {
		return "", errors.New("xai: model is required")
	}

	b, err := p.buildRequest(messages, false)
	if err != nil {
		return "", err
	}
	req, err := p.newRequest(ctx, b)
	if err != nil {
		return "", err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("xai: %w", ErrUpstreamTimeout)
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("xai: %s", msg)
	}

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("xai: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *XAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("xai: http client is nil")
			return
		}
		if strings.TrimSpace(p.APIKey) == "" {
			errs <- errors.New("xai: api key is required")
			return
		}
		if strings.TrimSpace(p.Model) == "" {
			errs <- errors.New("xai: model is required")
			return
		}

		b, err := p.buildRequest(messages, true)
		if err != nil {
			errs <- err
			return
		}
		req, err := p.newRequest(ctx, b)
		if err != nil {
			errs <- err
			return
		}

		// ctx controls streaming deadlines; the client-level timeout would cut
		// the body read short.
		client := *p.Client
		client.Timeout = 0

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				errs <- fmt.Errorf("xai: %w", ErrUpstreamTimeout)
				return
			}
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			errs <- fmt.Errorf("xai: %s", msg)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openAIStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- errors.New(decoded.Error.Message)
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			if delta := decoded.Choices[0].Delta.Content; delta != "" {
				chunks <- delta
			}
		}

		if err := sc.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				errs <- fmt.Errorf("xai: %w", ErrUpstreamTimeout)
				return
			}
			errs <- err
			return
		}
	}()

	return chunks, errs
}
