package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	maxRequestSize  = 1 << 20
	maxMessageSize  = 256 << 10
	maxResponseSize = 4 << 20
)

// ChatCompletion sends one non-streaming completion request.
func (c *client) ChatCompletion(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf("llmclient: message[%d] too large (%d bytes, max %d)",
				i, len(m.Content), maxMessageSize)
		}
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	body, err := sonic.ConfigStd.Marshal(toProviderRequest(req))
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	if len(body) > maxRequestSize {
		return nil, fmt.Errorf("llmclient: request too large (%d bytes, max %d)", len(body), maxRequestSize)
	}

	url := c.cfg.BaseURL + "/v1/chat/completions"
	send := func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("llmclient: build request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	resp, err := c.doWithRetry(ctx, send)
	if err != nil {
		c.logger.Warn("llm_request_failed",
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.upstreamError(resp)
	}

	var pResp providerChatResponse
	if err := sonic.ConfigStd.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("llmclient: decode upstream response: %w", err)
	}
	if len(pResp.Choices) == 0 {
		return nil, fmt.Errorf("llmclient: provider returned no choices")
	}

	out := &ChatResponse{
		ID:      pResp.ID,
		Created: time.Unix(pResp.Created, 0),
		Model:   pResp.Model,
		Choices: make([]ChatChoice, 0, len(pResp.Choices)),
		Usage:   &Usage{},
	}
	for _, ch := range pResp.Choices {
		out.Choices = append(out.Choices, ChatChoice(ch))
	}
	if pResp.Usage != nil {
		*out.Usage = Usage(*pResp.Usage)
	}

	c.logger.Debug("llm_request_completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.String("finish_reason", out.Choices[0].FinishReason),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// upstreamError maps a non-2xx response to an error, preferring the
// provider's structured message over the raw body.
func (c *client) upstreamError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var perr providerErrorResponse
	if err := sonic.ConfigStd.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
		c.logger.Warn("llm_provider_error",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", perr.Error.Type),
			zap.String("error_message", perr.Error.Message),
		)
		return &StatusError{Status: resp.StatusCode, Message: perr.Error.Message, Type: perr.Error.Type}
	}

	msg := truncate(string(raw), 200)
	c.logger.Warn("llm_upstream_error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", msg),
	)
	return &StatusError{Status: resp.StatusCode, Message: msg}
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Status  int
	Message string
	Type    string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llmclient: upstream %d: %s (%s)", e.Status, e.Message, e.Type)
	}
	return fmt.Sprintf("llmclient: upstream %d: %s", e.Status, e.Message)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
