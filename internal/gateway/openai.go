package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	commonhttp "finance-orchestrator/internal/common/http"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/common/metrics"
)

const maxErrorBody = 4096

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	cfg    Config
	client *commonhttp.Client
	logger logger.Logger
}

type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewOpenAIProvider(cfg Config, log logger.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: commonhttp.NewClient(cfg.Timeout),
		logger: log.With(map[string]interface{}{"component": "gateway", "provider": ProviderOpenAI}),
	}, nil
}

// WithHTTPClient swaps the transport, e.g. for httptest servers.
func (p *OpenAIProvider) WithHTTPClient(c *commonhttp.Client) *OpenAIProvider {
	p.client = c
	return p
}

func (p *OpenAIProvider) Provider() string { return ProviderOpenAI }

// errRetryable marks an attempt failure worth another try.
type errRetryable struct{ err error }

func (e errRetryable) Error() string { return e.err.Error() }
func (e errRetryable) Unwrap() error { return e.err }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (map[string]interface{}, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.AgentModel
	}

	payload := chatRequest{
		Model:               model,
		Messages:            req.Messages,
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.JSONOutput {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrGatewayUnavailable, err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, p.outcome(model, fmt.Errorf("%w: cancelled during backoff", ErrGatewayTimeout))
			}
		}

		content, err := p.attempt(ctx, url, headers, body)
		if err == nil {
			if !req.JSONOutput {
				_ = p.outcome(model, nil)
				return map[string]interface{}{"content": content}, nil
			}
			out, perr := ParseJSONContent(content)
			if perr != nil {
				return nil, p.outcome(model, perr)
			}
			_ = p.outcome(model, nil)
			return out, nil
		}

		if ctx.Err() != nil {
			return nil, p.outcome(model, fmt.Errorf("%w: %v", ErrGatewayTimeout, ctx.Err()))
		}

		var retry errRetryable
		if !errors.As(err, &retry) {
			return nil, p.outcome(model, err)
		}
		lastErr = retry.err

		p.logger.Warn("model call failed, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"model":   model,
			"error":   lastErr.Error(),
		})
	}

	if isTimeout(lastErr) {
		return nil, p.outcome(model, fmt.Errorf("%w: %v", ErrGatewayTimeout, lastErr))
	}
	return nil, p.outcome(model, fmt.Errorf("%w: %d attempts: %v", ErrGatewayUnavailable, p.cfg.MaxRetries+1, lastErr))
}

func (p *OpenAIProvider) attempt(ctx context.Context, url string, headers map[string]string, body []byte) (string, error) {
	resp, err := p.client.PostJSON(ctx, url, headers, body)
	if err != nil {
		return "", errRetryable{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", errRetryable{fmt.Errorf("status %d", resp.StatusCode)}
	default:
		var apiErr apiErrorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&apiErr)
		if isPolicyCode(apiErr.Error.Code) || isPolicyCode(apiErr.Error.Type) {
			return "", fmt.Errorf("%w: provider policy %s", ErrContentRejected, apiErr.Error.Code)
		}
		return "", fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: undecodable envelope", ErrMalformedOutput)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedOutput)
	}
	choice := decoded.Choices[0]
	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" {
		return "", fmt.Errorf("%w: finish_reason %s", ErrContentRejected, choice.FinishReason)
	}
	return choice.Message.Content, nil
}

// outcome counts the call by error kind and passes err through.
func (p *OpenAIProvider) outcome(model string, err error) error {
	metrics.GatewayCalls.WithLabelValues(ProviderOpenAI, model, outcomeLabel(err)).Inc()
	if err != nil {
		p.logger.Error("model call failed", map[string]interface{}{"model": model, "error": err.Error()})
	}
	return err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrGatewayTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedOutput):
		return "malformed"
	case errors.Is(err, ErrContentRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}

func isPolicyCode(code string) bool {
	switch code {
	case "content_filter", "content_policy_violation":
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
