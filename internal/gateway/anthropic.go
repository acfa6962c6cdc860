package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/common/metrics"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicProvider calls the Messages API through the official SDK. The SDK
// owns retries and backoff.
type AnthropicProvider struct {
	cfg    Config
	client anthropic.Client
	logger logger.Logger
}

func NewAnthropicProvider(cfg Config, log logger.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
		logger: log.With(map[string]interface{}{"component": "gateway", "provider": ProviderAnthropic}),
	}, nil
}

func (p *AnthropicProvider) Provider() string { return ProviderAnthropic }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (map[string]interface{}, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.AgentModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if system := req.System(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.outcome(model, p.mapError(ctx, err))
	}

	if string(message.StopReason) == "refusal" {
		return nil, p.outcome(model, fmt.Errorf("%w: stop_reason refusal", ErrContentRejected))
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if !req.JSONOutput {
		_ = p.outcome(model, nil)
		return map[string]interface{}{"content": text}, nil
	}
	out, err := ParseJSONContent(text)
	if err != nil {
		return nil, p.outcome(model, err)
	}
	_ = p.outcome(model, nil)
	return out, nil
}

func (p *AnthropicProvider) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests && isPolicyRejection(apiErr.RawJSON()) {
			return fmt.Errorf("%w: status %d", ErrContentRejected, apiErr.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, apiErr.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// isPolicyRejection reports whether an error body is a permission or usage
// policy refusal rather than a malformed request.
func isPolicyRejection(raw string) bool {
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return false
	}
	if body.Error.Type == "permission_error" {
		return true
	}
	return strings.Contains(strings.ToLower(body.Error.Message), "policy")
}

func (p *AnthropicProvider) outcome(model string, err error) error {
	metrics.GatewayCalls.WithLabelValues(ProviderAnthropic, model, outcomeLabel(err)).Inc()
	if err != nil {
		p.logger.Error("model call failed", map[string]interface{}{"model": model, "error": err.Error()})
	}
	return err
}

// toAnthropicMessages drops system messages (sent separately) and keeps the
// user/assistant turns in order.
func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}
