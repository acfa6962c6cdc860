// Package gateway is the single point through which the pipeline talks to a
// language model provider. Every reply is decoded to a JSON object; raw model
// text never leaves this package in an error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finance-orchestrator/internal/common/config"
	"finance-orchestrator/internal/common/logger"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStub      = "stub"
)

var (
	ErrGatewayTimeout     = errors.New("GATEWAY_TIMEOUT")
	ErrGatewayUnavailable = errors.New("GATEWAY_UNAVAILABLE")
	ErrMalformedOutput    = errors.New("MALFORMED_MODEL_OUTPUT")
	ErrContentRejected    = errors.New("CLASSIFICATION_REJECTED")
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. Schema names a registered JSON schema the
// decoded reply must satisfy; empty skips validation.
type Request struct {
	Messages   []Message
	Model      string
	JSONOutput bool
	MaxTokens  int
	Schema     string
}

// System returns the concatenated system messages.
func (r Request) System() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Gateway completes a request and returns the decoded JSON object.
type Gateway interface {
	Complete(ctx context.Context, req Request) (map[string]interface{}, error)
	Provider() string
}

// Config is passed explicitly to every provider; nothing is read from the
// environment here.
type Config struct {
	Provider            string
	BaseURL             string
	APIKey              string
	ClassificationModel string
	AgentModel          string
	Timeout             time.Duration
	MaxRetries          int
}

// ConfigFrom maps the application LLM section to a gateway config.
func ConfigFrom(c config.LLMConfig) Config {
	return Config{
		Provider:            c.Provider,
		BaseURL:             c.BaseURL,
		APIKey:              c.APIKey,
		ClassificationModel: c.ClassificationModel,
		AgentModel:          c.AgentModel,
		Timeout:             config.GetDuration(c.Timeout),
		MaxRetries:          c.MaxRetries,
	}
}

// New builds the configured provider wrapped with schema validation.
func New(cfg Config, validator *SchemaValidator, log logger.Logger) (Gateway, error) {
	var (
		gw  Gateway
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		gw, err = NewOpenAIProvider(cfg, log)
	case ProviderAnthropic:
		gw, err = NewAnthropicProvider(cfg, log)
	case ProviderStub:
		gw = NewStub()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if validator != nil {
		gw = WithSchema(gw, validator)
	}
	return gw, nil
}
