// Package orchestrator classifies a finance query with one model call and
// dispatches it to exactly one agent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finance-orchestrator/internal/agents"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
)

const DefaultConfidenceThreshold = 0.6

var (
	ErrUnroutableIntent = errors.New("UNROUTABLE_INTENT")
	ErrLowConfidence    = errors.New("LOW_CONFIDENCE_CLASSIFICATION")
)

type Config struct {
	Model               string
	MaxTokens           int
	ConfidenceThreshold float64
}

type Orchestrator struct {
	gateway gateway.Gateway
	config  Config
	agents  agents.Registry
	logger  logger.Logger
	now     func() time.Time
}

func New(gw gateway.Gateway, cfg Config, registry agents.Registry, log logger.Logger) *Orchestrator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	return &Orchestrator{
		gateway: gw,
		config:  cfg,
		agents:  registry,
		logger:  log.With(map[string]interface{}{"component": "orchestrator"}),
		now:     time.Now,
	}
}

// RegisterSchemas adds the classification schema to v.
func RegisterSchemas(v *gateway.SchemaValidator) error {
	return v.Register(SchemaName, ClassificationSchema())
}

func (o *Orchestrator) Threshold() float64 {
	return o.config.ConfidenceThreshold
}

// Classify makes the single classification call for q. A confidence below the
// threshold forces the unknown intent and flags the result for clarification.
func (o *Orchestrator) Classify(ctx context.Context, q models.Query) (*models.ClassificationResult, error) {
	out, err := o.gateway.Complete(ctx, gateway.Request{
		Model:      o.config.Model,
		JSONOutput: true,
		MaxTokens:  o.config.MaxTokens,
		Schema:     SchemaName,
		Messages: []gateway.Message{
			{Role: gateway.RoleSystem, Content: classificationPrompt()},
			{Role: gateway.RoleUser, Content: userMessage(q)},
		},
	})
	if err != nil {
		return nil, err
	}

	raw, ok := out["intent"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: classification reply has no intent", gateway.ErrMalformedOutput)
	}

	confidence := 0.0
	switch c := out["confidence"].(type) {
	case float64:
		confidence = c
	case int:
		confidence = float64(c)
	}

	entities, _ := out["entities"].(map[string]interface{})
	if entities == nil {
		entities = map[string]interface{}{}
	}

	result := &models.ClassificationResult{
		Intent:     models.ParseIntent(raw),
		Confidence: models.ClampConfidence(confidence),
		Entities:   entities,
		RawIntent:  raw,
		Model:      o.config.Model,
	}
	if result.Confidence < o.config.ConfidenceThreshold {
		result.Intent = models.IntentUnknown
		result.NeedsClarification = true
	}

	o.logger.Info("query classified", map[string]interface{}{
		"correlationId":      q.CorrelationID,
		"intent":             result.Intent,
		"rawIntent":          raw,
		"confidence":         result.Confidence,
		"needsClarification": result.NeedsClarification,
	})
	return result, nil
}

// Route hands q to the agent registered for the classified intent.
func (o *Orchestrator) Route(ctx context.Context, q models.Query, c *models.ClassificationResult) (*models.AgentResponse, error) {
	if c == nil || !c.Intent.IsRoutable() {
		return nil, ErrUnroutableIntent
	}
	agent, ok := o.agents[c.Intent]
	if !ok {
		return nil, fmt.Errorf("%w: no agent registered for %s", ErrUnroutableIntent, c.Intent)
	}

	resp, err := agent.Process(ctx, q, c.Entities)
	if err != nil {
		return nil, err
	}
	resp.Classification = c
	if resp.Model == "" {
		resp.Model = c.Model
	}
	return resp, nil
}

// Handle classifies q and routes it, or answers with a clarification request
// when the classification is not confident enough.
func (o *Orchestrator) Handle(ctx context.Context, q models.Query) (*models.AgentResponse, error) {
	started := o.now()

	c, err := o.Classify(ctx, q)
	if err != nil {
		return nil, err
	}

	if c.NeedsClarification {
		resp := &models.AgentResponse{
			RequestID:      q.CorrelationID,
			Status:         models.StatusNeedsClarification,
			Classification: c,
			ErrorCode:      ErrLowConfidence.Error(),
			Message: fmt.Sprintf("Could not determine what you need (confidence %.2f). "+
				"Please say whether this is about an invoice, a payment plan or a commission.", c.Confidence),
			Model:     c.Model,
			StartedAt: started,
		}
		resp.Finish(o.now())
		return resp, nil
	}

	resp, err := o.Route(ctx, q, c)
	if err != nil {
		return nil, err
	}
	resp.StartedAt = started
	resp.Finish(o.now())
	return resp, nil
}
