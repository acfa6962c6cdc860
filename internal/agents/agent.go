// Package agents turns a classified finance query into a calculated result.
// The three domain agents share one pipeline and differ only by their Domain.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
)

type Agent interface {
	Name() string
	Intent() models.Intent
	Process(ctx context.Context, q models.Query, entities map[string]interface{}) (*models.AgentResponse, error)
}

// Registry is the closed mapping from intent to the agent handling it.
type Registry map[models.Intent]Agent

// NewRegistry indexes agents by intent. Non-routable intents are refused.
func NewRegistry(list ...Agent) (Registry, error) {
	reg := make(Registry, len(list))
	for _, a := range list {
		if !a.Intent().IsRoutable() {
			return nil, fmt.Errorf("agent %s declares non-routable intent %q", a.Name(), a.Intent())
		}
		if _, dup := reg[a.Intent()]; dup {
			return nil, fmt.Errorf("duplicate agent for intent %q", a.Intent())
		}
		reg[a.Intent()] = a
	}
	return reg, nil
}

// Config carries the per-agent model settings.
type Config struct {
	Model     string
	MaxTokens int
}

// Domain is everything that distinguishes one agent from another.
type Domain struct {
	Intent       models.Intent
	Name         string
	SystemPrompt string
	MaxTokens    int
	Required     []string
	Schema       map[string]interface{}
	Calculate    func(fields Fields) (*models.CalculationResult, []string, error)
}

// SchemaName is the name the domain's extraction schema is registered under.
func (d Domain) SchemaName() string {
	return "extract_" + d.Name
}

type domainAgent struct {
	domain  Domain
	gateway gateway.Gateway
	model   string
	logger  logger.Logger
	now     func() time.Time
}

func newDomainAgent(gw gateway.Gateway, cfg Config, d Domain, log logger.Logger) *domainAgent {
	if cfg.MaxTokens > 0 {
		d.MaxTokens = cfg.MaxTokens
	}
	return &domainAgent{
		domain:  d,
		gateway: gw,
		model:   cfg.Model,
		logger:  log.With(map[string]interface{}{"agent": d.Name}),
		now:     time.Now,
	}
}

func (a *domainAgent) Name() string          { return a.domain.Name }
func (a *domainAgent) Intent() models.Intent { return a.domain.Intent }

// Process reuses the orchestrator's entities when they already hold every
// required field and otherwise makes one extraction call. Missing or invalid
// fields produce a partial response; only gateway failures are errors.
func (a *domainAgent) Process(ctx context.Context, q models.Query, entities map[string]interface{}) (*models.AgentResponse, error) {
	resp := &models.AgentResponse{
		RequestID: q.CorrelationID,
		Status:    models.StatusSuccess,
		Agent:     a.domain.Name,
		StartedAt: a.now(),
	}

	fields := Fields{}
	fields.merge(entities)

	if missing := a.missing(fields); len(missing) > 0 {
		a.logger.Debug("extracting entities", map[string]interface{}{
			"correlationId": q.CorrelationID,
			"missing":       missing,
		})
		extracted, err := a.extract(ctx, q, fields)
		if err != nil {
			return nil, err
		}
		fields.merge(extracted)
		resp.Model = a.model
	}

	resp.Extracted = map[string]interface{}(fields)

	if missing := a.missing(fields); len(missing) > 0 {
		for _, m := range missing {
			resp.ValidationIssues = append(resp.ValidationIssues, "missing required field: "+m)
		}
		resp.Status = models.StatusPartial
		resp.Message = fmt.Sprintf("%s details incomplete", a.domain.Name)
		resp.Finish(a.now())
		return resp, nil
	}

	calc, issues, err := a.domain.Calculate(fields)
	if err != nil {
		issues = append(issues, err.Error())
	}
	resp.Calculation = calc
	resp.ValidationIssues = issues
	if len(issues) > 0 || calc == nil {
		resp.Status = models.StatusPartial
	}

	resp.Finish(a.now())

	a.logger.Info("agent completed", map[string]interface{}{
		"correlationId": q.CorrelationID,
		"status":        resp.Status,
		"issues":        len(resp.ValidationIssues),
	})
	return resp, nil
}

func (a *domainAgent) missing(fields Fields) []string {
	var out []string
	for _, name := range a.domain.Required {
		if !fields.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

func (a *domainAgent) extract(ctx context.Context, q models.Query, known Fields) (map[string]interface{}, error) {
	req := gateway.Request{
		Model:      a.model,
		JSONOutput: true,
		MaxTokens:  a.domain.MaxTokens,
		Messages: []gateway.Message{
			{Role: gateway.RoleSystem, Content: a.domain.SystemPrompt},
			{Role: gateway.RoleUser, Content: userPrompt(q, known)},
		},
	}
	if a.domain.Schema != nil {
		req.Schema = a.domain.SchemaName()
	}

	out, err := a.gateway.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	// some models nest the fields under "entities"
	if nested, ok := out["entities"].(map[string]interface{}); ok {
		return nested, nil
	}
	return out, nil
}

func userPrompt(q models.Query, known Fields) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(q.Text)
	if len(q.Context) > 0 {
		keys := make([]string, 0, len(q.Context))
		for k := range q.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nContext:")
		for _, k := range keys {
			b.WriteString("\n- " + k + ": " + q.Context[k])
		}
	}
	if len(known) > 0 {
		if raw, err := json.Marshal(known); err == nil {
			b.WriteString("\nEntities: ")
			b.Write(raw)
		}
	}
	return b.String()
}

// RegisterSchemas adds every domain's extraction schema to v.
func RegisterSchemas(v *gateway.SchemaValidator, domains ...Domain) error {
	for _, d := range domains {
		if d.Schema == nil {
			continue
		}
		if err := v.Register(d.SchemaName(), d.Schema); err != nil {
			return err
		}
	}
	return nil
}
