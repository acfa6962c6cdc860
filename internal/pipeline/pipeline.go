// Package pipeline runs one finance query through screening, classification,
// the selected agent, audit and approval notification.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"finance-orchestrator/internal/agents"
	"finance-orchestrator/internal/audit"
	apperrors "finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/common/metrics"
	"finance-orchestrator/internal/common/observability"
	"finance-orchestrator/internal/models"
	"finance-orchestrator/internal/notify"
	"finance-orchestrator/internal/orchestrator"
	"finance-orchestrator/internal/security/injection"
	"finance-orchestrator/internal/security/pii"
)

// Notifier sends approval requests for escalated invoices.
type Notifier interface {
	NotifyApproval(ctx context.Context, req notify.ApprovalRequest) (*models.Notification, error)
}

type Pipeline struct {
	scanner      *injection.Scanner
	orchestrator *orchestrator.Orchestrator
	agents       agents.Registry
	recorder     *audit.Recorder
	notifier     Notifier
	obs          *observability.Observability
	masker       *pii.Masker
	logger       logger.Logger
	now          func() time.Time
}

type Option func(*Pipeline)

func WithRecorder(r *audit.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithObservability(o *observability.Observability) Option {
	return func(p *Pipeline) { p.obs = o }
}

func WithMasker(m *pii.Masker) Option {
	return func(p *Pipeline) { p.masker = m }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func New(scanner *injection.Scanner, orch *orchestrator.Orchestrator, registry agents.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		scanner:      scanner,
		orchestrator: orch,
		agents:       registry,
		logger:       logger.NewNoOpLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.masker == nil {
		p.masker = pii.NewMasker()
	}
	if p.obs == nil {
		p.obs = observability.NewNoop()
	}
	p.logger = pii.NewMaskingLogger(p.logger.With(map[string]interface{}{"component": "pipeline"}), p.masker)
	return p
}

// Process screens q, classifies it and runs the selected agent.
func (p *Pipeline) Process(ctx context.Context, q models.Query) (*models.AgentResponse, error) {
	ctx, span := p.obs.StartSpan(ctx, "pipeline.process", attribute.String("correlation_id", q.CorrelationID))
	defer span.End()
	started := p.now()

	p.recordReceived(ctx, q, "")

	if err := p.screen(ctx, q); err != nil {
		span.SetStatus(codes.Error, string(err.Code))
		return nil, err
	}

	var resp *models.AgentResponse
	err := p.stage(ctx, "orchestrate", func(ctx context.Context) error {
		var err error
		resp, err = p.orchestrator.Handle(ctx, q)
		return err
	})
	if err != nil {
		stdErr := p.fail(ctx, q, "", err, started)
		span.SetStatus(codes.Error, string(stdErr.Code))
		return nil, stdErr
	}

	if resp.Classification != nil {
		p.record(ctx, audit.Event{
			CorrelationID: q.CorrelationID,
			Type:          audit.EventQueryClassified,
			UserID:        q.UserID,
			Intent:        string(resp.Classification.Intent),
			Details: map[string]interface{}{
				"raw_intent":          resp.Classification.RawIntent,
				"confidence":          resp.Classification.Confidence,
				"needs_clarification": resp.Classification.NeedsClarification,
			},
		})
	}

	return p.complete(ctx, q, resp, started), nil
}

// ProcessDirect serves the structured endpoints: the intent is given, so
// classification is skipped, but screening is not.
func (p *Pipeline) ProcessDirect(ctx context.Context, intent models.Intent, q models.Query, entities map[string]interface{}) (*models.AgentResponse, error) {
	ctx, span := p.obs.StartSpan(ctx, "pipeline.process_direct",
		attribute.String("correlation_id", q.CorrelationID),
		attribute.String("intent", string(intent)),
	)
	defer span.End()
	started := p.now()

	p.recordReceived(ctx, q, intent)

	if err := p.screen(ctx, q); err != nil {
		span.SetStatus(codes.Error, string(err.Code))
		return nil, err
	}

	agent, ok := p.agents[intent]
	if !ok {
		stdErr := p.fail(ctx, q, intent, apperrors.NewUnroutableIntentError(string(intent)), started)
		span.SetStatus(codes.Error, string(stdErr.Code))
		return nil, stdErr
	}

	var resp *models.AgentResponse
	err := p.stage(ctx, "agent", func(ctx context.Context) error {
		var err error
		resp, err = agent.Process(ctx, q, entities)
		return err
	})
	if err != nil {
		stdErr := p.fail(ctx, q, intent, err, started)
		span.SetStatus(codes.Error, string(stdErr.Code))
		return nil, stdErr
	}

	resp.Classification = &models.ClassificationResult{
		Intent:     intent,
		Confidence: 1,
		Entities:   entities,
		RawIntent:  string(intent),
	}
	resp.StartedAt = started
	resp.Finish(p.now())

	return p.complete(ctx, q, resp, started), nil
}

func (p *Pipeline) screen(ctx context.Context, q models.Query) *apperrors.StandardError {
	var scan models.ScanResult
	_ = p.stage(ctx, "scan", func(context.Context) error {
		scan = p.scanner.Scan(q.Text)
		return nil
	})
	if scan.IsSafe {
		return nil
	}

	metrics.InjectionBlocks.WithLabelValues(scan.Category, string(scan.Severity)).Inc()
	metrics.QueriesTotal.WithLabelValues(string(models.IntentUnknown), string(models.StatusRejected)).Inc()

	p.record(ctx, audit.Event{
		CorrelationID: q.CorrelationID,
		Type:          audit.EventQueryBlocked,
		Severity:      audit.SeverityCritical,
		UserID:        q.UserID,
		Status:        string(models.StatusRejected),
		Summary:       injection.Sanitize(q.Text),
		Details: map[string]interface{}{
			"category":   scan.Category,
			"severity":   scan.Severity,
			"risk_score": scan.RiskScore,
		},
	})
	p.logger.Warn("query blocked by injection screening", map[string]interface{}{
		"correlationId": q.CorrelationID,
		"category":      scan.Category,
		"severity":      scan.Severity,
	})
	return apperrors.NewUnsafeInputError(scan.Category, string(scan.Severity))
}

// complete audits a finished response, requests approval when the invoice
// is escalated, and counts the query.
func (p *Pipeline) complete(ctx context.Context, q models.Query, resp *models.AgentResponse, started time.Time) *models.AgentResponse {
	intent := string(models.IntentUnknown)
	if resp.Classification != nil {
		intent = string(resp.Classification.Intent)
	}

	if level, ok := resp.ApprovalLevel(); ok {
		metrics.ApprovalsRouted.WithLabelValues(string(level)).Inc()
		if level.RequiresNotification() {
			p.requestApproval(ctx, q, resp, level)
		}
	}

	details := map[string]interface{}{
		"agent":              resp.Agent,
		"validation_issues":  resp.ValidationIssues,
		"processing_time_ms": resp.ProcessingTimeMs,
	}
	if level, ok := resp.ApprovalLevel(); ok {
		details["approval_level"] = level
	}
	p.record(ctx, audit.Event{
		CorrelationID: q.CorrelationID,
		Type:          audit.EventQueryCompleted,
		UserID:        q.UserID,
		Intent:        intent,
		Status:        string(resp.Status),
		Summary:       q.Text,
		Details:       details,
	})

	elapsed := p.now().Sub(started)
	metrics.QueriesTotal.WithLabelValues(intent, string(resp.Status)).Inc()
	p.obs.RecordQuery(ctx, intent, string(resp.Status), elapsed)

	p.logger.Info("query processed", map[string]interface{}{
		"correlationId": q.CorrelationID,
		"intent":        intent,
		"status":        resp.Status,
		"durationMs":    elapsed.Milliseconds(),
	})
	return resp
}

func (p *Pipeline) requestApproval(ctx context.Context, q models.Query, resp *models.AgentResponse, level models.ApprovalLevel) {
	if p.notifier == nil {
		return
	}

	inv := resp.Calculation.Invoice
	req := notify.ApprovalRequest{
		CorrelationID:     q.CorrelationID,
		ApprovalLevel:     level,
		Amount:            inv.Subtotal,
		RequiredApprovers: inv.RequiredApprovers,
	}
	if resp.Extracted != nil {
		fields := agents.Fields(resp.Extracted)
		req.VendorName = fields.String("vendor_name")
		req.ProjectName = fields.String("project_name")
	}

	var note *models.Notification
	_ = p.stage(ctx, "notify", func(ctx context.Context) error {
		var err error
		note, err = p.notifier.NotifyApproval(ctx, req)
		if err != nil {
			p.logger.Error("approval notification failed", map[string]interface{}{
				"correlationId": q.CorrelationID,
				"error":         err.Error(),
			})
		}
		return nil
	})
	resp.Notification = note

	status := ""
	if note != nil {
		status = note.Status
	}
	p.record(ctx, audit.Event{
		CorrelationID: q.CorrelationID,
		Type:          audit.EventApprovalRequested,
		Severity:      audit.SeverityWarning,
		UserID:        q.UserID,
		Intent:        string(models.IntentInvoice),
		Status:        status,
		Details: map[string]interface{}{
			"approval_level":     level,
			"amount":             inv.Subtotal,
			"required_approvers": inv.RequiredApprovers,
			"vendor_name":        req.VendorName,
		},
	})
}

// fail converts err to a masked StandardError and records the failure.
func (p *Pipeline) fail(ctx context.Context, q models.Query, intent models.Intent, err error, started time.Time) *apperrors.StandardError {
	masked := *apperrors.FromError(err)
	masked.Message = p.masker.MaskString(masked.Message)
	masked.Details = p.masker.MaskString(masked.Details)

	label := string(intent)
	if label == "" {
		label = string(models.IntentUnknown)
	}

	p.record(ctx, audit.Event{
		CorrelationID: q.CorrelationID,
		Type:          audit.EventQueryFailed,
		Severity:      audit.SeverityWarning,
		UserID:        q.UserID,
		Intent:        label,
		Status:        string(models.StatusError),
		Summary:       q.Text,
		Details: map[string]interface{}{
			"error_code": masked.Code,
			"details":    masked.Details,
		},
	})

	metrics.QueriesTotal.WithLabelValues(label, string(models.StatusError)).Inc()
	p.obs.RecordQuery(ctx, label, string(models.StatusError), p.now().Sub(started))

	p.logger.Error("query failed", map[string]interface{}{
		"correlationId": q.CorrelationID,
		"errorCode":     masked.Code,
		"details":       masked.Details,
	})
	return &masked
}

func (p *Pipeline) recordReceived(ctx context.Context, q models.Query, intent models.Intent) {
	details := map[string]interface{}{"length": len(q.Text)}
	if len(q.Context) > 0 {
		ctxMap := make(map[string]interface{}, len(q.Context))
		for k, v := range q.Context {
			ctxMap[k] = v
		}
		details["context"] = ctxMap
	}
	p.record(ctx, audit.Event{
		CorrelationID: q.CorrelationID,
		Type:          audit.EventQueryReceived,
		UserID:        q.UserID,
		Intent:        string(intent),
		Summary:       injection.Sanitize(q.Text),
		Details:       details,
	})
}

func (p *Pipeline) record(ctx context.Context, ev audit.Event) {
	if p.recorder != nil {
		p.recorder.Record(ctx, ev)
	}
}

// stage times fn under a child span.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.obs.StartSpan(ctx, "pipeline."+name)
	defer span.End()

	start := p.now()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(name).Observe(p.now().Sub(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, p.masker.MaskString(err.Error()))
	}
	return err
}
