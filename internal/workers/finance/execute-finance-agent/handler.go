package executefinanceagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/attribute"

	"finance-orchestrator/internal/agents"
	"finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/common/metrics"
	"finance-orchestrator/internal/common/observability"
	"finance-orchestrator/internal/common/validation"
	"finance-orchestrator/internal/models"
	"finance-orchestrator/internal/security/pii"
)

const TaskType = "execute-finance-agent"

type Handler struct {
	config       *Config
	agents       agents.Registry
	masker       *pii.Masker
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
	logger       logger.Logger
}

func NewHandler(config *Config, registry agents.Registry, masker *pii.Masker, obs *observability.Observability, log logger.Logger) *Handler {
	if masker == nil {
		masker = pii.NewMasker()
	}
	log = pii.NewMaskingLogger(log.With(map[string]interface{}{"taskType": TaskType}), masker)
	return &Handler{
		config:       config,
		agents:       registry,
		masker:       masker,
		errorHandler: errors.NewErrorHandler(log),
		obs:          obs,
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.failJob(ctx, client, job, err, start)
		return
	}

	ctx, span := h.obs.StartSpan(ctx, TaskType,
		attribute.String("correlation_id", input.CorrelationID),
		attribute.String("intent", string(input.Intent)),
	)
	defer span.End()

	output, err := h.execute(ctx, input)
	if err != nil {
		span.RecordError(err)
		h.failJob(ctx, client, job, err, start)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordJobProcessed(ctx, "completed")
	h.obs.RecordJobDuration(ctx, time.Since(start), "completed")
}

func parseInput(variables string) (*Input, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(variables), &raw); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	if res := validation.ValidateInput(raw, inputSchema()); !res.Valid {
		return nil, errors.NewInvalidInputError(strings.Join(res.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("decode input: %v", err))
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	agent, ok := h.agents[input.Intent]
	if !ok {
		return nil, errors.NewUnroutableIntentError(string(input.Intent))
	}

	q := models.NewQuery(input.Query, input.Context, input.CorrelationID).WithUser(input.UserID)
	resp, err := agent.Process(ctx, q, input.Entities)
	if err != nil {
		return nil, err
	}

	output := &Output{
		Status:           resp.Status,
		Agent:            resp.Agent,
		Calculation:      resp.Calculation,
		Extracted:        h.masker.RedactMap(resp.Extracted),
		ValidationIssues: resp.ValidationIssues,
		Message:          resp.Message,
		ProcessingTimeMs: resp.ProcessingTimeMs,
	}
	if output.ValidationIssues == nil {
		output.ValidationIssues = []string{}
	}

	if level, ok := resp.ApprovalLevel(); ok {
		inv := resp.Calculation.Invoice
		fields := agents.Fields(resp.Extracted)

		metrics.ApprovalsRouted.WithLabelValues(string(level)).Inc()
		output.ApprovalLevel = level
		output.RequiresApproval = level.RequiresNotification()
		output.Amount = inv.Subtotal
		output.RequiredApprovers = inv.RequiredApprovers
		output.VendorName = h.masker.MaskString(fields.String("vendor_name"))
		output.ProjectName = h.masker.MaskString(fields.String("project_name"))
	}

	h.logger.Info("agent finished", map[string]interface{}{
		"correlationId":    input.CorrelationID,
		"agent":            output.Agent,
		"status":           output.Status,
		"requiresApproval": output.RequiresApproval,
	})
	return output, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.FromError(err).Code)).Inc()
	h.obs.RecordJobProcessed(ctx, "failed")
	h.obs.RecordJobDuration(ctx, time.Since(start), "failed")
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
