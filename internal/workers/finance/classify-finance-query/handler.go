package classifyfinancequery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/common/metrics"
	"finance-orchestrator/internal/common/observability"
	"finance-orchestrator/internal/common/validation"
	"finance-orchestrator/internal/models"
	"finance-orchestrator/internal/orchestrator"
)

const TaskType = "classify-finance-query"

// Classifier makes the single classification call for a query.
type Classifier interface {
	Classify(ctx context.Context, q models.Query) (*models.ClassificationResult, error)
}

type Handler struct {
	config       *Config
	classifier   Classifier
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
	logger       logger.Logger
}

func NewHandler(config *Config, classifier Classifier, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		classifier:   classifier,
		errorHandler: errors.NewErrorHandler(log),
		obs:          obs,
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	ctx, span := h.obs.StartSpan(ctx, TaskType)
	defer span.End()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.failJob(ctx, client, job, err, start)
		return
	}

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

// execute classifies the query. A low-confidence result completes the job
// with needsClarification set; a confident but unroutable intent fails it.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	q := models.NewQuery(input.Query, input.Context, input.CorrelationID).WithUser(input.UserID)

	result, err := h.classifier.Classify(ctx, q)
	if err != nil {
		return nil, err
	}

	if !result.NeedsClarification && !result.Intent.IsRoutable() {
		return nil, fmt.Errorf("%w: model answered %q", orchestrator.ErrUnroutableIntent, result.RawIntent)
	}

	entities := result.Entities
	if entities == nil {
		entities = map[string]interface{}{}
	}
	return &Output{
		Intent:             result.Intent,
		Confidence:         result.Confidence,
		Entities:           entities,
		NeedsClarification: result.NeedsClarification,
		RawIntent:          result.RawIntent,
		Model:              result.Model,
	}, nil
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
		return
	}

	h.logger.Info("Job completed successfully", map[string]interface{}{
		"jobKey":             job.Key,
		"intent":             output.Intent,
		"confidence":         output.Confidence,
		"needsClarification": output.NeedsClarification,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.FromError(err).Code)).Inc()
	h.obs.RecordJobProcessed(ctx, "failed")
	h.obs.RecordJobDuration(ctx, time.Since(start), "failed")
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
