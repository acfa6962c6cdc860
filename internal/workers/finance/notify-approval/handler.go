package notifyapproval

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
	"finance-orchestrator/internal/notify"
)

const TaskType = "notify-approval"

type Notifier interface {
	NotifyApproval(ctx context.Context, req notify.ApprovalRequest) (*models.Notification, error)
}

type Handler struct {
	config       *Config
	notifier     Notifier
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
	logger       logger.Logger
}

func NewHandler(config *Config, notifier Notifier, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		notifier:     notifier,
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

	input, err := parseInput(job.Variables)
	if err != nil {
		h.failJob(ctx, client, job, err, start)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
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

// execute sends the approval request. Unlike the synchronous pipeline, a
// notification that failed on every channel fails the job so Zeebe retries it.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	note, err := h.notifier.NotifyApproval(ctx, notify.ApprovalRequest{
		CorrelationID:     input.CorrelationID,
		ApprovalLevel:     input.ApprovalLevel,
		Amount:            input.Amount,
		VendorName:        input.VendorName,
		ProjectName:       input.ProjectName,
		RequiredApprovers: input.RequiredApprovers,
	})
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, errors.NewNotificationSendFailedError("approval", fmt.Errorf("notifier returned no result"))
	}

	channels := note.Channels
	if channels == nil {
		channels = []string{}
	}
	return &Output{
		NotificationID:     note.ID,
		NotificationStatus: note.Status,
		Channels:           channels,
		SentAt:             note.SentAt,
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
		"notificationStatus": output.NotificationStatus,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.FromError(err).Code)).Inc()
	h.obs.RecordJobProcessed(ctx, "failed")
	h.obs.RecordJobDuration(ctx, time.Since(start), "failed")
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
