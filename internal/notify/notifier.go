// Package notify tells approvers about invoices escalated to the finance
// director or the CFO.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"

	apperrors "finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/models"
	"finance-orchestrator/internal/security/pii"
)

const (
	TypeApprovalRequest = "approval_request"

	ChannelSNS   = "sns"
	ChannelEmail = "email"

	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
	StatusSkipped  = "skipped"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Config struct {
	Enabled   bool
	TopicARN  string
	FromEmail string
	ToEmails  []string
}

type ApprovalRequest struct {
	CorrelationID     string
	ApprovalLevel     models.ApprovalLevel
	Amount            float64
	VendorName        string
	ProjectName       string
	RequiredApprovers []string
}

type ApprovalNotifier struct {
	config Config
	ses    SESService
	sns    SNSService
	masker *pii.Masker
	logger logger.Logger
	now    func() time.Time
}

// NewApprovalNotifier accepts nil clients; the matching channel is then skipped.
func NewApprovalNotifier(cfg Config, sesClient SESService, snsClient SNSService, masker *pii.Masker, log logger.Logger) *ApprovalNotifier {
	if masker == nil {
		masker = pii.NewMasker()
	}
	return &ApprovalNotifier{
		config: cfg,
		ses:    sesClient,
		sns:    snsClient,
		masker: masker,
		logger: log.With(map[string]interface{}{"component": "notify"}),
		now:    time.Now,
	}
}

// NotifyApproval publishes the approval request on every configured channel.
// Levels below finance director are skipped. An error is returned only when
// every configured channel failed.
func (n *ApprovalNotifier) NotifyApproval(ctx context.Context, req ApprovalRequest) (*models.Notification, error) {
	vendor := n.masker.MaskString(req.VendorName)
	project := n.masker.MaskString(req.ProjectName)

	note := &models.Notification{
		ID:            uuid.New().String(),
		CorrelationID: req.CorrelationID,
		Type:          TypeApprovalRequest,
		Channels:      []string{},
		ApprovalLevel: req.ApprovalLevel,
		Payload: map[string]interface{}{
			"amount":             req.Amount,
			"vendor_name":        vendor,
			"project_name":       project,
			"required_approvers": req.RequiredApprovers,
		},
	}

	switch {
	case !req.ApprovalLevel.RequiresNotification():
		note.Status = StatusSkipped
		return note, nil
	case !n.config.Enabled:
		note.Status = StatusDisabled
		return note, nil
	}

	subject := fmt.Sprintf("Approval required (%s): AED %s", levelTitle(req.ApprovalLevel), formatAED(req.Amount))
	body := n.message(req, vendor, project)

	var (
		attempted int
		errs      []error
	)

	if n.sns != nil && n.config.TopicARN != "" {
		attempted++
		_, err := n.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(n.config.TopicARN),
			Subject:  aws.String(subject),
			Message:  aws.String(body),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"approval_level": {DataType: aws.String("String"), StringValue: aws.String(string(req.ApprovalLevel))},
				"correlation_id": {DataType: aws.String("String"), StringValue: aws.String(req.CorrelationID)},
			},
		})
		if err != nil {
			errs = append(errs, apperrors.NewNotificationSendFailedError(ChannelSNS, err))
		} else {
			note.Channels = append(note.Channels, ChannelSNS)
		}
	}

	if n.ses != nil && n.config.FromEmail != "" && len(n.config.ToEmails) > 0 {
		attempted++
		_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
			Destination: &sestypes.Destination{ToAddresses: n.config.ToEmails},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body)},
				},
			},
			Source: aws.String(n.config.FromEmail),
		})
		if err != nil {
			errs = append(errs, apperrors.NewNotificationSendFailedError(ChannelEmail, err))
		} else {
			note.Channels = append(note.Channels, ChannelEmail)
		}
	}

	if attempted == 0 {
		note.Status = StatusDisabled
		return note, nil
	}

	for _, err := range errs {
		n.logger.Error("approval notification failed", map[string]interface{}{
			"correlationId": req.CorrelationID,
			"error":         n.masker.MaskString(err.Error()),
		})
	}

	if len(note.Channels) == 0 {
		note.Status = StatusFailed
		return note, errors.Join(errs...)
	}

	note.Status = StatusSent
	note.SentAt = n.now().UTC().Format(time.RFC3339)
	n.logger.Info("approval notification sent", map[string]interface{}{
		"correlationId": req.CorrelationID,
		"approvalLevel": req.ApprovalLevel,
		"channels":      note.Channels,
	})
	return note, nil
}

func (n *ApprovalNotifier) message(req ApprovalRequest, vendor, project string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "An invoice requires %s approval.\n\n", levelTitle(req.ApprovalLevel))
	fmt.Fprintf(&b, "Amount: AED %s\n", formatAED(req.Amount))
	if vendor != "" {
		fmt.Fprintf(&b, "Vendor: %s\n", vendor)
	}
	if project != "" {
		fmt.Fprintf(&b, "Project: %s\n", project)
	}
	if len(req.RequiredApprovers) > 0 {
		fmt.Fprintf(&b, "Approvers: %s\n", strings.Join(req.RequiredApprovers, ", "))
	}
	fmt.Fprintf(&b, "Reference: %s\n", req.CorrelationID)
	return b.String()
}

func levelTitle(level models.ApprovalLevel) string {
	switch level {
	case models.ApprovalCFO:
		return "CFO"
	case models.ApprovalFinanceDirector:
		return "Finance Director"
	case models.ApprovalProjectManager:
		return "Project Manager"
	default:
		return "automatic"
	}
}

// formatAED renders 2450000 as "2,450,000.00".
func formatAED(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
