// Package notify dispatches evaluation lifecycle notifications over SES
// email and SNS SMS. Dispatch is fire-and-forget from the orchestrator's
// perspective: failures are logged and counted, never propagated as
// transition errors.
package notify

import (
	"context"
	"fmt"
	"strings"

	commoncfg "compliance-workers/internal/common/config"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/common/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
)

// Notification templates emitted by the pipeline.
const (
	TemplateInvitation          = "frm32_invitation"
	TemplateNextStageReady      = "next_stage_ready"
	TemplateEvaluationCompleted = "evaluation_completed"
	TemplateReminder            = "frm32_reminder"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Recipient is the contact surface for one contractor.
type Recipient struct {
	ContractorID string
	Name         string
	Email        string
	Phone        string
}

type Dispatcher struct {
	config    commoncfg.NotificationConfig
	logger    logger.Logger
	sesClient SESService
	snsClient SNSService
	templates map[string]map[string]string
}

func NewDispatcher(cfg commoncfg.NotificationConfig, log logger.Logger) (*Dispatcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Dispatcher{
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
		sesClient: ses.NewFromConfig(awsCfg),
		snsClient: sns.NewFromConfig(awsCfg),
		templates: defaultTemplates(),
	}, nil
}

// NewDispatcherWithClients injects the SES/SNS services, used in tests.
func NewDispatcherWithClients(cfg commoncfg.NotificationConfig, sesClient SESService, snsClient SNSService, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
		sesClient: sesClient,
		snsClient: snsClient,
		templates: defaultTemplates(),
	}
}

// Notify renders the template and sends it over the enabled channels. The
// returned notification id identifies the attempt in logs; a send failure is
// reported in the error but callers treat it as advisory.
func (d *Dispatcher) Notify(ctx context.Context, recipient Recipient, template string, payload map[string]interface{}) (string, error) {
	tmpl, exists := d.templates[template]
	if !exists {
		return "", fmt.Errorf("unknown notification template: %s", template)
	}

	data := map[string]interface{}{
		"contractorId": recipient.ContractorID,
		"name":         recipient.Name,
	}
	for k, v := range payload {
		data[k] = v
	}

	subject := renderTemplate(tmpl["subject"], data)
	body := renderTemplate(tmpl["body"], data)
	notificationID := uuid.New().String()

	var sendErr error

	if d.config.Email.Enabled && recipient.Email != "" {
		if err := d.sendEmail(ctx, recipient.Email, subject, body); err != nil {
			metrics.NotificationsSent.WithLabelValues(template, "email", "failed").Inc()
			d.logger.Error("email send failed", map[string]interface{}{
				"notificationId": notificationID,
				"template":       template,
				"contractorId":   recipient.ContractorID,
				"error":          err.Error(),
			})
			sendErr = err
		} else {
			metrics.NotificationsSent.WithLabelValues(template, "email", "sent").Inc()
		}
	}

	if d.config.SMS.Enabled && recipient.Phone != "" {
		if err := d.sendSMS(ctx, recipient.Phone, body); err != nil {
			metrics.NotificationsSent.WithLabelValues(template, "sms", "failed").Inc()
			d.logger.Error("SMS send failed", map[string]interface{}{
				"notificationId": notificationID,
				"template":       template,
				"contractorId":   recipient.ContractorID,
				"error":          err.Error(),
			})
			if sendErr == nil {
				sendErr = err
			}
		} else {
			metrics.NotificationsSent.WithLabelValues(template, "sms", "sent").Inc()
		}
	}

	return notificationID, sendErr
}

func (d *Dispatcher) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := d.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(d.config.Email.FromEmail),
	})
	return err
}

func (d *Dispatcher) sendSMS(ctx context.Context, to, message string) error {
	_, err := d.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	})
	return err
}

// Simplified template rendering with placeholder removal for missing values
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := ""
		if s, ok := v.(string); ok {
			value = s
		} else if i, ok := v.(int); ok {
			value = fmt.Sprintf("%d", i)
		} else if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	// Remove any remaining placeholders (missing values)
	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}

func defaultTemplates() map[string]map[string]string {
	return map[string]map[string]string{
		TemplateInvitation: {
			"subject": "Safety compliance self-assessment requested",
			"body":    "Hello {{name}}, your FRM32 self-assessment for evaluation cycle {{cycle}} is ready. {{customMessage}}",
		},
		TemplateNextStageReady: {
			"subject": "Evaluation stage {{stage}} ready for review",
			"body":    "Hello {{name}}, stage {{stage}} of your compliance evaluation is ready.",
		},
		TemplateEvaluationCompleted: {
			"subject": "Compliance evaluation completed",
			"body":    "Hello {{name}}, your compliance evaluation is complete. Final score: {{finalScore}} ({{risk}}).",
		},
		TemplateReminder: {
			"subject": "Reminder: self-assessment still in draft",
			"body":    "Hello {{name}}, your FRM32 self-assessment has been in draft since {{createdAt}}. Please complete and submit it.",
		},
	}
}
