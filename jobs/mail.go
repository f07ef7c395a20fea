package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"gopkg.in/gomail.v2"

	jobmetrics "github.com/armslicense/armslicense/internal/jobs"
)

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer builds a mailer for the relay at host:port.
func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	return &SMTPMailer{dialer: gomail.NewDialer(host, port, user, password), from: from}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg SendEmailPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := gomail.NewMessage()
	out.SetHeader("From", m.from)
	out.SetHeader("To", msg.To)
	out.SetHeader("Subject", msg.Subject)
	out.SetBody("text/plain", msg.Body)
	return m.dialer.DialAndSend(out)
}

// MailJob delivers transactional email. Without a Mailer delivery is only
// logged.
type MailJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Mailer  Mailer
}

// NewMailJob constructs a MailJob.
func NewMailJob(logger *slog.Logger, metrics *jobmetrics.Metrics, mailer Mailer) *MailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailJob{Logger: logger, Metrics: metrics, Mailer: mailer}
}

// Handle processes TaskTypeSendEmail tasks.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	if payload.To == "" {
		return tracker.End(asynq.SkipRetry)
	}
	if j.Mailer == nil {
		j.Logger.Info("send email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return tracker.End(nil)
	}
	if err := j.Mailer.Send(ctx, payload); err != nil {
		j.Logger.Warn("send email failed", slog.String("to", payload.To), slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}
