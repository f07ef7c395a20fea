package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/armslicense/armslicense/internal/auth"
	jobmetrics "github.com/armslicense/armslicense/internal/jobs"
	"github.com/armslicense/armslicense/internal/routing"
)

// RecipientResolver lists the officers holding a role.
type RecipientResolver interface {
	UsersWithRole(ctx context.Context, role string) ([]auth.User, error)
}

// MailEnqueuer queues outgoing email.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// EventBroadcaster relays an event to connected web clients.
type EventBroadcaster interface {
	Broadcast(ctx context.Context, evt routing.Event) error
}

// RoutingNotifyJob tells the receiving officers that a case arrived.
type RoutingNotifyJob struct {
	Recipients  RecipientResolver
	Mail        MailEnqueuer
	Broadcaster EventBroadcaster
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewRoutingNotifyJob wires dependencies for the notify handler.
func NewRoutingNotifyJob(recipients RecipientResolver, mail MailEnqueuer, broadcaster EventBroadcaster, logger *slog.Logger, metrics *jobmetrics.Metrics) *RoutingNotifyJob {
	return &RoutingNotifyJob{
		Recipients:  recipients,
		Mail:        mail,
		Broadcaster: broadcaster,
		Logger:      logger,
		Metrics:     metrics,
	}
}

// Handle processes TaskRoutingNotify tasks.
func (j *RoutingNotifyJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Recipients == nil {
		return errors.New("routing notify: handler not configured")
	}
	var evt routing.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil || evt.ApplicationID == 0 {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskRoutingNotify)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int64("application_id", evt.ApplicationID),
		slog.String("action", evt.Action),
		slog.String("to_role", evt.ToRole),
	)

	users, err := j.Recipients.UsersWithRole(ctx, evt.ToRole)
	if err != nil {
		logger.Error("resolve recipients", slog.Any("error", err))
		return fmt.Errorf("routing notify: recipients: %w", err)
	}
	sent := 0
	for _, u := range recipientsOf(users, evt) {
		if j.Mail == nil {
			break
		}
		if _, err := j.Mail.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      u.Email,
			Subject: fmt.Sprintf("Application #%d: %s", evt.ApplicationID, evt.Action),
			Body: fmt.Sprintf("Application #%d moved from %s to %s and is now %s.",
				evt.ApplicationID, evt.FromRole, evt.ToRole, evt.ToState),
		}); err != nil {
			logger.Error("enqueue email", slog.String("to", u.Email), slog.Any("error", err))
			return fmt.Errorf("routing notify: enqueue email: %w", err)
		}
		sent++
	}
	j.Metrics.AddNotifications("mail", evt.ToRole, sent)

	if j.Broadcaster != nil {
		if err := j.Broadcaster.Broadcast(ctx, evt); err != nil {
			logger.Warn("broadcast routing event", slog.Any("error", err))
			return fmt.Errorf("routing notify: broadcast: %w", err)
		}
		j.Metrics.AddNotifications("pubsub", evt.ToRole, 1)
	}
	logger.Info("routing notification sent", slog.Int("emails", sent))
	return nil
}

func (j *RoutingNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// recipientsOf narrows users to the officer a case was returned to, and never
// notifies the actor about their own action.
func recipientsOf(users []auth.User, evt routing.Event) []auth.User {
	out := make([]auth.User, 0, len(users))
	for _, u := range users {
		if u.Email == "" || u.ID == evt.ActorUserID {
			continue
		}
		if evt.ToUserID != nil && u.ID != *evt.ToUserID {
			continue
		}
		out = append(out, u)
	}
	return out
}
