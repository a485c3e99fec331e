package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rateguard/rateguard/internal/queue"
)

// Notifier dispatches user-facing notifications. All methods are
// fire-and-forget: delivery failures are logged and never propagate into
// the calling flow, so a broker outage cannot fail a registration or a
// password reset.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, name, token string)
	SendPasswordResetEmail(ctx context.Context, to, name, token string)
	SendPasswordChangedEmail(ctx context.Context, to, name string)
	SendWorkspaceInvite(ctx context.Context, to, workspaceName, inviterName, role, token string)
}

// AMQPNotifier publishes email jobs to the durable email.send queue.
// Messages are persistent so they survive broker restarts.
type AMQPNotifier struct {
	url    string
	logger *slog.Logger
}

func NewAMQPNotifier(url string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{url: url, logger: logger}
}

func (n *AMQPNotifier) SendVerificationEmail(ctx context.Context, to, name, token string) {
	n.publish(ctx, queue.EmailEvent{Kind: queue.EmailVerification, To: to, Name: name, Token: token})
}

func (n *AMQPNotifier) SendPasswordResetEmail(ctx context.Context, to, name, token string) {
	n.publish(ctx, queue.EmailEvent{Kind: queue.EmailPasswordReset, To: to, Name: name, Token: token})
}

func (n *AMQPNotifier) SendPasswordChangedEmail(ctx context.Context, to, name string) {
	n.publish(ctx, queue.EmailEvent{Kind: queue.EmailPasswordChanged, To: to, Name: name})
}

func (n *AMQPNotifier) SendWorkspaceInvite(ctx context.Context, to, workspaceName, inviterName, role, token string) {
	n.publish(ctx, queue.EmailEvent{
		Kind: queue.EmailWorkspaceInvite, To: to,
		WorkspaceName: workspaceName, InviterName: inviterName, Role: role, Token: token,
	})
}

func (n *AMQPNotifier) publish(ctx context.Context, ev queue.EmailEvent) {
	ev.QueuedAt = time.Now().UTC().Format(time.RFC3339)

	conn, err := amqp.Dial(n.url)
	if err != nil {
		n.logger.Warn("notifier: dial failed", "error", err, "kind", ev.Kind)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		n.logger.Warn("notifier: channel open failed", "error", err, "kind", ev.Kind)
		return
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare; durable so jobs survive broker restarts.
	if _, err := ch.QueueDeclare(queue.EmailQueueName, true, false, false, false, nil); err != nil {
		n.logger.Warn("notifier: queue declare failed", "error", err, "kind", ev.Kind)
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("notifier: marshal failed", "error", err, "kind", ev.Kind)
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue.EmailQueueName, false, false, pub); err != nil {
		n.logger.Warn("notifier: publish failed", "error", err, "kind", ev.Kind)
		return
	}
	n.logger.Info("notifier: email queued", "kind", ev.Kind, "to", ev.To)
}
