// Package queue defines message payloads exchanged over the message broker
// and the background consumer that dispatches them.
package queue

// EmailQueueName is the durable queue carrying outbound email jobs.
const EmailQueueName = "email.send"

// EmailKind selects the template a consumer renders.
type EmailKind string

const (
	EmailVerification    EmailKind = "verification"
	EmailPasswordReset   EmailKind = "password_reset"
	EmailPasswordChanged EmailKind = "password_changed"
	EmailWorkspaceInvite EmailKind = "workspace_invite"
)

// EmailEvent is published whenever the core needs to notify a user. It
// carries everything a downstream dispatcher needs without querying the
// primary database. Token is a one-time credential and must never appear in
// application logs.
type EmailEvent struct {
	Kind          EmailKind `json:"kind"`
	To            string    `json:"to"`
	Name          string    `json:"name"`
	Token         string    `json:"token,omitempty"`
	WorkspaceName string    `json:"workspace_name,omitempty"`
	InviterName   string    `json:"inviter_name,omitempty"`
	Role          string    `json:"role,omitempty"`
	QueuedAt      string    `json:"queued_at"`
}
