package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StartEmailConsumer connects to RabbitMQ, declares the email.send queue
// (durable), and consumes messages forever. Each email job is rendered to a
// single line appended to logs/email.log, standing in for a real mail
// provider. The function runs a reconnect loop with exponential backoff and
// never returns; processing errors are logged and the offending message is
// rejected without requeue so a poison message cannot wedge the queue.
func StartEmailConsumer(url string) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("email-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn); err != nil {
			log.Printf("email-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection) error {
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("email-consumer: set QoS failed: %v", err)
	}

	if _, err := ch.QueueDeclare(EmailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(EmailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(d.Body); err != nil {
			log.Printf("email-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(body []byte) error {
	var ev EmailEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	var line string
	switch ev.Kind {
	case EmailVerification:
		line = fmt.Sprintf("[%s] Verification email | to=%s | name=%q | token=%s\n",
			ev.QueuedAt, ev.To, ev.Name, ev.Token)
	case EmailPasswordReset:
		line = fmt.Sprintf("[%s] Password reset email | to=%s | name=%q | token=%s\n",
			ev.QueuedAt, ev.To, ev.Name, ev.Token)
	case EmailPasswordChanged:
		line = fmt.Sprintf("[%s] Password changed notice | to=%s | name=%q\n",
			ev.QueuedAt, ev.To, ev.Name)
	case EmailWorkspaceInvite:
		line = fmt.Sprintf("[%s] Workspace invite | to=%s | workspace=%q | invited_by=%q | role=%s | token=%s\n",
			ev.QueuedAt, ev.To, ev.WorkspaceName, ev.InviterName, ev.Role, ev.Token)
	default:
		return fmt.Errorf("unknown email kind %q", ev.Kind)
	}

	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join("logs", "email.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
