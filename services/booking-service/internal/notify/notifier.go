package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

const (
	topicRequested     = "booking.appointment.requested.v1"
	topicStatusChanged = "booking.appointment.status_changed.v1"
)

// Topics are the events the notifier subscribes to.
var Topics = []string{topicRequested, topicStatusChanged}

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Status        string `json:"status"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
}

// Notifier e-mails the customer about their appointment. It only ever reads committed
// events, so a mail failure cannot affect the appointment itself.
type Notifier struct {
	sender Sender
	texter TextSender
	logger *slog.Logger
}

func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

// WithTexter also texts customers who left a phone number. SMS failures are logged only.
func (n *Notifier) WithTexter(t TextSender) *Notifier {
	n.texter = t
	return n
}

// Handle is a consumer Handler. Undecodable or irrelevant messages are dropped, not retried.
func (n *Notifier) Handle(ctx context.Context, msg kafka.Message) error {
	var evt appointmentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		n.logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if evt.Email == "" || evt.AppointmentID == "" {
		n.logger.Error("missing required event fields", "topic", msg.Topic)
		return nil
	}

	subject, body, ok := compose(msg.Topic, evt)
	if !ok {
		return nil
	}
	if err := n.sender.Send(ctx, evt.Email, subject, body); err != nil {
		return fmt.Errorf("send %s mail for %s: %w", evt.Status, evt.AppointmentID, err)
	}
	n.logger.Info("notification sent", "appointment_id", evt.AppointmentID, "status", evt.Status, "channel", "email")

	if n.texter != nil && evt.Phone != "" {
		if err := n.texter.Send(ctx, evt.Phone, subject+". Ref "+evt.AppointmentID); err != nil {
			n.logger.Warn("sms notification failed", "appointment_id", evt.AppointmentID, "err", err)
		}
	}
	return nil
}

func compose(topic string, evt appointmentEvent) (string, string, bool) {
	when := fmt.Sprintf("%s %s-%s", evt.Date, evt.Start, evt.End)
	switch {
	case topic == topicRequested:
		return "We received your appointment request",
			fmt.Sprintf("Hello %s,\n\nyour request for %s is pending review. We will confirm it shortly.\n\nReference: %s", evt.Name, when, evt.AppointmentID), true
	case topic == topicStatusChanged && evt.Status == "confirmed":
		return "Your appointment is confirmed",
			fmt.Sprintf("Hello %s,\n\nyour appointment on %s is confirmed.\n\nReference: %s", evt.Name, when, evt.AppointmentID), true
	case topic == topicStatusChanged && evt.Status == "cancelled":
		return "Your appointment was cancelled",
			fmt.Sprintf("Hello %s,\n\nyour appointment on %s was cancelled.\n\nReference: %s", evt.Name, when, evt.AppointmentID), true
	}
	return "", "", false
}
