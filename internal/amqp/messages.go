package amqp

import (
	"encoding/json"
	"time"

	"fintrack/internal/notify"
)

// NotificationMessage is the payload consumed by the push-delivery worker.
type NotificationMessage struct {
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	TargetPath string    `json:"target_path,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewNotificationMessage(n notify.Notification) *NotificationMessage {
	return &NotificationMessage{
		UserID:     n.UserID,
		Title:      n.Title,
		Body:       n.Body,
		TargetPath: n.TargetPath,
		Timestamp:  time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationMessageFromJSON decodes a message published by PublishNotification.
func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
