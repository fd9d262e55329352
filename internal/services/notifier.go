package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

const (
	NotificationPaymentSucceeded  = "payment_succeeded"
	NotificationPaymentFailed     = "payment_failed"
	NotificationCapacityRefund    = "capacity_refund"
	NotificationDuplicateRefund   = "duplicate_charge_refund"
	NotificationRefundIssued      = "refund_issued"
	NotificationOvertimeFailed    = "overtime_authorization_failed"
	NotificationPayoutStatement   = "payout_statement"
	NotificationRefundRequested   = "refund_requested"
	NotificationRefundRequestDone = "refund_request_resolved"
)

type Notification struct {
	UserID   int64
	Type     string
	Priority string
	Title    string
	Message  string
	Data     map[string]any
}

// Notifier is the fire-and-forget delivery channel to users.
type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// RealtimePublisher pushes an event to every subscriber of a channel.
type RealtimePublisher interface {
	Publish(channel string, event string, payload any) error
}

func SessionChannel(sessionID int64) string {
	return fmt.Sprintf("session:%d", sessionID)
}

func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// LogNotifier records notifications in the log and mirrors them to the
// user's realtime channel when a publisher is set.
type LogNotifier struct {
	logger    *zap.Logger
	publisher RealtimePublisher
}

func NewLogNotifier(logger *zap.Logger, publisher RealtimePublisher) *LogNotifier {
	return &LogNotifier{logger: logger, publisher: publisher}
}

func (n *LogNotifier) Send(_ context.Context, notification Notification) error {
	n.logger.Info("notification",
		zap.Int64("user_id", notification.UserID),
		zap.String("type", notification.Type),
		zap.String("priority", notification.Priority),
		zap.String("title", notification.Title),
	)
	if n.publisher == nil {
		return nil
	}
	return n.publisher.Publish(UserChannel(notification.UserID), "notification", notification)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, string, any) error { return nil }
