// Package notify is the fire-and-forget side channel for lifecycle events.
// Delivery failure never fails the operation that triggered it.
package notify

import (
	"context"
	"log/slog"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
)

type Kind string

const (
	KindTaskCompleted  Kind = "task_completed"
	KindTaskApproved   Kind = "task_approved"
	KindRewardSettled  Kind = "reward_settled"
	KindRewardRedeemed Kind = "reward_redeemed"
)

// Dispatcher delivers a notification to a user. relatedID points at the task
// or reward entry the message is about.
type Dispatcher interface {
	Notify(ctx context.Context, role auth.Role, userID int64, kind Kind, message string, relatedID int64)
}

// LogDispatcher writes notifications to the log. Used when push is not
// configured, and handy in tests.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Notify(ctx context.Context, role auth.Role, userID int64, kind Kind, message string, relatedID int64) {
	d.Logger.Info("notify",
		"role", role,
		"user_id", userID,
		"kind", kind,
		"message", message,
		"related_id", relatedID,
	)
}
