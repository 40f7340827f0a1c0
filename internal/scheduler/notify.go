package scheduler

import (
	"context"
	"fmt"

	"github.com/lhwzds/agentcore/internal/storage"
)

// buildNotificationMessage renders the outcome message for a completed or
// failed task run.
func buildNotificationMessage(task *storage.BackgroundAgent, output string, taskErr error) string {
	if taskErr == nil {
		return output
	}
	return fmt.Sprintf("Background agent %q failed:\n%s", task.Name, taskErr.Error())
}

// notifyOutcome sends the outcome message for task, honoring
// notify_on_failure_only and the channel-router-then-direct-sender
// fallback for outcome notifications. It returns the sink names that accepted the
// message (nil on total failure) so the caller can record the matching
// TaskEvent.
func notifyOutcome(ctx context.Context, task *storage.BackgroundAgent, output string, taskErr error, router ChannelRouter, direct DirectSender) []string {
	if !task.Notification.Enabled {
		return nil
	}
	if taskErr == nil && task.Notification.NotifyOnFailureOnly {
		return nil
	}

	message := buildNotificationMessage(task, output, taskErr)

	if router != nil && len(task.Notification.Channels) > 0 {
		if accepted := router.Broadcast(ctx, task.Notification.Channels, task.Name, message); len(accepted) > 0 {
			return accepted
		}
	}

	if direct != nil {
		if err := direct.Send(ctx, task.Name, message); err == nil {
			return []string{"direct"}
		}
	}
	return nil
}
