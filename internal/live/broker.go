package live

import (
	"context"

	"github.com/angelmondragon/dropday-backend/pkg/logger"
)

// Publisher pushes live updates to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Broker publishes and fans out live updates.
type Broker interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}

// Notify publishes events after a commit. Live updates are best effort, so
// failures are only logged.
func Notify(ctx context.Context, pub Publisher, logg *logger.Logger, events ...Event) {
	if pub == nil {
		return
	}
	for _, event := range events {
		if err := pub.Publish(ctx, event); err != nil && logg != nil {
			logg.Warn(logg.WithFields(ctx, map[string]any{
				"live_event": string(event.Type),
				"error":      err.Error(),
			}), "live publish failed")
		}
	}
}
