// Package events publishes notifications about applied profile updates.
package events

import (
	"context"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// Event topic constants
const (
	TopicProfileUpdated = "subhook.profile.updated"
)

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// identified events carry a stable id used for broker-side deduplication.
type identified interface {
	MessageID() string
}

// ProfileUpdatedHook adapts pub to the processor's OnProfileUpdated callback.
// An empty topic publishes to TopicProfileUpdated.
func ProfileUpdatedHook(pub Publisher, topic string) func(ctx context.Context, event subhook.ProfileEvent) error {
	if topic == "" {
		topic = TopicProfileUpdated
	}
	return func(ctx context.Context, event subhook.ProfileEvent) error {
		return pub.Publish(ctx, topic, event)
	}
}
