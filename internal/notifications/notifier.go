// Package notifications publishes domain events to Redis channels for
// external realtime consumers.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"projecthub/internal/middleware"
	"projecthub/internal/models"

	"github.com/redis/go-redis/v9"
)

// Event types.
const (
	EventProjectLiked    = "project_liked"
	EventProjectUnliked  = "project_unliked"
	EventProjectShared   = "project_shared"
	EventProjectUnshared = "project_unshared"
	EventCommentAdded    = "comment_added"
	EventNewFollower     = "new_follower"
	EventRoleChanged     = "role_changed"
)

const broadcastChannel = "notifications:broadcast"

// Event is the JSON payload written to a channel.
type Event struct {
	Type      string        `json:"type"`
	ProjectID string        `json:"projectId,omitempty"`
	ActorID   models.UserID `json:"actorId,omitempty"`
	Count     *int          `json:"count,omitempty"`
	Role      models.Role   `json:"role,omitempty"`
	At        time.Time     `json:"at"`
}

// WithCount sets Count.
func (e Event) WithCount(n int) Event {
	e.Count = &n
	return e
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

func (n *Notifier) publish(ctx context.Context, channel string, ev Event) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.rdb.Publish(ctx, channel, payload).Err()
}

// PublishUser sends an event to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID models.UserID, ev Event) error {
	return n.publish(ctx, UserChannel(userID), ev)
}

// PublishProject sends an event to a project's channel.
func (n *Notifier) PublishProject(ctx context.Context, projectID string, ev Event) error {
	return n.publish(ctx, ProjectChannel(projectID), ev)
}

// PublishBroadcast sends an event to every subscriber.
func (n *Notifier) PublishBroadcast(ctx context.Context, ev Event) error {
	return n.publish(ctx, broadcastChannel, ev)
}

// Notify publishes without blocking the caller's request on Redis. Failures
// are logged.
func (n *Notifier) Notify(ctx context.Context, channel string, ev Event) {
	if n == nil || n.rdb == nil {
		return
	}
	attrs := []any{slog.String("channel", channel), slog.String("event", ev.Type)}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := n.publish(pubCtx, channel, ev); err != nil {
			middleware.Logger.WarnContext(pubCtx, "notification publish failed", append(attrs, slog.String("error", err.Error()))...)
		}
	}()
}

// StartPatternSubscriber subscribes to user, project and broadcast channels
// and calls onMessage for each incoming message until ctx is done.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "notifications:user:*", "projects:*", broadcastChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in notification subscriber",
								slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID models.UserID) string {
	return "notifications:user:" + userID.String()
}

// ProjectChannel derives the Redis channel name for a project.
func ProjectChannel(projectID string) string {
	return "projects:" + projectID
}
