package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"projecthub/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier(t *testing.T) *Notifier {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewNotifier(rdb)
}

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishUser(context.Background(), "64b7f0c2a1b2c3d4e5f60718", Event{Type: EventNewFollower}))
	assert.NoError(t, n.StartPatternSubscriber(context.Background(), func(string, string) {}))
	n.Notify(context.Background(), "x", Event{})
}

func TestChannels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "notifications:user:64b7f0c2a1b2c3d4e5f60718", UserChannel("64b7f0c2a1b2c3d4e5f60718"))
	assert.Equal(t, "projects:abc", ProjectChannel("abc"))
}

func TestNotifier_SubscriberReceivesEvents(t *testing.T) {
	n := newTestNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := map[string]Event{}
	require.NoError(t, n.StartPatternSubscriber(ctx, func(channel, payload string) {
		var ev Event
		if json.Unmarshal([]byte(payload), &ev) == nil {
			mu.Lock()
			got[channel] = ev
			mu.Unlock()
		}
	}))

	user := models.UserID("64b7f0c2a1b2c3d4e5f60718")
	require.NoError(t, n.PublishUser(ctx, user, Event{Type: EventNewFollower, ActorID: "64b7f0c2a1b2c3d4e5f60719"}))
	require.NoError(t, n.PublishProject(ctx, "p1", Event{Type: EventProjectLiked}.WithCount(3)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventNewFollower, got[UserChannel(user)].Type)
	require.NotNil(t, got[ProjectChannel("p1")].Count)
	assert.Equal(t, 3, *got[ProjectChannel("p1")].Count)
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	n := newTestNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())

	var received int32
	require.NoError(t, n.StartPatternSubscriber(ctx, func(string, string) {
		atomic.AddInt32(&received, 1)
	}))
	require.NoError(t, n.PublishBroadcast(context.Background(), Event{Type: EventRoleChanged}))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&received) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, n.PublishBroadcast(context.Background(), Event{Type: EventRoleChanged}))
	assert.Never(t, func() bool { return atomic.LoadInt32(&received) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNotifier_SubscriberRecoversFromPanic(t *testing.T) {
	n := newTestNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	require.NoError(t, n.StartPatternSubscriber(ctx, func(string, string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
	}))
	require.NoError(t, n.PublishBroadcast(ctx, Event{Type: "a"}))
	require.NoError(t, n.PublishBroadcast(ctx, Event{Type: "b"}))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 10*time.Millisecond)
}
