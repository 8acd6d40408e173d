package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calebrow/notifyd/internal/models"
)

func strPtr(s string) *string { return &s }

func TestChannelNaming(t *testing.T) {
	require.Equal(t, "notifications-user-u1", UserChannel("u1"))
	require.Equal(t, "notifications-team-t1", TeamChannel("t1"))
	require.Equal(t, "notifications-super-admin", SuperChannel("ADMIN"))
}

func TestChannelForResolvesScope(t *testing.T) {
	user := &models.Notification{Scope: models.ScopeUser, UserID: strPtr("u1")}
	team := &models.Notification{Scope: models.ScopeTeam, TeamID: strPtr("t1")}
	super := &models.Notification{Scope: models.ScopeSuper, SuperRole: strPtr(models.SuperRoleSupport)}

	require.Equal(t, "notifications-user-u1", ChannelFor(user))
	require.Equal(t, "notifications-team-t1", ChannelFor(team))
	require.Equal(t, "notifications-super-support", ChannelFor(super))
	require.Empty(t, ChannelFor(&models.Notification{Scope: models.ScopeUser}))
	require.Empty(t, ChannelFor(nil))
}

func TestSubscribeAndPublish(t *testing.T) {
	broker := NewBroker()

	var received []Event
	unsub := broker.Subscribe(UserChannel("u1"), func(event Event) {
		received = append(received, event)
	})
	defer unsub()

	n := &models.Notification{Scope: models.ScopeUser, UserID: strPtr("u1")}
	broker.PublishFor(EventCreated, n)

	require.Len(t, received, 1)
	require.Equal(t, EventCreated, received[0].Kind)
	require.NotNil(t, received[0].Notification)
	require.False(t, received[0].Timestamp.IsZero())
}

func TestPublishIsScopedToChannel(t *testing.T) {
	broker := NewBroker()

	var userEvents, teamEvents int
	defer broker.Subscribe(UserChannel("u1"), func(Event) { userEvents++ })()
	defer broker.Subscribe(TeamChannel("t1"), func(Event) { teamEvents++ })()

	broker.Publish(TeamChannel("t1"), Event{Kind: EventUpdated})

	require.Zero(t, userEvents)
	require.Equal(t, 1, teamEvents)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	broker := NewBroker()

	calls := 0
	unsub := broker.Subscribe(UserChannel("u1"), func(Event) { calls++ })
	require.Equal(t, 1, broker.SubscriberCount(UserChannel("u1")))

	unsub()
	unsub()
	unsub()

	require.Zero(t, broker.SubscriberCount(UserChannel("u1")))
	broker.Publish(UserChannel("u1"), Event{Kind: EventDeleted})
	require.Zero(t, calls)
}

func TestNilBrokerDegradesToNoOp(t *testing.T) {
	var broker *Broker

	unsub := broker.Subscribe(UserChannel("u1"), func(Event) {
		t.Fatal("handler must never fire on a nil broker")
	})
	require.NotNil(t, unsub)
	require.NotPanics(t, unsub)
	require.NotPanics(t, func() {
		broker.Publish(UserChannel("u1"), Event{Kind: EventCreated})
	})
	require.Zero(t, broker.SubscriberCount(UserChannel("u1")))
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	broker := NewBroker()

	var delivered int
	defer broker.Subscribe(UserChannel("u1"), func(Event) { panic("boom") })()
	defer broker.Subscribe(UserChannel("u1"), func(Event) { delivered++ })()

	require.NotPanics(t, func() {
		broker.Publish(UserChannel("u1"), Event{Kind: EventCreated})
	})
	require.Equal(t, 1, delivered)
}
