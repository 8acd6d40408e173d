package realtime

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/pkg/logger"
	"github.com/calebrow/notifyd/pkg/metrics"
)

// Event kinds emitted on notification channels.
const (
	EventCreated = "notification_created"
	EventUpdated = "notification_updated"
	EventDeleted = "notification_deleted"
)

// Event is the uniform shape delivered to channel subscribers.
type Event struct {
	Kind         string               `json:"event"`
	Notification *models.Notification `json:"notification,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Handler consumes events for one channel subscription.
type Handler func(Event)

// UserChannel names the live feed for a single user's notifications.
func UserChannel(userID string) string {
	return "notifications-user-" + userID
}

// TeamChannel names the live feed for a team's notifications.
func TeamChannel(teamID string) string {
	return "notifications-team-" + teamID
}

// SuperChannel names the live feed for a privileged role class.
func SuperChannel(role string) string {
	return "notifications-super-" + strings.ToLower(role)
}

// ChannelFor resolves the channel a notification's mutations are published on.
func ChannelFor(n *models.Notification) string {
	if n == nil {
		return ""
	}
	switch n.Scope {
	case models.ScopeUser:
		if n.UserID != nil {
			return UserChannel(*n.UserID)
		}
	case models.ScopeTeam:
		if n.TeamID != nil {
			return TeamChannel(*n.TeamID)
		}
	case models.ScopeSuper:
		if n.SuperRole != nil {
			return SuperChannel(*n.SuperRole)
		}
	}
	return ""
}

type subscription struct {
	id      uint64
	handler Handler
}

// Broker is the in-process change feed. Storage mutations are published per
// channel and fanned out to registered handlers. A nil Broker is a valid
// degraded mode: subscriptions log a warning and return a no-op unsubscribe,
// publishes are dropped.
type Broker struct {
	mu       sync.RWMutex
	channels map[string][]subscription
	nextID   uint64
	log      *zap.Logger
}

// NewBroker constructs a Broker.
func NewBroker() *Broker {
	return &Broker{
		channels: make(map[string][]subscription),
		log:      logger.WithModule("realtime"),
	}
}

// Subscribe registers a handler for all events on the given channel and
// returns an idempotent unsubscribe function. Subscribing on a nil broker
// never fails; it degrades to "notifications present but not live".
func (b *Broker) Subscribe(channel string, handler Handler) func() {
	if b == nil {
		logger.Warn("realtime backend not configured; live updates disabled",
			zap.String("channel", channel))
		return func() {}
	}

	channel = strings.TrimSpace(channel)
	if channel == "" || handler == nil {
		b.log.Warn("ignoring realtime subscription with empty channel or nil handler")
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.channels[channel] = append(b.channels[channel], subscription{id: id, handler: handler})
	b.mu.Unlock()

	metrics.RealtimeSubscribers.WithLabelValues(scopeOfChannel(channel)).Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(channel, id)
			metrics.RealtimeSubscribers.WithLabelValues(scopeOfChannel(channel)).Dec()
		})
	}
}

// Publish delivers an event to every subscriber of the channel. Handler
// panics are contained and logged; a failing subscriber never affects
// siblings or the publisher.
func (b *Broker) Publish(channel string, event Event) {
	if b == nil || channel == "" {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.channels[channel]))
	copy(subs, b.channels[channel])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(channel, sub, event)
	}
}

// PublishFor publishes an event on the channel derived from the notification's scope.
func (b *Broker) PublishFor(kind string, n *models.Notification) {
	channel := ChannelFor(n)
	if channel == "" {
		return
	}
	b.Publish(channel, Event{Kind: kind, Notification: n})
}

// SubscriberCount reports how many handlers listen on a channel.
func (b *Broker) SubscriberCount(channel string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func (b *Broker) invoke(channel string, sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("realtime handler panicked",
				zap.String("channel", channel),
				zap.Any("panic", r))
		}
	}()
	sub.handler(event)
}

func (b *Broker) remove(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	for i, sub := range subs {
		if sub.id == id {
			b.channels[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.channels[channel]) == 0 {
		delete(b.channels, channel)
	}
}

func scopeOfChannel(channel string) string {
	switch {
	case strings.HasPrefix(channel, "notifications-user-"):
		return models.ScopeUser
	case strings.HasPrefix(channel, "notifications-team-"):
		return models.ScopeTeam
	case strings.HasPrefix(channel, "notifications-super-"):
		return models.ScopeSuper
	default:
		return "unknown"
	}
}
