// Package events is the topic-based fan-out layer between the game core and
// live websocket viewers. Delivery is best-effort: publishers never block,
// and a subscriber that cannot keep up loses messages rather than slowing
// anyone else down.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Topic names. Game and user topics are derived, the lobby topic is fixed.
const TopicLobby = "lobby"

// TopicGame returns the per-game topic carrying moves, chat, offer changes
// and snapshots.
func TopicGame(id uuid.UUID) string { return "game:" + id.String() }

// TopicUser returns the per-user topic carrying challenges and game-start
// notices.
func TopicUser(username string) string { return "user:" + username }

// Event is the wire envelope: a discriminant type tag plus a type-specific
// payload.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Standard envelope types produced by the bus itself.
const (
	EventConnectAck = "connect_ack"
	EventPing       = "ping"
)

// Subscriber is one live viewer on one topic. Its outbound queue is bounded;
// the bus drops messages for this subscriber alone when the queue is full.
type Subscriber struct {
	ID    uuid.UUID
	Topic string

	out    chan Event
	closed bool // guarded by the bus mutex
}

// Events exposes the outbound queue for the caller's write pump. The channel
// is closed when the subscriber is pruned or unsubscribed.
func (s *Subscriber) Events() <-chan Event { return s.out }

// Bus routes published events to every live subscriber of a topic.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[uuid.UUID]*Subscriber

	queueSize int
	heartbeat time.Duration
	logger    *logrus.Logger

	// Snapshot, when set, supplies a full-state event enqueued right after
	// the connect acknowledgment so a late joiner never observes a blank
	// view. Topics without snapshots return false.
	Snapshot func(topic string) (Event, bool)
}

// NewBus builds a bus with the given per-subscriber queue size and heartbeat
// interval. Queue sizes below two fall back to 32 messages, the heartbeat to
// 10 seconds. The minimum of two keeps room for the connect ack and a
// snapshot on a freshly registered subscriber.
func NewBus(logger *logrus.Logger, queueSize int, heartbeat time.Duration) *Bus {
	if queueSize < 2 {
		queueSize = 32
	}
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		topics:    make(map[string]map[uuid.UUID]*Subscriber),
		queueSize: queueSize,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Subscribe registers a new subscriber on the topic. The connect ack (and a
// full snapshot, when the topic has one) is already queued when this
// returns.
func (b *Bus) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{
		ID:    uuid.New(),
		Topic: topic,
		out:   make(chan Event, b.queueSize),
	}

	b.mu.Lock()
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[uuid.UUID]*Subscriber)
		b.topics[topic] = set
	}
	set[sub.ID] = sub
	// The queue is empty and holds at least two, this cannot fail.
	sub.out <- Event{Type: EventConnectAck, Payload: map[string]string{"topic": topic}}
	b.mu.Unlock()

	// The snapshot callback reaches back into the session store and the bus
	// itself, so it must run outside the bus mutex. A publish interleaving
	// here lands behind a snapshot that already reflects it.
	if b.Snapshot != nil {
		if snap, ok := b.Snapshot(topic); ok {
			b.mu.Lock()
			if !sub.closed {
				select {
				case sub.out <- snap:
				default:
					b.logger.WithFields(logrus.Fields{
						"topic":      topic,
						"subscriber": sub.ID,
					}).Warn("subscriber queue full, dropping snapshot")
				}
			}
			b.mu.Unlock()
		}
	}
	return sub
}

// Unsubscribe removes the subscriber and closes its queue. Safe to call more
// than once; only the named subscriber's delivery path is affected.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	b.removeLocked(sub)
	b.mu.Unlock()
}

func (b *Bus) removeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.out)
	if set, ok := b.topics[sub.Topic]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(b.topics, sub.Topic)
		}
	}
}

// Publish delivers ev to every subscriber of the topic in publish order.
// A full queue drops the event for that subscriber only.
func (b *Bus) Publish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topics[topic] {
		if sub.closed {
			continue
		}
		select {
		case sub.out <- ev:
		default:
			b.logger.WithFields(logrus.Fields{
				"topic":      topic,
				"subscriber": sub.ID,
				"event":      ev.Type,
			}).Warn("subscriber queue full, dropping event")
		}
	}
}

// SubscriberCount reports the number of live subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Run drives the heartbeat sweep until the context is cancelled. Every
// interval each subscriber is probed with a trivial send; a subscriber whose
// queue cannot even take the probe is pruned from its topic.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bus) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, set := range b.topics {
		for _, sub := range set {
			select {
			case sub.out <- Event{Type: EventPing}:
			default:
				b.logger.WithFields(logrus.Fields{
					"topic":      topic,
					"subscriber": sub.ID,
				}).Info("heartbeat failed, pruning subscriber")
				b.removeLocked(sub)
			}
		}
	}
}
