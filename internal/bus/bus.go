// Package bus implements the Fan-out Bus (spec §4.7): a per-(bout_id,topic)
// pub/sub structure delivering ingested events, score updates, and
// lifecycle transitions to connected subscribers with at-least-once
// semantics. Grounded on the teacher's websocket Hub
// (internal/api/websocket.go) — same mutex-guarded subscriber set,
// snapshot-then-deliver publish, write-deadline eviction — generalized from
// one unkeyed client map to a keyed map of bounded per-subscriber queues.
package bus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Topic is one of the four fan-out channels (spec §4.7).
type Topic string

const (
	TopicCVEvents     Topic = "cv_events"
	TopicJudgeEvents  Topic = "judge_events"
	TopicScoreUpdates Topic = "score_updates"
	TopicLifecycle    Topic = "lifecycle"
)

// Message is the outbound bus envelope (spec §6.2).
type Message struct {
	Type      string `json:"type"`
	BoutID    string `json:"bout_id"`
	RoundID   string `json:"round_id,omitempty"`
	Timestamp string `json:"timestamp"` // ISO-8601 UTC
	Data      any    `json:"data"`
}

// Sink receives delivered messages. Returning an error or panicking-free
// failure causes the Bus to evict it on the next delivery attempt — the
// teacher's Hub does this by checking the websocket write error; here a Sink
// is transport-agnostic so a websocket adapter, an in-process test sink, or
// a webhook sink can all implement it.
type Sink interface {
	Deliver(Message) error
}

type key struct {
	boutID string
	topic  Topic
}

const subscriberQueueDepth = 64

type subscriber struct {
	id    uint64
	sink  Sink
	queue chan Message
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run(onEvicted func()) {
	for {
		select {
		case msg := <-s.queue:
			if err := s.sink.Deliver(msg); err != nil {
				onEvicted()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Bus is the Fan-out Bus.
type Bus struct {
	mu          sync.Mutex
	subscribers map[key][]*subscriber
	nextID      uint64

	delivered prometheus.Counter
	dropped   prometheus.Counter
	evicted   prometheus.Counter
}

// New creates an empty Bus with its metrics registered against reg (pass a
// fresh prometheus.NewRegistry() in tests to avoid collisions).
func New(reg prometheus.Registerer) *Bus {
	factory := promauto.With(reg)
	return &Bus{
		subscribers: make(map[key][]*subscriber),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_bus_messages_delivered_total",
			Help: "Messages successfully handed to a subscriber sink.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_bus_messages_dropped_total",
			Help: "Messages dropped because a subscriber's queue was full.",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_bus_subscribers_evicted_total",
			Help: "Subscribers removed after a failed delivery.",
		}),
	}
}

// Subscription is returned by Subscribe and passed to Unsubscribe.
type Subscription struct {
	k  key
	id uint64
}

// Subscribe registers sink for (boutID, topic). Delivery to this sink is
// FIFO with respect to Publish calls on that key.
func (b *Bus) Subscribe(boutID string, topic Topic, sink Sink) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{
		id:    b.nextID,
		sink:  sink,
		queue: make(chan Message, subscriberQueueDepth),
		done:  make(chan struct{}),
	}
	k := key{boutID: boutID, topic: topic}
	b.subscribers[k] = append(b.subscribers[k], sub)

	go sub.run(func() { b.evict(k, sub.id) })

	return Subscription{k: k, id: sub.id}
}

// Unsubscribe removes a previously registered sink.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s.k, s.id)
}

func (b *Bus) evict(k key, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(k, id)
	b.evicted.Inc()
}

func (b *Bus) removeLocked(k key, id uint64) {
	subs := b.subscribers[k]
	for i, s := range subs {
		if s.id == id {
			s.close()
			b.subscribers[k] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers message to every currently registered sink for
// (boutID, topic). A full subscriber queue results in a drop for that
// subscriber, not a block of the publisher or other subscribers.
func (b *Bus) Publish(boutID string, topic Topic, msgType string, data any) {
	msg := Message{
		Type:      msgType,
		BoutID:    boutID,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Data:      data,
	}

	b.mu.Lock()
	k := key{boutID: boutID, topic: topic}
	subs := make([]*subscriber, len(b.subscribers[k]))
	copy(subs, b.subscribers[k])
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- msg:
			b.delivered.Inc()
		default:
			b.dropped.Inc()
		}
	}
}

// PublishRound is Publish with a round_id set on the envelope.
func (b *Bus) PublishRound(boutID, roundID string, topic Topic, msgType string, data any) {
	msg := Message{
		Type:      msgType,
		BoutID:    boutID,
		RoundID:   roundID,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Data:      data,
	}

	b.mu.Lock()
	k := key{boutID: boutID, topic: topic}
	subs := make([]*subscriber, len(b.subscribers[k]))
	copy(subs, b.subscribers[k])
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- msg:
			b.delivered.Inc()
		default:
			b.dropped.Inc()
		}
	}
}

// SubscriberCount returns the number of live subscribers for (boutID,
// topic); used by housekeeping and tests.
func (b *Bus) SubscriberCount(boutID string, topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[key{boutID: boutID, topic: topic}])
}

// Sweep drops every subscriber currently registered for every key whose
// underlying sink reports itself dead via isDead. It is the scheduled
// counterpart to the teacher's inline idle-cleanup loop
// (internal/api/ratelimit.go's cleanupLoop), run periodically from
// cmd/engine's cron housekeeping instead of an ad-hoc ticker, since the Bus
// now has more than one thing to sweep.
func (b *Bus) Sweep(isDead func(Sink) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for k, subs := range b.subscribers {
		kept := subs[:0]
		for _, s := range subs {
			if isDead(s.sink) {
				s.close()
				removed++
				continue
			}
			kept = append(kept, s)
		}
		b.subscribers[k] = kept
	}
	b.evicted.Add(float64(removed))
	return removed
}
