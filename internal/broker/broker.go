package broker

import (
	"math/rand"
)

// Metrics is the subset of internal/metrics.Registry the broker needs. It is
// expressed as an interface so broker tests can run without constructing a
// real Prometheus registry.
type Metrics interface {
	SubscriptionInc()
	SubscriptionDec()
	MessagePublished()
	MessageDelivered()
	MessageDropped(reason string)
	CacheEviction()
}

// Events is the subset of internal/logging.Events the broker needs for
// structured, per-connection audit logging.
type Events interface {
	SlowConsumerDropped(subscriberID, topic string)
	MalformedCommand(subscriberID, reason string)
}

type noopMetrics struct{}

func (noopMetrics) SubscriptionInc()      {}
func (noopMetrics) SubscriptionDec()      {}
func (noopMetrics) MessagePublished()     {}
func (noopMetrics) MessageDelivered()     {}
func (noopMetrics) MessageDropped(string) {}
func (noopMetrics) CacheEviction()        {}

type noopEvents struct{}

func (noopEvents) SlowConsumerDropped(string, string) {}
func (noopEvents) MalformedCommand(string, string)    {}

// Broker is the dispatch engine: it owns the topic registry and the
// optional fan-out worker pool, and implements the three command handlers.
type Broker struct {
	registry *Registry
	pool     *fanoutPool
	// fanoutThreshold is the subscriber-count above which a publish's
	// writes are parallelized across the fan-out pool instead of running
	// on the publisher's own goroutine.
	fanoutThreshold int

	metrics Metrics
	events  Events
}

// Config bundles the knobs a Broker needs at construction time.
type Config struct {
	CacheSize       int
	FanoutWorkers   int
	FanoutThreshold int
	Metrics         Metrics
	Events          Events
}

// New creates a Broker. A zero Config is usable: it yields an unbounded
// cache-less (cache size 0) broker with no parallel fan-out, which is never
// what callers want in practice but keeps the type safe to zero-construct.
func New(cfg Config) *Broker {
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	ev := cfg.Events
	if ev == nil {
		ev = noopEvents{}
	}
	threshold := cfg.FanoutThreshold
	if threshold <= 0 {
		threshold = 64
	}
	return &Broker{
		registry:        NewRegistry(cfg.CacheSize),
		pool:            newFanoutPool(cfg.FanoutWorkers),
		fanoutThreshold: threshold,
		metrics:         m,
		events:          ev,
	}
}

// Close stops the fan-out worker pool, if one was started.
func (b *Broker) Close() {
	b.pool.stop()
}

// Subscribe adds sub to topic's subscriber set and, on success, writes the
// success reply and any eligible replay cache entries directly to sub's
// outbound queue. The whole operation (subscriber-set mutation, success
// reply, replay, cache rebuild) runs under the topic's lock so a concurrent
// Publish on the same topic is fully ordered before or after it, per
// SPEC_FULL §5 "Subscribe atomicity".
func (b *Broker) Subscribe(sub *Subscriber, cmd *SubscribeCmd) {
	t := b.registry.topic(cmd.Topic)

	t.mu.Lock()
	_, already := t.subscribers[sub]
	t.subscribers[sub] = struct{}{}
	sub.subscribedTopics[cmd.Topic] = struct{}{}

	sub.Enqueue(EncodeSuccess())

	if cmd.Cache {
		for _, cm := range t.drainForSubscribe(cmd.LastSeen) {
			sub.Enqueue(encodeCached(cm))
		}
	}
	t.mu.Unlock()

	if !already {
		b.metrics.SubscriptionInc()
	}
}

// Unsubscribe removes sub from topic's subscriber set. Unsubscribing from a
// topic the connection was never subscribed to is treated as an internal
// error, matching the reference implementation's unchecked set-removal
// (SPEC_FULL §4.3, §9 open question) rather than silently succeeding.
func (b *Broker) Unsubscribe(sub *Subscriber, cmd *UnsubscribeCmd) error {
	t := b.registry.topic(cmd.Topic)

	t.mu.Lock()
	_, subscribed := t.subscribers[sub]
	if subscribed {
		delete(t.subscribers, sub)
	}
	t.mu.Unlock()

	if !subscribed {
		return &ValidationError{Reason: ReasonInternal}
	}
	delete(sub.subscribedTopics, cmd.Topic)
	b.metrics.SubscriptionDec()
	return nil
}

// Cleanup removes sub from every topic it is subscribed to. Called once,
// from the owning connection's goroutine, when that connection closes.
func (b *Broker) Cleanup(sub *Subscriber) {
	for name := range sub.subscribedTopics {
		t := b.registry.topic(name)
		t.mu.Lock()
		delete(t.subscribers, sub)
		t.mu.Unlock()
		b.metrics.SubscriptionDec()
	}
}

// Publish stamps the next index for cmd.Topic, selects recipients per the
// delivery mode, optionally caches the message, and fans the delivery out
// to the selected recipients. It returns the success reply for the
// publisher.
func (b *Broker) Publish(cmd *SendCmd) []byte {
	t := b.registry.topic(cmd.Topic)

	t.mu.Lock()
	defer t.mu.Unlock()
	index := t.nextIndex
	t.nextIndex++

	var recipients []*Subscriber
	shouldCache := cmd.Cache

	switch cmd.Delivery {
	case DeliveryAll:
		recipients = make([]*Subscriber, 0, len(t.subscribers))
		for s := range t.subscribers {
			recipients = append(recipients, s)
		}
	case DeliveryOne:
		// delivery="one" never caches, even with zero subscribers,
		// matching the reference implementation's unconditional clear.
		shouldCache = false
		if n := len(t.subscribers); n > 0 {
			pick := rand.Intn(n)
			i := 0
			for s := range t.subscribers {
				if i == pick {
					recipients = []*Subscriber{s}
					break
				}
				i++
			}
		}
	}

	if shouldCache {
		cm := cachedMessage{Topic: cmd.Topic, Msg: cmd.Msg, Delivery: cmd.Delivery, Index: index}
		if t.appendCache(cm) {
			b.metrics.CacheEviction()
		}
	}

	b.metrics.MessagePublished()

	if len(recipients) == 0 {
		return EncodeSuccess()
	}

	payload := EncodeDelivery(*cmd, index)
	// Subscriber.Enqueue already reports the drop via its onDrop callback
	// (metrics); here we add the topic context for the audit log.
	deliver := func(s *Subscriber) {
		if s.Enqueue(payload) {
			b.metrics.MessageDelivered()
		} else {
			b.events.SlowConsumerDropped(s.ID, cmd.Topic)
		}
	}

	if b.pool != nil && len(recipients) > b.fanoutThreshold {
		for _, s := range recipients {
			s := s
			b.pool.submit(func() { deliver(s) })
		}
	} else {
		for _, s := range recipients {
			deliver(s)
		}
	}

	return EncodeSuccess()
}
