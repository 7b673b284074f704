// Package broker implements the in-memory publish/subscribe engine: topic
// state, the per-topic replay cache, command validation, and dispatch.
package broker

import "sync"

// Delivery modes accepted by the send command.
const (
	DeliveryAll = "all"
	DeliveryOne = "one"
)

// Reply reasons. These strings are part of the wire protocol and must match
// exactly what clients expect.
const (
	ReasonMalformed   = "Malformed json message"
	ReasonParseJSON   = "Could not parse json"
	ReasonInvalidUTF8 = "Could not decode input as UTF-8"
	ReasonInternal    = "Internal exception"
)

// Subscriber is one connection's handle in the broker. It owns the set of
// topics the connection is subscribed to and a bounded outbound queue that
// the owning connection drains to the socket.
//
// subscribedTopics is mutated only by the goroutine that owns this
// connection's read loop (the broker's Subscribe/Unsubscribe/Cleanup calls
// for this subscriber all run there), so it needs no lock of its own.
type Subscriber struct {
	ID      string
	outQ    chan []byte
	dropped func()

	subscribedTopics map[string]struct{}
}

// NewSubscriber creates a subscriber handle with a bounded outbound queue of
// the given size.
func NewSubscriber(id string, queueSize int, onDrop func()) *Subscriber {
	return &Subscriber{
		ID:               id,
		outQ:             make(chan []byte, queueSize),
		dropped:          onDrop,
		subscribedTopics: make(map[string]struct{}),
	}
}

// Outbound exposes the read side of the subscriber's queue for the
// connection's write loop.
func (s *Subscriber) Outbound() <-chan []byte {
	return s.outQ
}

// Enqueue offers a reply or delivery to the subscriber's outbound queue
// without blocking. A full queue means a slow consumer; the message is
// dropped for this subscriber only, matching the isolation guarantee in
// SPEC_FULL §4.5/§7.
func (s *Subscriber) Enqueue(payload []byte) bool {
	select {
	case s.outQ <- payload:
		return true
	default:
		if s.dropped != nil {
			s.dropped()
		}
		return false
	}
}

// Topics returns the set of subscribed topic names, owned exclusively by the
// connection goroutine.
func (s *Subscriber) Topics() map[string]struct{} {
	return s.subscribedTopics
}

// cachedMessage is one retained send, keyed by its stamped index.
type cachedMessage struct {
	Topic    string
	Msg      string
	Delivery string
	Index    int64
}

// topicState holds everything the broker tracks for a single topic. A single
// mutex serializes index assignment, cache mutation, and subscriber-set
// mutation for the topic, which is what SPEC_FULL §5 requires: index
// assignment and cache insertion can never reorder relative to each other,
// and a subscribe observes either all or none of a concurrent publish.
type topicState struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	nextIndex   int64
	cache       []cachedMessage
	cacheSize   int
}

func newTopicState(cacheSize int) *topicState {
	return &topicState{
		subscribers: make(map[*Subscriber]struct{}),
		cacheSize:   cacheSize,
	}
}

// appendCache inserts cm into the FIFO, evicting the oldest entry if the
// cache is already at capacity. Caller must hold t.mu. Returns true if an
// entry was evicted.
func (t *topicState) appendCache(cm cachedMessage) bool {
	evicted := false
	if t.cacheSize <= 0 {
		return false
	}
	if len(t.cache) >= t.cacheSize {
		t.cache = t.cache[1:]
		evicted = true
	}
	t.cache = append(t.cache, cm)
	return evicted
}

// drainForSubscribe implements the replay-and-rebuild step of SPEC_FULL
// §4.4: every cached entry with Index > lastSeen is returned for delivery,
// and the cache is rebuilt as a new slice that keeps every entry with
// Index <= lastSeen plus the returned entries that were broadcast ("all"),
// preserving original FIFO order. Caller must hold t.mu.
func (t *topicState) drainForSubscribe(lastSeen int64) []cachedMessage {
	var toSend []cachedMessage
	kept := t.cache[:0:0]
	for _, e := range t.cache {
		if e.Index > lastSeen {
			toSend = append(toSend, e)
			if e.Delivery == DeliveryAll {
				kept = append(kept, e)
			}
		} else {
			kept = append(kept, e)
		}
	}
	t.cache = kept
	return toSend
}
