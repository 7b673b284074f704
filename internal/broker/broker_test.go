package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recv decodes the next queued payload for a subscriber as a generic map,
// failing the test if the queue is empty.
func recv(t *testing.T, sub *Subscriber) map[string]any {
	t.Helper()
	select {
	case payload := <-sub.Outbound():
		var m map[string]any
		require.NoError(t, json.Unmarshal(payload, &m))
		return m
	default:
		t.Fatal("expected a queued message, found none")
		return nil
	}
}

func assertEmpty(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case payload := <-sub.Outbound():
		t.Fatalf("expected no queued message, got %s", payload)
	default:
	}
}

func newTestSubscriber(id string) *Subscriber {
	return NewSubscriber(id, 32, nil)
}

func TestSimpleSend(t *testing.T) {
	b := New(Config{CacheSize: 2})
	c1 := newTestSubscriber("c1")
	c2 := newTestSubscriber("c2")

	b.Subscribe(c1, &SubscribeCmd{Topic: "t", LastSeen: -1, Cache: true})
	assert.Equal(t, true, recv(t, c1)["success"])

	ack := b.Publish(&SendCmd{Topic: "t", Msg: "hello", Delivery: DeliveryAll, Cache: true})
	var ackMap map[string]any
	require.NoError(t, json.Unmarshal(ack, &ackMap))
	assert.Equal(t, true, ackMap["success"])

	got := recv(t, c1)
	assert.Equal(t, "hello", got["msg"])
	assert.EqualValues(t, 0, got["index"])
}

func TestFanOutVsRandom(t *testing.T) {
	b := New(Config{CacheSize: 2})
	subs := []*Subscriber{newTestSubscriber("a"), newTestSubscriber("b"), newTestSubscriber("c")}
	for _, s := range subs {
		b.Subscribe(s, &SubscribeCmd{Topic: "t", LastSeen: -1, Cache: true})
		recv(t, s) // success
	}

	b.Publish(&SendCmd{Topic: "t", Msg: "all", Delivery: DeliveryAll, Cache: true})
	for _, s := range subs {
		got := recv(t, s)
		assert.Equal(t, "all", got["msg"])
		assert.EqualValues(t, 0, got["index"])
	}

	b.Publish(&SendCmd{Topic: "t", Msg: "one", Delivery: DeliveryOne, Cache: true})
	delivered := 0
	for _, s := range subs {
		select {
		case payload := <-s.Outbound():
			delivered++
			var m map[string]any
			require.NoError(t, json.Unmarshal(payload, &m))
			assert.EqualValues(t, 1, m["index"])
		default:
		}
	}
	assert.Equal(t, 1, delivered)
}

func TestCacheEvictionWithAllDelivery(t *testing.T) {
	b := New(Config{CacheSize: 2})
	for i := 0; i < 5; i++ {
		b.Publish(&SendCmd{Topic: "t", Msg: msgName(i), Delivery: DeliveryAll, Cache: true})
	}

	late := newTestSubscriber("late")
	b.Subscribe(late, &SubscribeCmd{Topic: "t", LastSeen: -1, Cache: true})
	assert.Equal(t, true, recv(t, late)["success"])

	first := recv(t, late)
	assert.EqualValues(t, 3, first["index"])
	assert.Equal(t, "hello3", first["msg"])

	second := recv(t, late)
	assert.EqualValues(t, 4, second["index"])
	assert.Equal(t, "hello4", second["msg"])

	assertEmpty(t, late)
}

func TestDeliveryOneNeverCaches(t *testing.T) {
	b := New(Config{CacheSize: 2})
	for i := 0; i < 4; i++ {
		b.Publish(&SendCmd{Topic: "t", Msg: msgName(i), Delivery: DeliveryOne, Cache: true})
	}
	b.Publish(&SendCmd{Topic: "t", Msg: "hello4", Delivery: DeliveryAll, Cache: true})

	for _, name := range []string{"first", "second"} {
		s := newTestSubscriber(name)
		b.Subscribe(s, &SubscribeCmd{Topic: "t", LastSeen: -1, Cache: true})
		assert.Equal(t, true, recv(t, s)["success"])

		got := recv(t, s)
		assert.EqualValues(t, 4, got["index"])
		assert.Equal(t, "hello4", got["msg"])
		assertEmpty(t, s)
	}
}

func TestLastSeen(t *testing.T) {
	b := New(Config{CacheSize: 10})
	for i := 0; i < 5; i++ {
		b.Publish(&SendCmd{Topic: "t", Msg: msgName(i), Delivery: DeliveryAll, Cache: true})
	}

	s1 := newTestSubscriber("s1")
	b.Subscribe(s1, &SubscribeCmd{Topic: "t", LastSeen: 2, Cache: true})
	assert.Equal(t, true, recv(t, s1)["success"])
	assert.EqualValues(t, 3, recv(t, s1)["index"])
	assert.EqualValues(t, 4, recv(t, s1)["index"])
	assertEmpty(t, s1)

	s2 := newTestSubscriber("s2")
	b.Subscribe(s2, &SubscribeCmd{Topic: "t", LastSeen: 4, Cache: true})
	assert.Equal(t, true, recv(t, s2)["success"])
	assertEmpty(t, s2)
}

func TestUnsubscribeOfNonSubscribedTopicIsInternalError(t *testing.T) {
	b := New(Config{CacheSize: 2})
	s := newTestSubscriber("s")
	err := b.Unsubscribe(s, &UnsubscribeCmd{Topic: "never-subscribed"})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonInternal, verr.Reason)
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	b := New(Config{CacheSize: 2})
	s := newTestSubscriber("s")
	b.Subscribe(s, &SubscribeCmd{Topic: "t", LastSeen: -1, Cache: true})
	recv(t, s)

	require.NoError(t, b.Unsubscribe(s, &UnsubscribeCmd{Topic: "t"}))
	assert.Empty(t, s.Topics())

	b.Publish(&SendCmd{Topic: "t", Msg: "after", Delivery: DeliveryAll, Cache: true})
	assertEmpty(t, s)
}

func TestCleanupRemovesFromAllTopics(t *testing.T) {
	b := New(Config{CacheSize: 2})
	s := newTestSubscriber("s")
	b.Subscribe(s, &SubscribeCmd{Topic: "t1", LastSeen: -1, Cache: true})
	recv(t, s)
	b.Subscribe(s, &SubscribeCmd{Topic: "t2", LastSeen: -1, Cache: true})
	recv(t, s)

	b.Cleanup(s)

	other := newTestSubscriber("other")
	b.Subscribe(other, &SubscribeCmd{Topic: "t1", LastSeen: -1, Cache: true})
	recv(t, other)
	b.Publish(&SendCmd{Topic: "t1", Msg: "x", Delivery: DeliveryOne, Cache: true})
	got := recv(t, other)
	assert.Equal(t, "x", got["msg"])
}

func TestIndexMonotonicity(t *testing.T) {
	b := New(Config{CacheSize: 100})
	for i := 0; i < 10; i++ {
		ack := b.Publish(&SendCmd{Topic: "t", Msg: msgName(i), Delivery: DeliveryAll, Cache: false})
		var m map[string]any
		require.NoError(t, json.Unmarshal(ack, &m))
		assert.Equal(t, true, m["success"])
	}
	// no cache entries were retained (Cache: false), but the index must
	// still have advanced by exactly 10 — verified indirectly via a
	// fresh subscriber receiving index 10 on the next publish.
	s := newTestSubscriber("s")
	b.Subscribe(s, &SubscribeCmd{Topic: "t", LastSeen: -1, Cache: true})
	recv(t, s)
	b.Publish(&SendCmd{Topic: "t", Msg: "next", Delivery: DeliveryAll, Cache: true})
	got := recv(t, s)
	assert.EqualValues(t, 10, got["index"])
}

func msgName(i int) string {
	return "hello" + string(rune('0'+i))
}
