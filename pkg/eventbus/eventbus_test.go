package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishMatchesFilter(t *testing.T) {
	bus := New(zap.NewNop())

	var stateChanges, submissions []Event
	bus.Subscribe("validation.state_changed", func(e Event) { stateChanges = append(stateChanges, e) })
	bus.Subscribe("validation.submission", func(e Event) { submissions = append(submissions, e) })

	bus.Publish("v-1", "validation.state_changed", nil)
	bus.Publish("v-1", "validation.state_changed", nil)
	bus.Publish("v-2", "validation.submission", nil)

	assert.Len(t, stateChanges, 2)
	require.Len(t, submissions, 1)
	assert.Equal(t, "v-2", submissions[0].ValidationID)
}

func TestWildcardReceivesEverything(t *testing.T) {
	bus := New(zap.NewNop())

	var got []string
	bus.Subscribe(Wildcard, func(e Event) { got = append(got, e.Type) })

	bus.Publish("v-1", "validation.submission", nil)
	bus.Publish("v-1", "validation.state_changed", nil)

	assert.Equal(t, []string{"validation.submission", "validation.state_changed"}, got)
}

func TestDeliveryInRegistrationOrder(t *testing.T) {
	bus := New(zap.NewNop())

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(Wildcard, func(Event) { order = append(order, i) })
	}
	bus.Publish("v-1", "validation.submission", nil)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := New(zap.NewNop())

	var delivered bool
	bus.Subscribe(Wildcard, func(Event) { panic("bad subscriber") })
	bus.Subscribe(Wildcard, func(Event) { delivered = true })

	bus.Publish("v-1", "validation.submission", nil)

	assert.True(t, delivered, "delivery must continue past a panicking subscriber")
	assert.Equal(t, uint64(1), bus.FaultCount())
}

func TestUnsubscribe(t *testing.T) {
	bus := New(zap.NewNop())

	var first, second int
	id := bus.Subscribe(Wildcard, func(Event) { first++ })
	bus.Subscribe(Wildcard, func(Event) { second++ })

	bus.Publish("v-1", "validation.submission", nil)
	require.True(t, bus.Unsubscribe(id))
	bus.Publish("v-1", "validation.submission", nil)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, bus.SubscriptionCount())

	assert.False(t, bus.Unsubscribe("unknown-id"))
	assert.False(t, bus.Unsubscribe(id), "double unsubscribe returns false")
}

func TestAsyncDelivery(t *testing.T) {
	bus := New(zap.NewNop(), WithWorkers(4, 64))

	var mu sync.Mutex
	seen := make(map[string]int)
	bus.Subscribe(Wildcard, func(e Event) {
		mu.Lock()
		seen[e.ValidationID]++
		mu.Unlock()
	})

	bus.Publish("v-1", "validation.submission", nil)
	bus.Publish("v-2", "validation.submission", nil)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen["v-1"])
	assert.Equal(t, 1, seen["v-2"])
}

func TestAsyncOrderWithinEvent(t *testing.T) {
	bus := New(zap.NewNop(), WithWorkers(1, 8))

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(Wildcard, func(Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	bus.Publish("v-1", "validation.submission", nil)
	bus.Close()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(zap.NewNop())

	var count int
	var mu sync.Mutex
	bus.Subscribe(Wildcard, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish("v-1", "validation.feedback_added", nil)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish deadlocked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, count)
}
