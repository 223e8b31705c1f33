package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/digest"
)

func TestBroker_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-1")
	defer cancel()

	b.publish("user-1", "hello")

	select {
	case got := <-ch:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestBroker_PublishIgnoresOtherUsers(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-1")
	defer cancel()

	b.publish("user-2", "hello")

	select {
	case <-ch:
		t.Fatal("subscriber for user-1 should not receive user-2's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_CancelClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-1")
	cancel()

	_, open := <-ch
	assert.False(t, open)
}

func TestBroker_PublishDropsWhenSubscriberBufferFull(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe("user-1")
	defer cancel()

	for i := 0; i < eventBufferSize+5; i++ {
		b.publish("user-1", "msg")
	}
	// Should not block or panic; buffer overflow is dropped silently.
}

func TestToolResultDelivery_PublishesResponseText(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-1")
	defer cancel()

	d := ToolResultDelivery{Broker: b, UserID: "user-1"}
	err := d.Deliver(context.Background(), digest.Request{Message: "q"}, digest.Response{Text: "the answer"})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "the answer", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered tool result")
	}
}

func TestDriftDelivery_PublishesContent(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-1")
	defer cancel()

	d := DriftDelivery{Broker: b}
	err := d.Deliver(context.Background(), "user-1", "a drift thought")
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "a drift thought", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered drift content")
	}
}

func TestJSONString_EscapesQuotes(t *testing.T) {
	assert.Equal(t, `"hello \"world\""`, jsonString(`hello "world"`))
}
