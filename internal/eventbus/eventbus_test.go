package eventbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/eventbus"
)

func TestPublish_CallsSubscriberWithEvent(t *testing.T) {
	b := eventbus.New()
	var got eventbus.EncodeEvent
	b.Subscribe(func(e eventbus.EncodeEvent) { got = e })

	b.Publish(eventbus.EncodeEvent{Topic: "cooking", ExchangeID: "e1", PromptMessage: "hi"})

	assert.Equal(t, "cooking", got.Topic)
	assert.Equal(t, "e1", got.ExchangeID)
	assert.Equal(t, "hi", got.PromptMessage)
}

func TestPublish_CallsMultipleSubscribersInOrder(t *testing.T) {
	b := eventbus.New()
	var order []int
	b.Subscribe(func(eventbus.EncodeEvent) { order = append(order, 1) })
	b.Subscribe(func(eventbus.EncodeEvent) { order = append(order, 2) })

	b.Publish(eventbus.EncodeEvent{Topic: "t"})

	require.Equal(t, []int{1, 2}, order)
}

func TestPublish_RecoversFromPanickingHandler(t *testing.T) {
	b := eventbus.New()
	called := false
	b.Subscribe(func(eventbus.EncodeEvent) { panic("boom") })
	b.Subscribe(func(eventbus.EncodeEvent) { called = true })

	assert.NotPanics(t, func() {
		b.Publish(eventbus.EncodeEvent{Topic: "t"})
	})
	assert.True(t, called)
}
