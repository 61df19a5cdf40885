package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHub_PublishSubscribe(t *testing.T) {
	h := NewEventHub()
	a := h.Subscribe()
	b := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	h.Publish(CurveChanged, CurveChangedEvent{Kind: "gamma", Ts: 7})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, CurveChanged, ev.Name)
		p, err := DecodeAs[CurveChangedEvent](ev)
		require.NoError(t, err)
		assert.Equal(t, CurveChangedEvent{Kind: "gamma", Ts: 7}, p)
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok, "unsubscribed channel must be closed")
	assert.Equal(t, 1, h.Subscribers())
}

func TestEventHub_DropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(MeasurementTaken, MeasurementEvent{Luminance: float64(i)})
	}
	assert.Len(t, ch, subscriberBuffer)

	first, err := DecodeAs[MeasurementEvent](<-ch)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.Luminance)
}

func TestEventHub_NilAndBadPayload(t *testing.T) {
	var h *EventHub
	assert.NotPanics(t, func() { h.Publish(ConfigReloaded, nil) })

	h = NewEventHub()
	ch := h.Subscribe()
	h.Publish(ConfigReloaded, make(chan int))
	assert.Len(t, ch, 0)
}

func TestDecodeAs_Empty(t *testing.T) {
	p, err := DecodeAs[FileEvent](Event{Name: CalibrationSaved})
	require.NoError(t, err)
	assert.Equal(t, FileEvent{}, p)

	_, err = DecodeAs[FileEvent](Event{Data: []byte("{")})
	assert.Error(t, err)
}
