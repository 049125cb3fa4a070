package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDrainFanOutToAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(Event{Kind: SessionLocked})

	assert.Equal(t, []Event{{Kind: SessionLocked}}, b.Drain(a))
	assert.Equal(t, []Event{{Kind: SessionLocked}}, b.Drain(c))
}

func TestDrainClearsQueueUntilNextPublish(t *testing.T) {
	b := New()
	id := b.Subscribe()
	b.Publish(Event{Kind: GroupCreated})

	assert.Len(t, b.Drain(id), 1)
	assert.Empty(t, b.Drain(id))
}

func TestUnsubscribeDropsQueuedEvents(t *testing.T) {
	b := New()
	id := b.Subscribe()
	b.Publish(Event{Kind: GroupCreated})
	b.Unsubscribe(id)

	assert.Nil(t, b.Drain(id))
}

func TestSubscribeAfterPublishMissesEarlierEvents(t *testing.T) {
	b := New()
	b.Publish(Event{Kind: GroupCreated})
	late := b.Subscribe()

	assert.Empty(t, b.Drain(late))
}

func TestPublishCarriesTypedPayload(t *testing.T) {
	b := New()
	id := b.Subscribe()
	b.Publish(Event{Kind: MessageReceived, Payload: MessageReceivedPayload{GroupIDHex: "g1", InnerEventJSON: "{}"}})

	events := b.Drain(id)
	payload := events[0].Payload.(MessageReceivedPayload)
	assert.Equal(t, "g1", payload.GroupIDHex)
}

func TestDrainUnknownSubscriberReturnsNil(t *testing.T) {
	b := New()
	assert.Nil(t, b.Drain(999))
}
