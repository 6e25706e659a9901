package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TickCompleted})

	ea := <-a
	ec := <-c
	assert.Equal(t, TickCompleted, ea.Type)
	assert.Equal(t, TickCompleted, ec.Type)
	assert.False(t, ea.Time.IsZero())
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: InstanceStarted})
	b.Publish(Event{Type: InstanceCompleted})

	assert.Equal(t, uint64(1), b.Dropped())
	e := <-ch
	assert.Equal(t, InstanceStarted, e.Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: ConfigReloaded})
}
