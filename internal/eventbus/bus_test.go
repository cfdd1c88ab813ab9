package eventbus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opted/inventory/internal/event"
)

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, evt.ID)
	return nil
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestBus_DispatchesInOrderToEverySubscriber(t *testing.T) {
	var buf bytes.Buffer
	bus := New(16, quietLogger(&buf))
	a, b := &collector{}, &collector{}
	bus.Subscribe("a", a)
	bus.Subscribe("b", b)
	bus.Start(context.Background())

	for _, id := range []string{"1", "2", "3"} {
		bus.Publish(context.Background(), event.DomainEvent{ID: id})
	}
	bus.Stop()

	assert.Equal(t, []string{"1", "2", "3"}, a.seen())
	assert.Equal(t, []string{"1", "2", "3"}, b.seen())
}

func TestBus_DrainsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	bus := New(16, quietLogger(&buf))
	c := &collector{}
	bus.Subscribe("c", c)

	for _, id := range []string{"1", "2"} {
		bus.Publish(context.Background(), event.DomainEvent{ID: id})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Start(ctx)
	<-bus.done

	assert.ElementsMatch(t, []string{"1", "2"}, c.seen())
}

func TestBus_DropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	bus := New(1, quietLogger(&buf))
	bus.Publish(context.Background(), event.DomainEvent{ID: "1", EventType: event.TypeEntryCreated})
	bus.Publish(context.Background(), event.DomainEvent{ID: "2", EventType: event.TypeEntryCreated})

	assert.Contains(t, buf.String(), "buffer full")
	assert.Contains(t, buf.String(), `"event_id":"2"`)
}

func TestBus_LogsHandlerErrors(t *testing.T) {
	var buf bytes.Buffer
	bus := New(4, quietLogger(&buf))
	bus.Subscribe("broken", HandlerFunc(func(context.Context, event.DomainEvent) error {
		return errors.New("boom")
	}))
	bus.Start(context.Background())
	bus.Publish(context.Background(), event.DomainEvent{ID: "1", EventType: event.TypeEntryDeleted})
	bus.Stop()

	require.Contains(t, buf.String(), `"handler":"broken"`)
	assert.Contains(t, buf.String(), "boom")
}

func TestLogConsumer(t *testing.T) {
	var buf bytes.Buffer
	evt := event.NewEntryDeleted(event.EntryDeletedPayload{UID: "0x10", Type: "Source", Actor: event.Actor{UID: "0x1", Name: "root"}})
	require.NoError(t, NewLogConsumer(quietLogger(&buf)).HandleEvent(context.Background(), evt))

	assert.Contains(t, buf.String(), `"event_type":"entry_deleted"`)
	assert.Contains(t, buf.String(), `"entry:0x10"`)
}
