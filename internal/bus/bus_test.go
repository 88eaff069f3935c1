package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flatshare/internal/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishSubscribe(t *testing.T) {
	b := New(Config{Buffer: 2, Logger: quiet()})
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "hi"})

	msg := <-b.Subscribe()
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.Timestamp.IsZero(), "publish stamps the message")
}

func TestPublish_DropsAfterTimeout(t *testing.T) {
	b := New(Config{Buffer: 1, PublishTimeout: 10 * time.Millisecond, Logger: quiet()})
	b.Publish(domain.InboundMessage{Content: "one"})
	b.Publish(domain.InboundMessage{Content: "two"})

	assert.EqualValues(t, 1, b.Dropped())
	assert.Equal(t, "one", (<-b.Subscribe()).Content)
}

func TestPublish_WaitsForRoom(t *testing.T) {
	b := New(Config{Buffer: 1, PublishTimeout: time.Second, Logger: quiet()})
	b.Publish(domain.InboundMessage{Content: "one"})

	done := make(chan struct{})
	go func() {
		b.Publish(domain.InboundMessage{Content: "two"})
		close(done)
	}()
	assert.Equal(t, "one", (<-b.Subscribe()).Content)
	<-done
	assert.Equal(t, "two", (<-b.Subscribe()).Content)
	assert.Zero(t, b.Dropped())
}

func TestSendOutbound_RoutesByChannel(t *testing.T) {
	b := New(Config{Logger: quiet()})
	var cli, tg []string
	b.OnOutbound("cli", func(m domain.OutboundMessage) { cli = append(cli, m.Content) })
	b.OnOutbound("telegram", func(m domain.OutboundMessage) { tg = append(tg, m.Content) })

	b.SendOutbound(domain.OutboundMessage{Channel: "cli", Content: "a"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "b"})
	b.SendOutbound(domain.OutboundMessage{Channel: "nowhere", Content: "c"})

	assert.Equal(t, []string{"a"}, cli)
	assert.Equal(t, []string{"b"}, tg)
}

func TestClose_Idempotent(t *testing.T) {
	b := New(Config{Logger: quiet()})
	b.Close()
	b.Close()
	b.Publish(domain.InboundMessage{Content: "late"})

	_, ok := <-b.Subscribe()
	require.False(t, ok)
}
