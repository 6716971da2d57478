package rabbitmq

import (
	"bytes"
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kind       string
	published  []published
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kind = kind
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_DeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	_, err := NewPublisher(ch, "escrow.events")
	require.NoError(t, err)
	assert.Equal(t, []string{"escrow.events"}, ch.declared)
	assert.Equal(t, amqp.ExchangeTopic, ch.kind)
}

func TestPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "escrow.events")
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "deal.created", []byte(`{"type":"deal.created"}`)))
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, "escrow.events", got.exchange)
	assert.Equal(t, "deal.created", got.key)
	assert.Equal(t, uint8(amqp.Persistent), got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	p, err := NewPublisher(ch, "escrow.events")
	require.NoError(t, err)

	err = p.Publish(context.Background(), "deal.refunded", []byte(`{}`))
	assert.True(t, errors.Is(err, amqp.ErrClosed))
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))
	require.NoError(t, p.Publish(context.Background(), "balance.topup_completed", []byte(`{"amount":"5000.00"}`)))
	assert.Contains(t, buf.String(), `"routing_key":"balance.topup_completed"`)
	assert.Contains(t, buf.String(), `"amount":"5000.00"`)
}
