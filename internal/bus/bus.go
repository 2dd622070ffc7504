// Package bus provides the in-process publish/subscribe fabric
// internal/trust uses to broadcast trust-store changes (no other package
// publishes to it), per spec.md §5's event-driven component
// wiring. Grounded on the watermill/gochannel wiring in
// other_examples/6d190cd8_liverty-music-backend's DI provider.
package bus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/pkg/ids"
)

// Bus wraps an in-process watermill GoChannel pubsub. Every publish/
// subscribe call in this repo goes through a single Bus instance shared
// by the supervisor tree.
type Bus struct {
	channel *gochannel.GoChannel
}

// New creates a Bus backed by a buffered GoChannel, logging through log
// via a watermill.LoggerAdapter shim.
func New(log zerolog.Logger) *Bus {
	wmLogger := zerologAdapter{log: log}
	channel := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, wmLogger)
	return &Bus{channel: channel}
}

// Close shuts the underlying pubsub down, per message.Publisher/
// Subscriber's Close contract.
func (b *Bus) Close() error {
	return b.channel.Close()
}

// Publish marshals payload as JSON and publishes it to topic.
func (b *Bus) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return ids.Wrap(ids.KindInternal, "bus: marshal payload", err)
	}
	msg := message.NewMessage(uuid.NewString(), body)
	if err := b.channel.Publish(topic, msg); err != nil {
		return ids.Wrap(ids.KindInternal, "bus: publish", err)
	}
	return nil
}

// Subscribe returns a channel of watermill messages for topic, each
// carrying the JSON payload Publish marshaled. Callers unmarshal each
// message's Payload into their own event type and must Ack/Nack it per
// watermill's delivery contract.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := b.channel.Subscribe(ctx, topic)
	if err != nil {
		return nil, ids.Wrap(ids.KindInternal, "bus: subscribe", err)
	}
	return msgs, nil
}

// zerologAdapter implements watermill.LoggerAdapter over a zerolog.Logger,
// the same role this repo's internal/logging gives zerolog everywhere
// else in the ambient stack.
type zerologAdapter struct {
	log zerolog.Logger
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{log: a.log.With().Fields(map[string]any(fields)).Logger()}
}
