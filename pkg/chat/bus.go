package chat

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Bus is the pub/sub transport the broadcaster fans events out over.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// NewGoChannelBus builds the in-memory bus used when Redis Streams are not
// enabled. Single-process delivery only.
func NewGoChannelBus(logger zerolog.Logger) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, newWatermillLogger(logger))
	return &Bus{Publisher: ch, Subscriber: ch}
}

// NewRedisStreamBus builds a Redis Streams bus so room events reach every
// coordinator process sharing the Redis server. An empty consumer group
// gives fan-out delivery, which is what room broadcasts need.
func NewRedisStreamBus(client redis.UniversalClient, consumer string, logger zerolog.Logger) (*Bus, error) {
	wmLogger := newWatermillLogger(logger)
	marshaller := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, wmLogger)
	if err != nil {
		return nil, err
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaller,
		Consumer:     consumer,
	}, wmLogger)
	if err != nil {
		return nil, err
	}

	return &Bus{Publisher: pub, Subscriber: sub}, nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	if err := b.Publisher.Close(); err != nil {
		return err
	}
	return b.Subscriber.Close()
}

// watermillLogger adapts zerolog to watermill's LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := l.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return &watermillLogger{logger: logger}
}

func (l *watermillLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
