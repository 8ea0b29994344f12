// Package events publishes conversation lifecycle events over watermill.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vettalaw/backend/internal/config"
)

const (
	TopicTurnCompleted  = "chat.turn.completed"
	TopicHistoryCleared = "chat.history.cleared"
)

// TurnCompleted is emitted after every turn that reached generation.
type TurnCompleted struct {
	UserTurnID      string    `json:"user_turn_id"`
	AssistantTurnID string    `json:"assistant_turn_id,omitempty"`
	Persisted       bool      `json:"persisted"`
	AIConfigured    bool      `json:"ai_configured"`
	FailureKind     string    `json:"failure_kind,omitempty"`
	FailureRef      string    `json:"failure_ref,omitempty"`
	ContextTurns    int       `json:"context_turns"`
	DurationMS      int64     `json:"duration_ms"`
	At              time.Time `json:"at"`
}

// HistoryCleared is emitted after the conversation was wiped.
type HistoryCleared struct {
	Deleted int64     `json:"deleted"`
	At      time.Time `json:"at"`
}

// Bus publishes events to a watermill publisher. The in-process variant can
// also be subscribed to.
type Bus struct {
	prefix     string
	publisher  message.Publisher
	subscriber message.Subscriber
	closers    []func() error
}

// New builds a Redis Streams bus when cfg.RedisEnabled is set and an
// in-process gochannel bus otherwise.
func New(cfg config.EventsConfig) (*Bus, error) {
	logger := newLoggerAdapter(log.Logger)
	if !cfg.RedisEnabled {
		log.Debug().Msg("redis streams disabled, chat events stay in process and are dropped without subscribers")
		return NewInProcess(cfg.TopicPrefix, logger), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("publishing chat events to redis streams")
	return &Bus{
		prefix:    cfg.TopicPrefix,
		publisher: pub,
		closers:   []func() error{pub.Close, client.Close},
	}, nil
}

// NewInProcess returns a bus backed by a watermill gochannel. Events published
// while nobody is subscribed are discarded; it serves tests and embedders that
// call Subscribe.
func NewInProcess(prefix string, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return &Bus{
		prefix:     prefix,
		publisher:  ch,
		subscriber: ch,
		closers:    []func() error{ch.Close},
	}
}

// Topic returns the fully qualified topic name.
func (b *Bus) Topic(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "." + name
}

func (b *Bus) TurnCompleted(ctx context.Context, ev TurnCompleted) error {
	return b.publish(ctx, TopicTurnCompleted, ev)
}

func (b *Bus) HistoryCleared(ctx context.Context, ev HistoryCleared) error {
	return b.publish(ctx, TopicHistoryCleared, ev)
}

func (b *Bus) publish(ctx context.Context, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	msg.Metadata.Set("event", name)

	if err := b.publisher.Publish(b.Topic(name), msg); err != nil {
		return errors.Wrapf(err, "publish %s", name)
	}
	return nil
}

// Subscribe streams messages for name. Only the in-process bus supports it.
func (b *Bus) Subscribe(ctx context.Context, name string) (<-chan *message.Message, error) {
	if b.subscriber == nil {
		return nil, errors.New("bus has no subscriber")
	}
	return b.subscriber.Subscribe(ctx, b.Topic(name))
}

// Close shuts down the publisher and any underlying client.
func (b *Bus) Close() error {
	var first error
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
