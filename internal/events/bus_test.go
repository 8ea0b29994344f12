package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vettalaw/backend/internal/config"
)

func TestInProcessBusDeliversEvents(t *testing.T) {
	bus := NewInProcess("vettalaw", nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, TopicHistoryCleared)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.HistoryCleared(ctx, HistoryCleared{Deleted: 2, At: at}))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, TopicHistoryCleared, msg.Metadata.Get("event"))

		var ev HistoryCleared
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, int64(2), ev.Deleted)
		assert.True(t, at.Equal(ev.At))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestTopicPrefix(t *testing.T) {
	assert.Equal(t, "vettalaw.chat.turn.completed", NewInProcess("vettalaw", nil).Topic(TopicTurnCompleted))
	assert.Equal(t, TopicTurnCompleted, NewInProcess("", nil).Topic(TopicTurnCompleted))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewInProcess("", nil)
	defer bus.Close()
	assert.NoError(t, bus.TurnCompleted(context.Background(), TurnCompleted{UserTurnID: "u1", Persisted: true}))
}

func TestNewWithoutRedisLogsDiscardedEvents(t *testing.T) {
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	}()

	bus, err := New(config.EventsConfig{TopicPrefix: "vettalaw"})
	require.NoError(t, err)
	defer bus.Close()

	assert.Contains(t, buf.String(), "dropped without subscribers")
	assert.Equal(t, "vettalaw.chat.history.cleared", bus.Topic(TopicHistoryCleared))
}
