// Package app assembles the long-lived dependencies of the API process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vettalaw/backend/internal/config"
	"github.com/zhouzirui/vettalaw/backend/internal/events"
	"github.com/zhouzirui/vettalaw/backend/internal/handler"
	"github.com/zhouzirui/vettalaw/backend/internal/metrics"
	"github.com/zhouzirui/vettalaw/backend/internal/model/persona"
	"github.com/zhouzirui/vettalaw/backend/internal/service/ai"
	chatService "github.com/zhouzirui/vettalaw/backend/internal/service/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/storage"
)

const storeConnectTimeout = 10 * time.Second

// App 持有进程级依赖，启动时构建，退出时关闭。
type App struct {
	Config  *config.Config
	Store   storage.Store
	Events  *events.Bus
	Metrics *metrics.Metrics
	Chat    *chatService.Service
	Router  http.Handler
}

// New builds every dependency from cfg. A missing model credential is not an
// error; storage and event bus failures are.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	p, err := persona.LoadFile(cfg.PersonaFile)
	if err != nil {
		return nil, errors.Wrap(err, "load persona")
	}

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	bus, err := events.New(cfg.Events)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "create event bus")
	}

	builder := ai.NewPromptBuilder(nil, 0)
	if cfg.Chat.PromptMaxTokens > 0 {
		counter, err := ai.NewTiktokenCounter()
		if err != nil {
			log.Warn().Err(err).Msg("tokenizer unavailable, prompt token budget disabled")
		} else {
			builder = ai.NewPromptBuilder(counter, cfg.Chat.PromptMaxTokens)
		}
	}

	m := metrics.New()
	svc := chatService.NewService(
		store,
		ai.NewGenerator(ctx, cfg.AI),
		builder,
		p,
		chatService.Options{
			HistoryLimit:   cfg.Chat.HistoryLimit,
			PromptLimit:    cfg.Chat.PromptLimit,
			SerializeTurns: cfg.Chat.SerializeTurns,
		},
		chatService.WithEvents(bus),
		chatService.WithMetrics(m),
	)

	router := handler.NewRouter(svc, handler.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     m.Handler(),
	})

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("persona", p.ID).
		Bool("ai_configured", svc.AIConfigured()).
		Int("history_limit", cfg.Chat.HistoryLimit).
		Int("prompt_limit", cfg.Chat.PromptLimit).
		Msg("application initialized")

	return &App{
		Config:  cfg,
		Store:   store,
		Events:  bus,
		Metrics: m,
		Chat:    svc,
		Router:  router,
	}, nil
}

// OpenStore opens the backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store, chat history is lost on restart")
		return storage.NewMemoryStore(), nil
	case "sqlite":
		dsn, err := storage.SQLiteDSNForFile(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store, err := storage.NewSQLiteStore(ctx, dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite store")
		}
		return store, nil
	case "mongo":
		store, err := storage.NewMongoStore(ctx, storage.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return nil, errors.Wrap(err, "open mongo store")
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Close releases the event bus and the store.
func (a *App) Close() error {
	var first error
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			first = errors.Wrap(err, "close event bus")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "close store")
		}
	}
	return first
}
