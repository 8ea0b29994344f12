// Package chat orchestrates a conversational turn: persist the utterance,
// gather context, generate a reply and persist it.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vettalaw/backend/internal/events"
	"github.com/zhouzirui/vettalaw/backend/internal/metrics"
	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/model/persona"
	"github.com/zhouzirui/vettalaw/backend/internal/service/ai"
	"github.com/zhouzirui/vettalaw/backend/internal/storage"
)

// ErrEmptyMessage rejects a turn whose message is blank.
var ErrEmptyMessage = errors.New("currentMessage must not be empty")

// persistTimeout bounds the assistant write, which outlives a disconnected request.
const persistTimeout = 10 * time.Second

// EventPublisher receives conversation lifecycle events.
type EventPublisher interface {
	TurnCompleted(ctx context.Context, ev events.TurnCompleted) error
	HistoryCleared(ctx context.Context, ev events.HistoryCleared) error
}

// Options bounds the context window.
type Options struct {
	// HistoryLimit is how many earlier turns are fetched from the store. The
	// turn being answered is fetched on top of it and never counts.
	HistoryLimit int
	// PromptLimit is how many of those earlier turns reach the prompt; never
	// above HistoryLimit. With enough history exactly PromptLimit are rendered.
	PromptLimit int
	// SerializeTurns runs one turn at a time.
	SerializeTurns bool
}

// DefaultOptions mirrors the deployed service: fetch 10, prompt with 5.
func DefaultOptions() Options {
	return Options{HistoryLimit: 10, PromptLimit: 5}
}

// Option customises a Service.
type Option func(*Service)

// WithEvents publishes turn and clear events to p.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics records turn metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// TurnRequest is one incoming utterance. History is accepted for client
// compatibility but the store is the only source of context.
type TurnRequest struct {
	Message string
	History []chat.Turn
}

// TurnResult carries the reply. Persisted is false when the assistant turn
// could not be stored; the reply is still valid.
type TurnResult struct {
	Reply         string
	Persisted     bool
	UserTurn      chat.Turn
	AssistantTurn chat.Turn
}

// Service is the chat orchestrator.
type Service struct {
	store     storage.Store
	generator ai.Generator
	builder   *ai.PromptBuilder
	persona   persona.Persona
	opts      Options
	events    EventPublisher
	metrics   *metrics.Metrics

	turnMu sync.Mutex
}

// NewService wires the orchestrator. Out of range limits fall back to defaults.
func NewService(store storage.Store, generator ai.Generator, builder *ai.PromptBuilder, p persona.Persona, opts Options, options ...Option) *Service {
	defaults := DefaultOptions()
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.PromptLimit <= 0 || opts.PromptLimit > opts.HistoryLimit {
		opts.PromptLimit = min(defaults.PromptLimit, opts.HistoryLimit)
	}
	if generator == nil {
		generator = ai.Unconfigured{}
	}

	s := &Service{
		store:     store,
		generator: generator,
		builder:   builder,
		persona:   p,
		opts:      opts,
	}
	for _, apply := range options {
		apply(s)
	}
	return s
}

// AIConfigured reports whether replies come from a real model.
func (s *Service) AIConfigured() bool { return s.generator.Configured() }

// Persona returns the active persona.
func (s *Service) Persona() persona.Persona { return s.persona }

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Turn runs the full turn for req.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	start := time.Now()
	if strings.TrimSpace(req.Message) == "" {
		s.metrics.ObserveTurn(metrics.OutcomeRejected, time.Since(start))
		return TurnResult{}, ErrEmptyMessage
	}
	if len(req.History) > 0 {
		log.Debug().Int("history_len", len(req.History)).Msg("ignoring caller-supplied history")
	}

	if s.opts.SerializeTurns {
		s.turnMu.Lock()
		defer s.turnMu.Unlock()
	}

	userTurn, err := s.store.Append(ctx, chat.RoleUser, req.Message)
	if err != nil {
		s.storageFailed("append", err, start)
		return TurnResult{}, err
	}

	recent, err := s.store.ListRecent(ctx, s.opts.HistoryLimit+1)
	if err != nil {
		s.storageFailed("list_recent", err, start)
		return TurnResult{}, err
	}
	window := contextWindow(recent, userTurn.ID, s.opts.PromptLimit)

	prompt := s.builder.Build(s.persona, window, req.Message)
	generated := s.generator.Generate(ctx, prompt)
	s.metrics.ObserveGeneration(s.generationLabel(generated))

	result := TurnResult{Reply: generated.Reply(), UserTurn: userTurn}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	assistantTurn, err := s.store.Append(persistCtx, chat.RoleAssistant, result.Reply)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeUnpersisted
		s.metrics.StorageError("append")
		log.Error().
			Err(err).
			Str("turn_id", userTurn.ID).
			Msg("assistant reply not persisted, returning it anyway")
	} else {
		result.Persisted = true
		result.AssistantTurn = assistantTurn
	}

	elapsed := time.Since(start)
	s.metrics.ObserveTurn(outcome, elapsed)
	s.publishTurn(persistCtx, result, generated, len(window), elapsed)

	log.Info().
		Str("turn_id", userTurn.ID).
		Int("context_turns", len(window)).
		Bool("persisted", result.Persisted).
		Dur("duration", elapsed).
		Msg("chat turn completed")
	return result, nil
}

// History returns the whole conversation, oldest first.
func (s *Service) History(ctx context.Context) ([]chat.Turn, error) {
	turns, err := s.store.ListAll(ctx)
	if err != nil {
		s.metrics.StorageError("list_all")
		return nil, err
	}
	return turns, nil
}

// Clear deletes the conversation and reports how many turns were removed.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	deleted, err := s.store.ClearAll(ctx)
	if err != nil {
		s.metrics.StorageError("clear_all")
		return 0, err
	}
	s.metrics.HistoryCleared(deleted)

	if s.events != nil {
		ev := events.HistoryCleared{Deleted: deleted, At: time.Now().UTC()}
		if err := s.events.HistoryCleared(context.WithoutCancel(ctx), ev); err != nil {
			log.Warn().Err(err).Msg("failed to publish history cleared event")
		}
	}

	log.Info().Int64("deleted", deleted).Msg("chat history cleared")
	return deleted, nil
}

// contextWindow drops the turn being answered and keeps the last limit turns.
func contextWindow(recent []chat.Turn, currentID string, limit int) []chat.Turn {
	window := make([]chat.Turn, 0, len(recent))
	for _, turn := range recent {
		if turn.ID == currentID {
			continue
		}
		window = append(window, turn)
	}
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window
}

func (s *Service) generationLabel(r ai.Result) string {
	switch {
	case r.Failed():
		return string(r.Failure.Kind)
	case !s.generator.Configured():
		return "unconfigured"
	default:
		return "ok"
	}
}

func (s *Service) storageFailed(op string, err error, start time.Time) {
	s.metrics.StorageError(op)
	s.metrics.ObserveTurn(metrics.OutcomeStorage, time.Since(start))
	log.Error().Err(err).Str("op", op).Msg("chat turn aborted")
}

func (s *Service) publishTurn(ctx context.Context, result TurnResult, generated ai.Result, contextTurns int, elapsed time.Duration) {
	if s.events == nil {
		return
	}

	ev := events.TurnCompleted{
		UserTurnID:      result.UserTurn.ID,
		AssistantTurnID: result.AssistantTurn.ID,
		Persisted:       result.Persisted,
		AIConfigured:    s.generator.Configured(),
		ContextTurns:    contextTurns,
		DurationMS:      elapsed.Milliseconds(),
		At:              time.Now().UTC(),
	}
	if generated.Failed() {
		ev.FailureKind = string(generated.Failure.Kind)
		ev.FailureRef = generated.Failure.Ref
	}

	if err := s.events.TurnCompleted(ctx, ev); err != nil {
		log.Warn().Err(err).Str("turn_id", result.UserTurn.ID).Msg("failed to publish turn event")
	}
}
