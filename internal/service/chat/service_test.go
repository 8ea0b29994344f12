package chat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vettalaw/backend/internal/events"
	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/model/persona"
	"github.com/zhouzirui/vettalaw/backend/internal/service/ai"
	chatService "github.com/zhouzirui/vettalaw/backend/internal/service/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/storage"
)

// recordingGenerator answers with a fixed reply and remembers every prompt.
type recordingGenerator struct {
	mu      sync.Mutex
	reply   string
	failure *ai.Failure
	prompts []string
}

func (g *recordingGenerator) Configured() bool { return true }

func (g *recordingGenerator) Generate(_ context.Context, prompt string) ai.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.failure != nil {
		return ai.Result{Failure: g.failure}
	}
	return ai.Result{Text: g.reply}
}

func (g *recordingGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// flakyStore fails selected operations of an otherwise working store.
type flakyStore struct {
	storage.Store
	failUserAppend      bool
	failAssistantAppend bool
	failList            bool
}

var errBackend = errors.New("backend down")

func (s *flakyStore) Append(ctx context.Context, role chat.Role, content string) (chat.Turn, error) {
	if (role == chat.RoleUser && s.failUserAppend) || (role == chat.RoleAssistant && s.failAssistantAppend) {
		return chat.Turn{}, &storage.Error{Op: "append", Err: errBackend}
	}
	return s.Store.Append(ctx, role, content)
}

func (s *flakyStore) ListRecent(ctx context.Context, n int) ([]chat.Turn, error) {
	if s.failList {
		return nil, &storage.Error{Op: "list_recent", Err: errBackend}
	}
	return s.Store.ListRecent(ctx, n)
}

type recordingEvents struct {
	turns   []events.TurnCompleted
	cleared []events.HistoryCleared
}

func (r *recordingEvents) TurnCompleted(_ context.Context, ev events.TurnCompleted) error {
	r.turns = append(r.turns, ev)
	return nil
}

func (r *recordingEvents) HistoryCleared(_ context.Context, ev events.HistoryCleared) error {
	r.cleared = append(r.cleared, ev)
	return nil
}

func newService(store storage.Store, gen ai.Generator, opts chatService.Options, options ...chatService.Option) *chatService.Service {
	return chatService.NewService(store, gen, ai.NewPromptBuilder(nil, 0), persona.Default(), opts, options...)
}

func TestTurnPersistsBothTurns(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gen := &recordingGenerator{reply: "O prazo geral é de 15 dias úteis."}
	svc := newService(store, gen, chatService.DefaultOptions())

	res, err := svc.Turn(ctx, chatService.TurnRequest{Message: "Qual o prazo para recurso?"})
	require.NoError(t, err)
	assert.Equal(t, gen.reply, res.Reply)
	assert.True(t, res.Persisted)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	assert.Equal(t, "Qual o prazo para recurso?", history[0].Content)
	assert.Equal(t, chat.RoleAssistant, history[1].Role)
	assert.Equal(t, res.Reply, history[1].Content)
	assert.Equal(t, res.UserTurn.ID, history[0].ID)
	assert.Equal(t, res.AssistantTurn.ID, history[1].ID)
}

func TestTurnRejectsEmptyMessage(t *testing.T) {
	store := storage.NewMemoryStore()
	gen := &recordingGenerator{reply: "x"}
	svc := newService(store, gen, chatService.DefaultOptions())

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := svc.Turn(context.Background(), chatService.TurnRequest{Message: msg})
		assert.ErrorIs(t, err, chatService.ErrEmptyMessage)
	}

	turns, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.Empty(t, gen.prompts)
}

func TestTurnAbortsWhenUserTurnCannotBeStored(t *testing.T) {
	store := &flakyStore{Store: storage.NewMemoryStore(), failUserAppend: true}
	gen := &recordingGenerator{reply: "x"}
	svc := newService(store, gen, chatService.DefaultOptions())

	_, err := svc.Turn(context.Background(), chatService.TurnRequest{Message: "Olá"})
	require.Error(t, err)
	assert.True(t, storage.IsStorageError(err))
	assert.Empty(t, gen.prompts, "no generation without a persisted prompt")
}

func TestTurnAbortsWhenContextCannotBeFetched(t *testing.T) {
	store := &flakyStore{Store: storage.NewMemoryStore(), failList: true}
	gen := &recordingGenerator{reply: "x"}
	svc := newService(store, gen, chatService.DefaultOptions())

	_, err := svc.Turn(context.Background(), chatService.TurnRequest{Message: "Olá"})
	require.Error(t, err)
	assert.True(t, storage.IsStorageError(err))
	assert.Empty(t, gen.prompts)
}

func TestTurnReturnsReplyWhenAssistantTurnIsLost(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &flakyStore{Store: mem, failAssistantAppend: true}
	gen := &recordingGenerator{reply: "Resposta"}
	svc := newService(store, gen, chatService.DefaultOptions())

	res, err := svc.Turn(context.Background(), chatService.TurnRequest{Message: "Olá"})
	require.NoError(t, err)
	assert.Equal(t, "Resposta", res.Reply)
	assert.False(t, res.Persisted)
	assert.Empty(t, res.AssistantTurn.ID)

	turns, err := mem.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, chat.RoleUser, turns[0].Role)
}

func TestTurnWithoutModelStoresNotice(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(store, ai.Unconfigured{}, chatService.DefaultOptions())
	assert.False(t, svc.AIConfigured())

	res, err := svc.Turn(context.Background(), chatService.TurnRequest{Message: "Olá"})
	require.NoError(t, err)
	assert.Equal(t, ai.NotConfiguredNotice, res.Reply)
	assert.True(t, res.Persisted)
}

func TestTurnAbsorbsGenerationFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	gen := &recordingGenerator{failure: &ai.Failure{Kind: ai.FailureTimeout, Ref: "abc12345", Err: context.DeadlineExceeded}}
	rec := &recordingEvents{}
	svc := newService(store, gen, chatService.DefaultOptions(), chatService.WithEvents(rec))

	res, err := svc.Turn(context.Background(), chatService.TurnRequest{Message: "Olá"})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "abc12345")
	assert.True(t, strings.HasPrefix(res.Reply, "Desculpe"))

	require.Len(t, rec.turns, 1)
	assert.Equal(t, "timeout", rec.turns[0].FailureKind)
	assert.Equal(t, "abc12345", rec.turns[0].FailureRef)
	assert.True(t, rec.turns[0].Persisted)
}

func TestPromptExcludesCurrentTurnAndIsBounded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for i := 0; i < 6; i++ {
		_, err := store.Append(ctx, chat.RoleUser, "pergunta antiga "+string(rune('A'+i)))
		require.NoError(t, err)
	}

	gen := &recordingGenerator{reply: "ok"}
	svc := newService(store, gen, chatService.Options{HistoryLimit: 4, PromptLimit: 2})

	_, err := svc.Turn(ctx, chatService.TurnRequest{Message: "pergunta nova"})
	require.NoError(t, err)

	prompt := gen.lastPrompt()
	assert.Equal(t, 1, strings.Count(prompt, "pergunta nova"), "current utterance appears once")
	assert.Contains(t, prompt, "pergunta antiga E")
	assert.Contains(t, prompt, "pergunta antiga F")
	assert.NotContains(t, prompt, "pergunta antiga D")
	assert.True(t, strings.HasSuffix(prompt, "Advogado: pergunta nova\nMaia:"))
}

func TestFirstTurnHasNoTranscript(t *testing.T) {
	gen := &recordingGenerator{reply: "ok"}
	svc := newService(storage.NewMemoryStore(), gen, chatService.DefaultOptions())

	_, err := svc.Turn(context.Background(), chatService.TurnRequest{Message: "Qual o prazo para recurso?"})
	require.NoError(t, err)
	assert.NotContains(t, gen.lastPrompt(), "Histórico da conversa")
}

func TestCallerHistoryIsIgnored(t *testing.T) {
	gen := &recordingGenerator{reply: "ok"}
	svc := newService(storage.NewMemoryStore(), gen, chatService.DefaultOptions())

	_, err := svc.Turn(context.Background(), chatService.TurnRequest{
		Message: "Olá",
		History: []chat.Turn{{Role: chat.RoleUser, Content: "injetado pelo cliente"}},
	})
	require.NoError(t, err)
	assert.NotContains(t, gen.lastPrompt(), "injetado pelo cliente")
}

func TestClearReportsCountAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec := &recordingEvents{}
	svc := newService(storage.NewMemoryStore(), &recordingGenerator{reply: "ok"}, chatService.DefaultOptions(), chatService.WithEvents(rec))

	_, err := svc.Turn(ctx, chatService.TurnRequest{Message: "Olá"})
	require.NoError(t, err)

	deleted, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.Len(t, rec.cleared, 2)
	assert.Equal(t, int64(2), rec.cleared[0].Deleted)
}

func TestSerializedTurnsKeepPairsTogether(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	opts := chatService.DefaultOptions()
	opts.SerializeTurns = true
	svc := newService(store, &recordingGenerator{reply: "ok"}, opts)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Turn(ctx, chatService.TurnRequest{Message: "Olá"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 16)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, chat.RoleUser, turns[i].Role)
		assert.Equal(t, chat.RoleAssistant, turns[i+1].Role)
	}
}

func TestNewServiceClampsPromptLimit(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for i := 0; i < 4; i++ {
		_, err := store.Append(ctx, chat.RoleUser, "turno "+string(rune('A'+i)))
		require.NoError(t, err)
	}

	gen := &recordingGenerator{reply: "ok"}
	svc := newService(store, gen, chatService.Options{HistoryLimit: 3, PromptLimit: 9})

	_, err := svc.Turn(ctx, chatService.TurnRequest{Message: "nova"})
	require.NoError(t, err)
	assert.NotContains(t, gen.lastPrompt(), "turno A")
	assert.Contains(t, gen.lastPrompt(), "turno B")
	assert.Contains(t, gen.lastPrompt(), "turno D")
}

func TestPromptLimitEqualToHistoryLimitIsFilled(t *testing.T) {
	cases := []struct {
		name  string
		limit int
		want  []string
		drop  []string
	}{
		{name: "one", limit: 1, want: []string{"antigo 7"}, drop: []string{"antigo 6"}},
		{name: "three", limit: 3, want: []string{"antigo 5", "antigo 6", "antigo 7"}, drop: []string{"antigo 4"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryStore()
			for i := 0; i < 8; i++ {
				_, err := store.Append(ctx, chat.RoleUser, fmt.Sprintf("antigo %d", i))
				require.NoError(t, err)
			}

			gen := &recordingGenerator{reply: "ok"}
			svc := newService(store, gen, chatService.Options{HistoryLimit: tc.limit, PromptLimit: tc.limit})

			_, err := svc.Turn(ctx, chatService.TurnRequest{Message: "nova"})
			require.NoError(t, err)

			prompt := gen.lastPrompt()
			assert.Contains(t, prompt, "Histórico da conversa")
			for _, content := range tc.want {
				assert.Contains(t, prompt, content)
			}
			for _, content := range tc.drop {
				assert.NotContains(t, prompt, content)
			}
			assert.Equal(t, tc.limit, strings.Count(prompt, "Advogado: antigo"))
		})
	}
}
