package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vettalaw/backend/internal/metrics"
	"github.com/zhouzirui/vettalaw/backend/internal/model/persona"
	"github.com/zhouzirui/vettalaw/backend/internal/service/ai"
	chatService "github.com/zhouzirui/vettalaw/backend/internal/service/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/storage"
)

type echoModel struct{}

func (echoModel) Name() string { return "echo" }

func (echoModel) Generate(context.Context, string) (string, error) {
	return "Em regra, 15 dias úteis.", nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	m := metrics.New()
	svc := chatService.NewService(
		storage.NewMemoryStore(),
		ai.NewModelGenerator(echoModel{}, 0),
		ai.NewPromptBuilder(nil, 0),
		persona.Default(),
		chatService.DefaultOptions(),
		chatService.WithMetrics(m),
	)
	return NewRouter(svc, RouterOptions{
		CORSOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		Metrics:     m.Handler(),
	})
}

func TestEndToEndScenario(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"ai_configured":true`)

	req = httptest.NewRequest(http.MethodPost, "/chat/quick", bytes.NewBufferString(`{"currentMessage":"Qual o prazo para recurso?"}`))
	req.Header.Set("Origin", "http://localhost:5173")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "http://localhost:5173", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"reply":"Em regra, 15 dias úteis."}`, resp.Body.String())

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chat/history", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var history struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "user", history.Messages[0].Role)
	assert.Equal(t, "Qual o prazo para recurso?", history.Messages[0].Content)
	assert.Equal(t, "ai", history.Messages[1].Role)
	assert.Equal(t, "Em regra, 15 dias úteis.", history.Messages[1].Content)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/chat/clear", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"deleted_count":2`)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `vettalaw_chat_turns_total{outcome="ok"} 1`)
	assert.Contains(t, resp.Body.String(), `vettalaw_history_cleared_turns_total 2`)
}

func TestPersonaAndHealthRoutes(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/persona", "/healthz"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestOriginAllowed(t *testing.T) {
	assert.Nil(t, originAllowed([]string{"*"}))

	check := originAllowed([]string{"http://localhost:3000"})
	assert.True(t, check("http://localhost:3000"))
	assert.False(t, check("http://localhost:8080"))
}
