package ai

import (
	"strings"

	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/model/persona"
)

const transcriptHeader = "Histórico da conversa:\n"

// Render builds the prompt sent to the model: the persona preamble, an
// optional transcript of recent turns, the new utterance and an open
// assistant marker. It has no side effects.
func Render(p persona.Persona, recent []chat.Turn, utterance string) string {
	var builder strings.Builder
	builder.WriteString(p.Preamble)
	builder.WriteString("\n\n")

	if len(recent) > 0 {
		builder.WriteString(transcriptHeader)
		for _, turn := range recent {
			builder.WriteString(roleLabel(p, turn.Role))
			builder.WriteString(": ")
			builder.WriteString(turn.Content)
			builder.WriteString("\n")
		}
	}

	builder.WriteString("\n")
	builder.WriteString(p.UserLabel)
	builder.WriteString(": ")
	builder.WriteString(utterance)
	builder.WriteString("\n")
	builder.WriteString(p.AssistantLabel)
	builder.WriteString(":")
	return builder.String()
}

func roleLabel(p persona.Persona, role chat.Role) string {
	if role == chat.RoleUser {
		return p.UserLabel
	}
	return p.AssistantLabel
}

// PromptBuilder renders prompts under an optional token budget.
type PromptBuilder struct {
	counter   TokenCounter
	maxTokens int
}

// NewPromptBuilder returns a builder. maxTokens <= 0 disables the budget and
// counter may be nil in that case.
func NewPromptBuilder(counter TokenCounter, maxTokens int) *PromptBuilder {
	if counter == nil {
		maxTokens = 0
	}
	return &PromptBuilder{counter: counter, maxTokens: maxTokens}
}

// Build drops the oldest transcript turns until the prompt fits the budget,
// then renders it. The persona preamble and the utterance are never dropped.
func (b *PromptBuilder) Build(p persona.Persona, recent []chat.Turn, utterance string) string {
	prompt := Render(p, recent, utterance)
	if b == nil || b.maxTokens <= 0 {
		return prompt
	}

	for len(recent) > 0 && b.counter.CountTokens(prompt) > b.maxTokens {
		recent = recent[1:]
		prompt = Render(p, recent, utterance)
	}
	return prompt
}
