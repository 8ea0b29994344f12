package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ArkModel runs the rendered prompt through an eino chain backed by a chat model.
type ArkModel struct {
	name  string
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkModel compiles a single-message chain around chatModel.
func NewArkModel(ctx context.Context, chatModel model.BaseChatModel, name string) (*ArkModel, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkModel{name: name, chain: runnable}, nil
}

func (m *ArkModel) Name() string { return m.name }

func (m *ArkModel) Generate(ctx context.Context, p string) (string, error) {
	response, err := m.chain.Invoke(ctx, map[string]any{"prompt": p})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("AI chain returned no message")
	}
	return response.Content, nil
}
