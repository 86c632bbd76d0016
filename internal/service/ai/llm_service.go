// Package ai generates persona replies locally through an eino chat chain.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
)

// Service encapsulates AI-powered chat functionality
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	prompts      *PromptBuilder
	historyLimit int
	logger       zerolog.Logger
}

// NewServiceWithModel compiles the reply chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, historyLimit int, logger zerolog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:        runnable,
		prompts:      NewPromptBuilder(),
		historyLimit: historyLimit,
		logger:       logger,
	}, nil
}

// Reply generates the assistant text for req in the voice of p.
func (s *Service) Reply(ctx context.Context, p persona.Persona, req chat.ReplyRequest) (string, error) {
	start := time.Now()
	response, err := s.chain.Invoke(ctx, s.buildChainInput(p, req))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.logger.Debug().
		Str("persona", p.ID).
		Int("length", len(response.Content)).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("generated reply")
	return response.Content, nil
}

func (s *Service) buildChainInput(p persona.Persona, req chat.ReplyRequest) map[string]any {
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(p),
		"history": s.buildHistoryMessages(req.History),
		"query":   req.Message,
	}
}

func (s *Service) buildHistoryMessages(entries []chat.HistoryEntry) []*schema.Message {
	if len(entries) == 0 {
		return nil
	}

	startIdx := 0
	if s.historyLimit > 0 && len(entries) > s.historyLimit {
		startIdx = len(entries) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(entries)-startIdx)
	for _, entry := range entries[startIdx:] {
		switch entry.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(entry.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(entry.Content, nil))
		}
	}
	return history
}
