package ai

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
)

type fakeChatModel struct {
	input []*schema.Message
	reply string
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.reply, nil)}), nil
}

func seedPersona(t *testing.T, id string) persona.Persona {
	t.Helper()
	for _, p := range persona.Seed() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("persona %s not seeded", id)
	return persona.Persona{}
}

func TestReplyRunsChain(t *testing.T) {
	fake := &fakeChatModel{reply: "Привет! [sticker:hi]"}
	svc, err := NewServiceWithModel(context.Background(), fake, 2, zerolog.Nop())
	require.NoError(t, err)

	history := []chat.HistoryEntry{
		{Role: chat.RoleUser, Content: "one"},
		{Role: chat.RoleAssistant, Content: "two"},
		{Role: chat.RoleUser, Content: "three"},
	}
	reply, err := svc.Reply(context.Background(), seedPersona(t, "alisa"), chat.ReplyRequest{Message: "как дела?", History: history})
	require.NoError(t, err)
	assert.Equal(t, "Привет! [sticker:hi]", reply)

	require.Len(t, fake.input, 4, "system + limited history + query")
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, "two", fake.input[1].Content)
	assert.Equal(t, schema.Assistant, fake.input[1].Role)
	assert.Equal(t, "three", fake.input[2].Content)
	assert.Equal(t, "как дела?", fake.input[3].Content)
}

func TestSystemPromptFollowsCapabilities(t *testing.T) {
	builder := NewPromptBuilder()

	alisa := builder.BuildSystemPrompt(seedPersona(t, "alisa"))
	assert.Contains(t, alisa, "Алиса")
	assert.Contains(t, alisa, "[photo:<id>]")
	assert.Contains(t, alisa, "[voice:<настроение>:<текст>]")

	maks := builder.BuildSystemPrompt(seedPersona(t, "maks"))
	assert.Contains(t, maks, "[sticker:<id>]")
	assert.Contains(t, maks, "[voice:<текст>]")
	assert.NotContains(t, maks, "[photo:")

	bare := builder.BuildSystemPrompt(persona.Persona{ID: "x", Name: "X", Title: "Test"})
	assert.True(t, strings.Contains(bare, "Не используй никаких тегов"), fmt.Sprintf("prompt: %s", bare))
}
