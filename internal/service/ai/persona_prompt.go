package ai

import (
	"fmt"
	"strings"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
)

// PromptBuilder renders the system prompt for a persona, including the inline
// tag grammar the persona is allowed to use.
type PromptBuilder struct {
	// Extra rules appended to every prompt.
	Rules []string
}

// NewPromptBuilder returns a builder with the default conversation rules.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		Rules: []string{
			"Отвечай на языке собеседника, коротко и живо, как в мессенджере.",
			"Никогда не упоминай, что ты языковая модель.",
			"Не используй разметку Markdown.",
		},
	}
}

// BuildSystemPrompt creates a comprehensive system prompt for the persona
func (b *PromptBuilder) BuildSystemPrompt(p persona.Persona) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Ты %s, %s.\n\n", p.Name, strings.ToLower(p.Title))
	sb.WriteString("Характер:\n")
	fmt.Fprintf(&sb, "- Тон: %s\n", p.Tone)
	if p.PromptHint != "" {
		fmt.Fprintf(&sb, "- %s\n", p.PromptHint)
	}

	if tags := b.tagGrammar(p); tags != "" {
		sb.WriteString("\nВ ответ можно вставлять специальные теги:\n")
		sb.WriteString(tags)
	} else {
		sb.WriteString("\nНе используй никаких тегов в квадратных скобках.\n")
	}

	if len(b.Rules) > 0 {
		sb.WriteString("\nПравила:\n")
		for _, rule := range b.Rules {
			fmt.Fprintf(&sb, "- %s\n", rule)
		}
	}

	if p.OpeningLine != "" {
		fmt.Fprintf(&sb, "\nПример приветствия: %s", p.OpeningLine)
	}
	return strings.TrimSpace(sb.String())
}

func (b *PromptBuilder) tagGrammar(p persona.Persona) string {
	var sb strings.Builder
	if p.Tags.Sticker {
		sb.WriteString("- [sticker:<id>]: стикер, например [sticker:love]\n")
	}
	if p.Tags.Voice {
		if p.Tags.VoiceMood {
			moods := make([]string, 0, len(emotion.Labels))
			for _, label := range emotion.Labels {
				moods = append(moods, string(label))
			}
			fmt.Fprintf(&sb, "- [voice:<настроение>:<текст>]: голосовое сообщение; настроение одно из: %s\n", strings.Join(moods, ", "))
		} else {
			sb.WriteString("- [voice:<текст>]: короткое голосовое сообщение\n")
		}
	}
	if p.Tags.Photo {
		sb.WriteString("- [photo:<id>]: фотография, например [photo:beach]\n")
	}
	return sb.String()
}
