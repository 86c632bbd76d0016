// Package emotion picks the mood a voice snippet is spoken with when the
// reply did not name one. A chat model classifies the text; the keyword
// heuristic covers every failure.
package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	analysis "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
)

// minConfidence is the lowest model confidence accepted over the heuristic.
const minConfidence = 0.4

// Config 控制情绪分类器的行为。
type Config struct {
	Enabled bool
}

// Classifier 使用大模型判断语音片段的情绪，失败时回退到关键词规则。
type Classifier struct {
	enabled    bool
	classifier compose.Runnable[map[string]any, *schema.Message]
	fallback   func(text string) analysis.Label
	logger     zerolog.Logger
}

// NewClassifier 创建情绪分类器。chatModel 为空或未启用时只使用启发式规则。
func NewClassifier(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger zerolog.Logger) (*Classifier, error) {
	c := &Classifier{
		enabled:  cfg.Enabled && chatModel != nil,
		fallback: analysis.Infer,
		logger:   logger,
	}
	if !c.enabled {
		return c, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(moodSystemPrompt),
		schema.UserMessage(moodUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mood classifier chain: %w", err)
	}

	c.classifier = runnable
	return c, nil
}

// Enabled 返回是否使用大模型分类。
func (c *Classifier) Enabled() bool {
	return c != nil && c.enabled && c.classifier != nil
}

// Classify returns the mood for text spoken by p. It never fails.
func (c *Classifier) Classify(ctx context.Context, p persona.Persona, text string) analysis.Label {
	text = strings.TrimSpace(text)
	if !c.Enabled() || text == "" {
		return c.heuristic(text)
	}

	msg, err := c.classifier.Invoke(ctx, map[string]any{
		"persona": summarizePersona(p),
		"moods":   moodList(),
		"text":    text,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("mood classifier failed, using keywords")
		return c.heuristic(text)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return c.heuristic(text)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		c.logger.Warn().Err(err).Msg("mood classifier output unreadable, using keywords")
		return c.heuristic(text)
	}

	label, ok := analysis.Parse(result.Mood)
	if !ok || result.Confidence < minConfidence {
		return c.heuristic(text)
	}
	if label == analysis.Default {
		// the model found nothing; keywords may still
		if guess := c.heuristic(text); guess != analysis.Default {
			return guess
		}
	}

	c.logger.Debug().Str("persona", p.ID).Str("mood", string(label)).Float32("confidence", result.Confidence).Msg("mood classified")
	return label
}

func (c *Classifier) heuristic(text string) analysis.Label {
	if c == nil || c.fallback == nil {
		return analysis.Infer(text)
	}
	return c.fallback(text)
}

// parseClassifierOutput 解析大模型返回的 JSON。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	if payload.Confidence <= 0 {
		payload.Confidence = 0.6
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	return payload, nil
}

func summarizePersona(p persona.Persona) string {
	sections := []string{
		fmt.Sprintf("Имя: %s", strings.TrimSpace(p.Name)),
	}
	if title := strings.TrimSpace(p.Title); title != "" {
		sections = append(sections, fmt.Sprintf("Роль: %s", title))
	}
	if tone := strings.TrimSpace(p.Tone); tone != "" {
		sections = append(sections, fmt.Sprintf("Тон: %s", tone))
	}
	return strings.Join(sections, " | ")
}

func moodList() string {
	names := make([]string, 0, len(analysis.Labels))
	for _, label := range analysis.Labels {
		names = append(names, string(label))
	}
	return strings.Join(names, ", ")
}

type classifierPayload struct {
	Mood       string  `json:"mood"`
	Confidence float32 `json:"confidence"`
}

const moodSystemPrompt = "Ты определяешь, с какой интонацией персонаж должен произнести короткую реплику голосом. " +
	"Верни только JSON-объект с полями mood (одно из значений: {moods}) и confidence (число от 0 до 1). " +
	"Если интонация нейтральная, используй default. Никакого текста кроме JSON."

const moodUserPrompt = "Персонаж: {persona}\n\nРеплика:\n{text}"
