// Package speech synthesizes the persona voice snippets embedded in replies.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/speech"
)

// ErrEmptyText is returned for snippets with nothing to say.
var ErrEmptyText = errors.New("speech: empty text")

// maxSnippetRunes bounds a single voice snippet.
const maxSnippetRunes = 500

// Synthesizer is the text-to-speech endpoint.
type Synthesizer interface {
	Synthesize(ctx context.Context, req speech.TTSRequest) (speech.TTSResponse, error)
}

// MoodClassifier guesses a mood for snippets tagged with the default mood.
type MoodClassifier interface {
	Classify(ctx context.Context, p persona.Persona, text string) emotion.Label
}

// Service 语音片段合成服务
type Service struct {
	tts    Synthesizer
	moods  MoodClassifier
	logger zerolog.Logger
}

// NewService 创建语音服务实例
func NewService(tts Synthesizer, logger zerolog.Logger) *Service {
	return &Service{tts: tts, logger: logger}
}

// WithClassifier replaces the keyword heuristic used for default moods.
func (s *Service) WithClassifier(moods MoodClassifier) *Service {
	s.moods = moods
	return s
}

// Enabled reports whether a TTS backend is wired.
func (s *Service) Enabled() bool {
	return s != nil && s.tts != nil
}

// Synthesize speaks text in p's voice with mood.
func (s *Service) Synthesize(ctx context.Context, p persona.Persona, text string, mood emotion.Label) (speech.TTSResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return speech.TTSResponse{}, ErrEmptyText
	}
	if runes := []rune(text); len(runes) > maxSnippetRunes {
		text = string(runes[:maxSnippetRunes])
	}
	if !s.Enabled() {
		return speech.TTSResponse{}, fmt.Errorf("speech: synthesizer not configured")
	}

	resolved := ResolveMood(text, mood)
	if s.moods != nil && p.Tags.VoiceMood && (mood == "" || mood == emotion.Default) {
		resolved = s.moods.Classify(ctx, p, text)
	}
	req := speech.TTSRequest{
		Text:    text,
		Voice:   p.VoiceID,
		Emotion: EmotionParameter(p, resolved),
	}

	start := time.Now()
	resp, err := s.tts.Synthesize(ctx, req)
	if err != nil {
		return speech.TTSResponse{}, fmt.Errorf("synthesize voice snippet: %w", err)
	}

	s.logger.Debug().
		Str("persona", p.ID).
		Str("mood", string(resolved)).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("voice snippet synthesized")
	return resp, nil
}
