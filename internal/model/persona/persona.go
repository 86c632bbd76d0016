package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/content"
)

// Persona captures everything that differs between assistant identities:
// avatar, voice profile, fallback strings and the supported inline tags.
type Persona struct {
	ID               string               `json:"id" yaml:"id"`
	Name             string               `json:"name" yaml:"name"`
	Title            string               `json:"title" yaml:"title"`
	Tone             string               `json:"tone" yaml:"tone"`
	PromptHint       string               `json:"promptHint" yaml:"promptHint"`
	OpeningLine      string               `json:"openingLine" yaml:"openingLine"`
	AvatarURL        string               `json:"avatarUrl" yaml:"avatarUrl"`               // 数字人视频使用的头像
	VoiceID          string               `json:"voiceId,omitempty" yaml:"voiceId"`         // 语音合成音色
	VoicePlaceholder string               `json:"voicePlaceholder" yaml:"voicePlaceholder"` // 语音消息无转写时的占位文本
	Apology          string               `json:"-" yaml:"apology"`                         // 回复失败时的兜底消息
	ReplyURL         string               `json:"-" yaml:"replyUrl"`                        // 可选：该角色专属的回复端点
	Tags             content.Capabilities `json:"tags" yaml:"tags"`
}

const (
	defaultVoicePlaceholder = "🎤 Голосовое сообщение"
	defaultApology          = "Извини, у меня что-то со связью. Напиши ещё раз чуть позже?"
)

// Validate checks required fields and fills fallback strings.
func (p *Persona) Validate() error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return fmt.Errorf("persona id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona %s: name is required", p.ID)
	}
	if strings.TrimSpace(p.VoicePlaceholder) == "" {
		p.VoicePlaceholder = defaultVoicePlaceholder
	}
	if strings.TrimSpace(p.Apology) == "" {
		p.Apology = defaultApology
	}
	return nil
}

// Seed provides the two built-in assistant personas.
func Seed() []Persona {
	return []Persona{
		{
			ID:               "alisa",
			Name:             "Алиса",
			Title:            "Виртуальная подруга",
			Tone:             "тёплый, игривый, внимательный",
			PromptHint:       "Поддерживай лёгкую беседу, делись эмоциями, иногда присылай стикеры, голосовые и фото.",
			OpeningLine:      "Привет! Я Алиса. Расскажешь, как прошёл твой день?",
			AvatarURL:        "https://cdn.poehali.dev/personas/alisa/avatar.jpg",
			VoiceID:          "alisa-warm",
			VoicePlaceholder: "🎤 Голосовое сообщение",
			Apology:          "Ой, кажется, связь пропала. Попробуй написать мне ещё раз?",
			Tags:             content.AllTags,
		},
		{
			ID:               "maks",
			Name:             "Макс",
			Title:            "Друг и собеседник",
			Tone:             "спокойный, ироничный, поддерживающий",
			PromptHint:       "Отвечай коротко и по делу, с юмором; стикеры и голосовые уместны, фото не отправляй.",
			OpeningLine:      "Здорово! Я Макс. О чём поболтаем?",
			AvatarURL:        "https://cdn.poehali.dev/personas/maks/avatar.jpg",
			VoiceID:          "maks-calm",
			VoicePlaceholder: "🎤 Голосовое",
			Apology:          "Извини, что-то пошло не так. Давай попробуем ещё раз чуть позже.",
			Tags:             content.Capabilities{Sticker: true, Voice: true},
		},
	}
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads a YAML persona list, replacing the seeded personas.
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var file personaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona file %s defines no personas", path)
	}

	seen := make(map[string]struct{}, len(file.Personas))
	for i := range file.Personas {
		if err := file.Personas[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[file.Personas[i].ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", file.Personas[i].ID)
		}
		seen[file.Personas[i].ID] = struct{}{}
	}
	return file.Personas, nil
}
