// Package content parses assistant message text with inline media tags
// (`[sticker:<id>]`, `[voice:<mood>:<text>]`, `[photo:<id>]`) into typed segments.
package content

import (
	"regexp"
	"strings"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
)

// Kind identifies a segment variant.
type Kind string

const (
	KindText    Kind = "text"
	KindSticker Kind = "sticker"
	KindVoice   Kind = "voice"
	KindPhoto   Kind = "photo"
)

// Capabilities is the inline-tag set a persona supports.
type Capabilities struct {
	Sticker   bool `json:"sticker" yaml:"sticker"`
	Voice     bool `json:"voice" yaml:"voice"`
	VoiceMood bool `json:"voiceMood" yaml:"voiceMood"`
	Photo     bool `json:"photo" yaml:"photo"`
}

// AllTags enables every tag kind.
var AllTags = Capabilities{Sticker: true, Voice: true, VoiceMood: true, Photo: true}

// Segment is one typed unit of message content.
//
// Value holds the text for KindText and KindVoice and the id for KindSticker
// and KindPhoto. Raw is the exact slice of the input the segment came from.
type Segment struct {
	Kind  Kind          `json:"kind"`
	Value string        `json:"value"`
	Mood  emotion.Label `json:"mood,omitempty"`
	Raw   string        `json:"-"`
}

func Text(value string) Segment { return Segment{Kind: KindText, Value: value, Raw: value} }

func Sticker(id string) Segment { return Segment{Kind: KindSticker, Value: id} }

func Voice(text string, mood emotion.Label) Segment {
	return Segment{Kind: KindVoice, Value: text, Mood: mood}
}

func Photo(id string) Segment { return Segment{Kind: KindPhoto, Value: id} }

// tagPattern matches every tag kind in one pass so ordering across kinds is preserved.
var tagPattern = regexp.MustCompile(`\[(sticker|voice|photo):([^\[\]]+)\]`)

// moodPrefix splits an optional `<mood>:` prefix off a voice tag body.
var moodPrefix = regexp.MustCompile(`^\s*([A-Za-z_]+)\s*:(.*)$`)

// Parse splits raw into segments according to caps. Tags whose kind is not in
// caps are kept as literal text. Text runs are trimmed and empty runs dropped.
func Parse(raw string, caps Capabilities) []Segment {
	matches := tagPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return []Segment{Text(raw)}
	}

	segments := make([]Segment, 0, len(matches)*2+1)
	textStart := 0
	flushText := func(end int) {
		if end <= textStart {
			return
		}
		chunk := raw[textStart:end]
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			segments = append(segments, Segment{Kind: KindText, Value: trimmed, Raw: chunk})
		}
	}

	for _, m := range matches {
		kind := raw[m[2]:m[3]]
		body := raw[m[4]:m[5]]
		seg, ok := buildTag(kind, body, caps)
		if !ok {
			// unsupported tag stays part of the surrounding text run
			continue
		}
		flushText(m[0])
		seg.Raw = raw[m[0]:m[1]]
		segments = append(segments, seg)
		textStart = m[1]
	}
	flushText(len(raw))

	if len(segments) == 0 {
		return []Segment{Text(raw)}
	}
	return segments
}

func buildTag(kind, body string, caps Capabilities) (Segment, bool) {
	switch Kind(kind) {
	case KindSticker:
		id := strings.TrimSpace(body)
		if !caps.Sticker || id == "" {
			return Segment{}, false
		}
		return Sticker(id), true
	case KindPhoto:
		id := strings.TrimSpace(body)
		if !caps.Photo || id == "" {
			return Segment{}, false
		}
		return Photo(id), true
	case KindVoice:
		if !caps.Voice {
			return Segment{}, false
		}
		mood := emotion.Default
		text := body
		if caps.VoiceMood {
			if parts := moodPrefix.FindStringSubmatch(body); parts != nil {
				mood = emotion.Normalize(parts[1])
				text = parts[2]
			}
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return Segment{}, false
		}
		return Voice(text, mood), true
	}
	return Segment{}, false
}

// Strip removes every inline tag regardless of persona capabilities and
// collapses the remaining whitespace.
func Strip(raw string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(raw, " ")), " ")
}

// SpeechText derives the text spoken by the talking head: tags stripped,
// trimmed, and cut to limit runes with a trailing ellipsis.
func SpeechText(raw string, limit int) string {
	text := Strip(raw)
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
