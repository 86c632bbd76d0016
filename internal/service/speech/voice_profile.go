package speech

import (
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
)

// ttsEmotions maps snippet moods to the TTS endpoint's emotion vocabulary.
var ttsEmotions = map[emotion.Label]string{
	emotion.Happy:    "happy",
	emotion.Sad:      "sad",
	emotion.Angry:    "angry",
	emotion.Excited:  "excited",
	emotion.Tender:   "tender",
	emotion.Comfort:  "comfort",
	emotion.Magnetic: "magnetic",
}

// ResolveMood picks the mood a snippet is spoken with. Explicit moods are
// kept; default is replaced by the keyword heuristic's guess.
func ResolveMood(text string, mood emotion.Label) emotion.Label {
	if mood != "" && mood != emotion.Default {
		return mood
	}
	return emotion.Infer(text)
}

// EmotionParameter returns the TTS emotion for mood, or "" when the persona
// voice should speak neutrally.
func EmotionParameter(p persona.Persona, mood emotion.Label) string {
	if !p.Tags.VoiceMood || p.VoiceID == "" {
		return ""
	}
	return ttsEmotions[mood]
}
