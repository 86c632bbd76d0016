package emotion

import (
	"strings"
)

// Label 表示语音片段可以携带的情绪（mood）。
type Label string

const (
	Default  Label = "default"
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Excited  Label = "excited"
	Tender   Label = "tender"
	Comfort  Label = "comfort"
	Magnetic Label = "magnetic"
)

// Labels lists the fixed mood set accepted inside `[voice:<mood>:<text>]` tags.
var Labels = []Label{Default, Happy, Sad, Angry, Excited, Tender, Comfort, Magnetic}

// Parse 将原始字符串解析为已知情绪，未知值返回 false。
func Parse(raw string) (Label, bool) {
	normalized := Label(strings.ToLower(strings.TrimSpace(raw)))
	for _, label := range Labels {
		if label == normalized {
			return label, true
		}
	}
	return Default, false
}

// Normalize maps unknown or empty moods to Default.
func Normalize(raw string) Label {
	label, _ := Parse(raw)
	return label
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"开心", "高兴", "快乐", "哈哈", "太好了", "喜欢",
		"рада", "рад", "класс", "ура", "люблю", "хаха",
		"happy", "glad", "love", "great", "lol",
	},
	Sad: {
		"难过", "伤心", "失落", "孤单", "委屈",
		"грустно", "печаль", "скучаю", "жаль", "одиноко",
		"sad", "miss you", "lonely", "sorry",
	},
	Angry: {
		"生气", "愤怒", "气死", "受够了",
		"злюсь", "бесит", "достало",
		"angry", "furious", "annoyed",
	},
	Excited: {
		"激动", "期待", "哇", "太酷了",
		"вау", "круто", "не терпится", "обожаю",
		"wow", "can't wait", "awesome",
	},
	Tender: {
		"温柔", "轻轻", "慢慢", "晚安",
		"нежно", "тихо", "спокойной ночи", "милый", "милая",
		"gentle", "softly", "good night",
	},
	Comfort: {
		"别担心", "没事", "抱抱", "陪着你",
		"не переживай", "всё будет хорошо", "обнимаю", "я рядом",
		"don't worry", "i'm here", "it's okay",
	},
	Magnetic: {
		"认真", "重要", "记住", "务必",
		"серьёзно", "важно", "запомни", "обязательно",
		"seriously", "important", "listen",
	},
}

// Infer 根据文本关键词猜测最贴切的情绪，没有明显信号时返回 Default。
func Infer(text string) Label {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Default
	}

	scores := make(map[Label]int, len(keywordBuckets))
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	if exclamations := strings.Count(text, "!"); exclamations > 1 {
		scores[Excited] += exclamations * 2
	} else if exclamations == 1 {
		scores[Happy] += 2
	}

	best, bestScore := Default, 0
	// iterate in Labels order so ties resolve deterministically
	for _, label := range Labels {
		if scores[label] > bestScore {
			best, bestScore = label, scores[label]
		}
	}
	return best
}
