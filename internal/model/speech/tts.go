package speech

// TTSRequest 语音合成请求
type TTSRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`   // persona voice profile
	Emotion string `json:"emotion,omitempty"` // mood of the voice snippet
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	AudioURL string  `json:"audioUrl"`
	Duration float64 `json:"duration,omitempty"` // seconds
}
