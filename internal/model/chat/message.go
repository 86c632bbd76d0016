package chat

import "time"

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one immutable turn of the conversation history.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEntry is the role+content projection forwarded to the reply endpoint.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ReplyRequest 发送给回复端点的请求体。
type ReplyRequest struct {
	Message string         `json:"message"`
	History []HistoryEntry `json:"history"`
}

// ReplyResponse 回复端点的响应体。
type ReplyResponse struct {
	Reply string `json:"reply"`
}

// RecentHistory projects the last limit messages to history entries.
func RecentHistory(messages []ChatMessage, limit int) []HistoryEntry {
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}

	history := make([]HistoryEntry, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		history = append(history, HistoryEntry{Role: msg.Role, Content: msg.Content})
	}
	return history
}
