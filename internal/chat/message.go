package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message одно сообщение чата. Timestamp хранится в миллисекундах unix-времени.
type Message struct {
	Role      Role   `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// Time возвращает время создания сообщения.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Sender подпись отправителя для экспорта.
func (m Message) Sender() string {
	if m.Role == RoleUser {
		return "User"
	}
	return "AI"
}
