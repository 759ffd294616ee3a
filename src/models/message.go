package models

// MessageRef locates a chat message that a later turn may edit or delete
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero reports whether the reference points nowhere
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}
