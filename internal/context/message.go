package context

import "time"

// Role values accepted by the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a model-agnostic chat message used across the context pipeline.
// ID and Timestamp are zero for messages that were never persisted.
type Message struct {
	ID        int64
	Role      string
	Content   string
	Timestamp time.Time
}

// ValidRole reports whether role may be stored in the conversation log.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
