package context

// WindowCompressor bounds the history window to the last MaxMessages
// messages, trimmed so the window never opens with a dangling assistant reply.
type WindowCompressor struct {
	MaxMessages int
}

// Compress truncates messages to the most recent MaxMessages entries.
// A non-positive MaxMessages disables truncation.
func (c *WindowCompressor) Compress(messages []Message) []Message {
	if c.MaxMessages <= 0 || len(messages) <= c.MaxMessages {
		return messages
	}
	window := messages[len(messages)-c.MaxMessages:]
	if len(window) > 1 && window[0].Role == RoleAssistant {
		window = window[1:]
	}
	return window
}
