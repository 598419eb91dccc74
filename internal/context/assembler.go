package context

// StandardAssembler pairs the system prompt with a single user message
// carrying the rendered history and the new message.
type StandardAssembler struct{}

// Assemble builds the final message list: system + rendered prompt.
// An empty system prompt is omitted.
func (a *StandardAssembler) Assemble(system string, history []Message, userMsg string) []Message {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: BuildPrompt(history, userMsg)})
	return messages
}
