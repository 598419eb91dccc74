package context

import "strings"

const (
	historyHeader      = "Previous conversation history:"
	contextInstruction = "Please respond to the current message while being aware of the conversation history above. " +
		"Naturally remember and reference relevant information from our previous exchanges when appropriate."
	currentLabel = "Current message: "
)

// BuildPrompt renders history and the new message into the single text block
// handed to the model. The output depends only on its inputs.
func BuildPrompt(history []Message, newMessage string) string {
	parts := make([]string, 0, len(history)+3)
	if len(history) > 0 {
		parts = append(parts, historyHeader)
		for _, m := range history {
			parts = append(parts, speaker(m.Role)+": "+m.Content)
		}
	}
	parts = append(parts, "\n"+contextInstruction)
	parts = append(parts, "\n"+currentLabel+newMessage)
	return strings.Join(parts, "\n")
}

func speaker(role string) string {
	if role == RoleUser {
		return "User"
	}
	return "Assistant"
}
