package context

// EstimateTokens approximates token usage at four characters per token.
func EstimateTokens(text string) int {
	chars := len([]rune(text))
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// EstimateTokensFromMessages sums EstimateTokens over message contents.
func EstimateTokensFromMessages(messages []Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len([]rune(msg.Content))
	}
	if totalChars <= 0 {
		return 0
	}
	return (totalChars + 3) / 4
}
