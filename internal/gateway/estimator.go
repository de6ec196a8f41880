package gateway

import (
	"github.com/hivegate/hivegate/internal/domain"
)

// estimator approximates token usage for streamed responses, whose
// upstreams do not reliably report usage. Four characters per token is
// the usual rough ratio for English text; billing accuracy for streams
// is bounded by this estimate.
type estimator struct {
	promptChars     int
	completionChars int
}

func (e *estimator) prompt(messages []domain.Message) {
	for _, m := range messages {
		e.promptChars += len(m.Content.PlainText())
	}
}

func (e *estimator) chunk(c domain.StreamChunk) {
	for _, choice := range c.Choices {
		if choice.Delta != nil {
			e.completionChars += len(choice.Delta.Content)
		}
	}
}

func (e *estimator) usage() domain.Usage {
	prompt := charsToTokens(e.promptChars)
	completion := charsToTokens(e.completionChars)
	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func charsToTokens(chars int) int {
	if chars == 0 {
		return 0
	}
	tokens := chars / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}
