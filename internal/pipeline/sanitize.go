package pipeline

import (
	"context"

	"github.com/hivegate/hivegate/internal/domain"
)

// EmptyContentPlaceholder is substituted for user turns with no usable
// content. Several upstreams reject empty messages outright; the
// placeholder keeps the turn structure intact instead.
const EmptyContentPlaceholder = "Please provide a response."

// SanitizeStage normalizes the message list for the wire: empty user
// content gets the placeholder, and messages with no role are dropped.
// It runs after provider resolution so the placeholder is only applied
// to requests that will actually be sent.
func SanitizeStage() Stage {
	return Stage{
		Name: "sanitize-messages",
		Apply: func(ctx context.Context, s State) (State, error) {
			out := make([]domain.Message, 0, len(s.Messages))
			changed := false
			for _, msg := range s.Messages {
				if msg.Role == "" {
					changed = true
					continue
				}
				if msg.Role == "user" && msg.Content.IsEmpty() {
					msg.Content = domain.Text(EmptyContentPlaceholder)
					changed = true
				}
				out = append(out, msg)
			}
			if changed {
				s.Messages = out
			}
			return s, nil
		},
	}
}
