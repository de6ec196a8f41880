package domain

import (
	"encoding/json"
	"strings"
)

// Message is one conversation turn. Content accepts both the plain-string
// and the multi-part array encodings used by OpenAI-compatible callers.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
	Name    string         `json:"name,omitempty"`
}

// MessageContent holds either plain text or an ordered list of parts.
// Parts takes precedence when non-nil.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

type ImageRef struct {
	URL string `json:"url"`
}

// Text returns plain content for a text message.
func Text(s string) MessageContent {
	return MessageContent{Text: s}
}

// IsEmpty reports whether the content carries nothing a provider could use.
func (c MessageContent) IsEmpty() bool {
	if c.Parts != nil {
		return len(c.Parts) == 0
	}
	return strings.TrimSpace(c.Text) == ""
}

// PlainText flattens the content into a single string, joining text parts.
func (c MessageContent) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Text = ""
	c.Parts = parts
	return nil
}
