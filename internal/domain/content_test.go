package domain

import (
	"encoding/json"
	"testing"
)

func TestMessageContentAcceptsBothEncodings(t *testing.T) {
	var plain Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &plain); err != nil {
		t.Fatalf("plain string: %v", err)
	}
	if plain.Content.Text != "hello" || plain.Content.Parts != nil {
		t.Errorf("plain decode: %+v", plain.Content)
	}

	var parts Message
	payload := `{"role":"user","content":[{"type":"text","text":"see this"},{"type":"image_url","image_url":{"url":"https://example.com/a.png"}}]}`
	if err := json.Unmarshal([]byte(payload), &parts); err != nil {
		t.Fatalf("part array: %v", err)
	}
	if len(parts.Content.Parts) != 2 || parts.Content.Parts[1].ImageURL.URL != "https://example.com/a.png" {
		t.Errorf("parts decode: %+v", parts.Content)
	}
}

func TestMessageContentRoundTripsItsShape(t *testing.T) {
	plain, err := json.Marshal(Message{Role: "user", Content: Text("hi")})
	if err != nil {
		t.Fatalf("marshal plain: %v", err)
	}
	if string(plain) != `{"role":"user","content":"hi"}` {
		t.Errorf("plain content must stay a string: %s", plain)
	}

	multi, err := json.Marshal(Message{Role: "user", Content: MessageContent{
		Parts: []ContentPart{{Type: "text", Text: "hi"}},
	}})
	if err != nil {
		t.Fatalf("marshal parts: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(multi, &decoded); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if decoded.Content.Parts == nil {
		t.Error("multi-part content must stay an array")
	}
}

func TestMessageContentIsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content MessageContent
		want    bool
	}{
		{"empty string", Text(""), true},
		{"whitespace only", Text("   \n"), true},
		{"text", Text("hi"), false},
		{"empty part list", MessageContent{Parts: []ContentPart{}}, true},
		{"image part only", MessageContent{Parts: []ContentPart{{Type: "image_url", ImageURL: &ImageRef{URL: "u"}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.content.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlainTextJoinsTextParts(t *testing.T) {
	c := MessageContent{Parts: []ContentPart{
		{Type: "text", Text: "look at "},
		{Type: "image_url", ImageURL: &ImageRef{URL: "u"}},
		{Type: "text", Text: "this"},
	}}
	if got := c.PlainText(); got != "look at this" {
		t.Errorf("PlainText() = %q", got)
	}
}
