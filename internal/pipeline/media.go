package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hivegate/hivegate/internal/cache"
	"github.com/hivegate/hivegate/internal/domain"
)

const (
	maxMediaBytes = 20 << 20
	mediaCacheTTL = 15 * time.Minute
)

// InlineMediaStage replaces remote image references with base64 data URIs
// for providers that cannot fetch URLs themselves. Fetched bytes are
// cached by source URL. A fetch failure fails the request: silently
// dropping an image the caller asked about would produce a confidently
// wrong answer.
func InlineMediaStage(client *http.Client, mediaCache cache.MediaCache) Stage {
	return Stage{
		Name: "inline-media",
		Apply: func(ctx context.Context, s State) (State, error) {
			if s.Provider == nil || !s.Provider.InlineMedia {
				return s, nil
			}

			var out []domain.Message
			for i, msg := range s.Messages {
				if msg.Content.Parts == nil {
					continue
				}
				var parts []domain.ContentPart
				changed := false
				for _, part := range msg.Content.Parts {
					if part.Type == "image_url" && part.ImageURL != nil && isRemoteURL(part.ImageURL.URL) {
						dataURI, err := fetchAsDataURI(ctx, client, mediaCache, part.ImageURL.URL)
						if err != nil {
							return s, fmt.Errorf("inline image: %w", err)
						}
						part.ImageURL = &domain.ImageRef{URL: dataURI}
						changed = true
					}
					parts = append(parts, part)
				}
				if changed {
					if out == nil {
						out = make([]domain.Message, len(s.Messages))
						copy(out, s.Messages)
					}
					out[i].Content = domain.MessageContent{Parts: parts}
				}
			}
			if out != nil {
				s.Messages = out
			}
			return s, nil
		},
	}
}

func isRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func fetchAsDataURI(ctx context.Context, client *http.Client, mediaCache cache.MediaCache, url string) (string, error) {
	if mediaCache != nil {
		if data, contentType, ok := mediaCache.Get(ctx, url); ok {
			return dataURI(contentType, data), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxMediaBytes {
		return "", fmt.Errorf("fetch %s: media exceeds %d bytes", url, maxMediaBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	if mediaCache != nil {
		if err := mediaCache.Set(ctx, url, data, contentType, mediaCacheTTL); err != nil {
			slog.Warn("media cache write failed", "url", url, "error", err)
		}
	}

	return dataURI(contentType, data), nil
}

func dataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
