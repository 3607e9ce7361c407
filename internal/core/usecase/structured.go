package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

const responsePreviewChars = 200

// decodeStructured parses a fixed-schema JSON payload out of free-form model
// output. Markdown code fences and leading prose are tolerated.
func decodeStructured(operation, raw string, out any) error {
	payload := extractJSONObject(stripCodeFence(raw))
	if strings.TrimSpace(payload) == "" {
		return domain.WrapError(domain.ErrMalformedResponse, operation, fmt.Errorf("empty response"))
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return domain.WrapError(domain.ErrMalformedResponse, operation, err)
	}
	return nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		text = text[newline+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func previewResponse(raw string) string {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) <= responsePreviewChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:responsePreviewChars]) + "..."
}

// fallbackReason maps a stage error onto the reason recorded in metrics and results.
func fallbackReason(err error) string {
	switch {
	case err == nil:
		return ""
	case domain.IsTimeout(err):
		return "timeout"
	case domain.IsKind(err, domain.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
