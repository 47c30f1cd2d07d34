package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// ActorHeader carries the caller's identity. Authentication happens upstream.
const ActorHeader = "X-Actor-ID"

func actorID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(ActorHeader))
}

// bindJSON decodes the request body into dst after rewriting camelCase keys to snake_case,
// so clients may use either convention.
func bindJSON(c *gin.Context, dst any) error {
	raw, err := c.GetRawData()
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	normalized, err := json.Marshal(normalizeKeys(body))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[snakeCase(k)] = normalizeKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeKeys(t[i])
		}
		return t
	}
	return v
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
