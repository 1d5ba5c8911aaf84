package staging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseRecipients normalizes the upstream form field, which arrives either
// as a JSON-encoded array or as a bare single address. This is the only
// place the two shapes are accepted; everything downstream sees an ordered
// []string.
func ParseRecipients(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if !strings.HasPrefix(raw, "[") {
		return []string{raw}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("invalid recipients payload: %w", err)
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	return out, nil
}
