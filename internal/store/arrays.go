package store

import (
	"fmt"
	"strconv"
	"strings"
)

// textArray renders a Postgres text[] literal. Statements binding it cast
// the parameter explicitly ($n::text[]), which keeps the wire value a plain
// string and works with every driver.
func textArray(items []string) string {
	if len(items) == 0 {
		return "{}"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		item = strings.ReplaceAll(item, `\`, `\\`)
		item = strings.ReplaceAll(item, `"`, `\"`)
		quoted[i] = `"` + item + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// int64Array renders a Postgres bigint[] literal.
func int64Array(ids []int64) string {
	if len(ids) == 0 {
		return "{}"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// parseInt64Array parses a bigint[] literal read back as text.
func parseInt64Array(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("malformed array literal %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed array element %q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}
