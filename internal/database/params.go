package database

import (
	"fmt"
	"net/url"
	"strings"
)

// splitParams parses "charset=utf8mb4&loc=Local" into a map.
func splitParams(raw string) (map[string]string, error) {
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("tenant_db.params: %w", err)
	}
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		out[k] = strings.Join(v, ",")
	}
	return out, nil
}

func urlEscape(s string) string { return url.QueryEscape(s) }
