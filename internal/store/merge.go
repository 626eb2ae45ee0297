package store

import "encoding/json"

// Replace marks a context-summary update value that overwrites the stored
// map instead of being merged into it.
type Replace map[string]any

// deepMerge folds src into dst. Nested maps merge key by key; Replace values
// and anything else replace what dst held under the same key.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if r, ok := v.(Replace); ok {
			dst[k] = map[string]any(r)
			continue
		}
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				dst[k] = deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func decodeJSONMap(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
