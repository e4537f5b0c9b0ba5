package types

// JSONMap holds free-form metadata persisted as a JSON document.
type JSONMap map[string]any

// StringValue returns the string stored under key, or "" when absent or not a string.
func (m JSONMap) StringValue(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
