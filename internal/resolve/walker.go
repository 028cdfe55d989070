package resolve

// findString walks an arbitrarily nested JSON document (maps and slices mixed
// at unknown depth) depth-first and returns the first string value satisfying
// the predicate. The validation API's response shape is not stable across
// provider releases, so nothing here assumes a key path.
func findString(node any, predicate func(string) bool) (string, bool) {
	switch value := node.(type) {
	case string:
		if predicate(value) {
			return value, true
		}
	case map[string]any:
		for _, child := range value {
			if found, ok := findString(child, predicate); ok {
				return found, true
			}
		}
	case []any:
		for _, child := range value {
			if found, ok := findString(child, predicate); ok {
				return found, true
			}
		}
	}
	return "", false
}
