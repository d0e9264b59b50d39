package core

// CloneMap returns a shallow copy of the provided map.
// Nil input yields nil so callers can pass optional metadata through unchanged.
func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
