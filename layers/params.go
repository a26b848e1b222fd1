package layers

// Layer parameters live in a map[string]interface{} so ModelSpec can round-trip
// through JSON. JSON decoding turns numbers into float64, so parameter access
// must accept both the original Go type and the decoded form.

// IntParam reads an integer layer parameter, tolerating JSON float64 decoding.
// Missing keys return 0.
func IntParam(layer *LayerSpec, key string) int {
	v, ok := layer.Parameters[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// FloatParam reads a float layer parameter. Missing keys return 0.
func FloatParam(layer *LayerSpec, key string) float64 {
	v, ok := layer.Parameters[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// BoolParam reads a boolean layer parameter. Missing keys return false.
func BoolParam(layer *LayerSpec, key string) bool {
	v, ok := layer.Parameters[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
