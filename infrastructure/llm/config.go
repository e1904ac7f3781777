package llm

// Request options arrive as map[string]any so callers outside this package
// do not depend on provider types. The helpers below read them with a
// fallback for missing, mistyped, or invalid values.

// Option keys understood by every provider.
const (
	OptSystem         = "system"
	OptTemperature    = "temperature"
	OptMaxTokens      = "max_tokens"
	OptModel          = "model"
	OptTopP           = "top_p"
	OptResponseFormat = "response_format"
)

// ResponseFormatJSON asks the provider to return a bare JSON document.
const ResponseFormatJSON = "json"

func extractOption[T any](opts map[string]any, key string, defaultVal T, validator func(T) bool) T {
	if opts == nil {
		return defaultVal
	}
	raw, ok := opts[key]
	if !ok {
		return defaultVal
	}
	val, ok := raw.(T)
	if !ok {
		return defaultVal
	}
	if validator != nil && !validator(val) {
		return defaultVal
	}
	return val
}

// ExtractOptionalInt extracts an int option, returning defaultVal when the
// key is absent, not an int, or rejected by validator.
func ExtractOptionalInt(opts map[string]any, key string, defaultVal int, validator func(int) bool) int {
	return extractOption(opts, key, defaultVal, validator)
}

// ExtractOptionalString extracts a string option.
func ExtractOptionalString(opts map[string]any, key string, defaultVal string, validator func(string) bool) string {
	return extractOption(opts, key, defaultVal, validator)
}

// ExtractOptionalFloat64 extracts a float64 option. Integer values are
// accepted and converted, since YAML and JSON decoders produce either.
func ExtractOptionalFloat64(opts map[string]any, key string, defaultVal float64, validator func(float64) bool) float64 {
	if opts != nil {
		if i, ok := opts[key].(int); ok {
			f := float64(i)
			if validator == nil || validator(f) {
				return f
			}
			return defaultVal
		}
	}
	return extractOption(opts, key, defaultVal, validator)
}
