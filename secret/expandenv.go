package secret

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ExpandEnvStrict expands environment references in s.
//
// Semantics:
//   - `$VAR` and `${VAR}` must be set; every unset name is reported in one
//     error wrapping ErrMissingEnv.
//   - `${VAR:-fallback}` uses fallback when VAR is unset or empty.
//   - `$$` emits a literal `$`.
func ExpandEnvStrict(s string) (string, error) {
	var missing []string
	out := os.Expand(s, func(ref string) string {
		if ref == "$" {
			return "$"
		}
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		v, ok := os.LookupEnv(name)
		if hasFallback && v == "" {
			return fallback
		}
		if !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return out, nil
}
