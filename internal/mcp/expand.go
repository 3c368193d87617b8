package mcp

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// expandRe matches ${...} substitution expressions in config values.
var expandRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand resolves ${...} substitution patterns in a configuration value:
//
//	${VAR}            environment variable, empty if unset
//	${VAR:-default}   environment variable with fallback
//	${env:VAR}        explicit environment source
//	${file:/path}     contents of a file, trimmed of trailing whitespace
//
// Transports apply Expand exactly once, when the subprocess is spawned or
// the stream connection is opened; values are never re-resolved later.
func Expand(value string) (string, error) {
	var expandErr error

	out := expandRe.ReplaceAllStringFunc(value, func(match string) string {
		expr := match[2 : len(match)-1]

		switch {
		case strings.HasPrefix(expr, "env:"):
			return os.Getenv(strings.TrimPrefix(expr, "env:"))
		case strings.HasPrefix(expr, "file:"):
			path := strings.TrimPrefix(expr, "file:")
			data, err := os.ReadFile(path)
			if err != nil {
				if expandErr == nil {
					expandErr = fmt.Errorf("expand %s: %w", match, err)
				}
				return ""
			}
			return strings.TrimRight(string(data), "\r\n")
		}

		if name, def, ok := strings.Cut(expr, ":-"); ok {
			if v, set := os.LookupEnv(name); set && v != "" {
				return v
			}
			return def
		}

		return os.Getenv(expr)
	})

	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// ExpandMap returns a copy of m with Expand applied to every value.
// Keys are left untouched.
func ExpandMap(m map[string]string) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := Expand(v)
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}
