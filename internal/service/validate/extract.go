package validate

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	markdownFence  = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)```")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
)

// extractObject finds the first JSON object in model output. It tries the
// whole text, then a fenced code block, then brace matching, and finally
// the same candidates with trailing commas removed.
func extractObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	candidates := []string{s}
	if m := markdownFence.FindStringSubmatch(s); len(m) > 1 {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	candidates = append(candidates, balancedObjects(s)...)

	for _, c := range candidates {
		if isObject(c) {
			return c, true
		}
	}
	for _, c := range candidates {
		cleaned := trailingCommas.ReplaceAllString(c, "$1")
		if isObject(cleaned) {
			return cleaned, true
		}
	}
	return "", false
}

func isObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && json.Valid([]byte(s))
}

// balancedObjects returns every top-level {...} span, ignoring braces inside strings.
func balancedObjects(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		level := 0
		inString := false
		escaped := false
		for j := i; j < len(s); j++ {
			c := s[j]
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = inString
			case '"':
				inString = !inString
			case '{':
				if !inString {
					level++
				}
			case '}':
				if !inString {
					level--
				}
			}
			if level == 0 && !inString {
				out = append(out, s[i:j+1])
				i = j
				break
			}
		}
	}
	return out
}
