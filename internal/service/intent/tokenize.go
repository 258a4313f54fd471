package intent

import (
	"regexp"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenNumber
	tokenAddress
)

type token struct {
	raw  string
	norm string
	kind tokenKind
}

var (
	tokenPattern  = regexp.MustCompile(`0[xX][0-9a-fA-F]+|\$?\d[\d,_]*(?:\.\d+)?|[A-Za-z][A-Za-z0-9'_-]*`)
	quotedPattern = regexp.MustCompile(`"([^"]+)"|(?:^|\s)'([^']+)'`)
)

func tokenize(text string) []token {
	matches := tokenPattern.FindAllString(text, -1)
	out := make([]token, 0, len(matches))
	for _, m := range matches {
		switch {
		case strings.HasPrefix(m, "0x") || strings.HasPrefix(m, "0X"):
			out = append(out, token{raw: m, norm: strings.ToLower(m), kind: tokenAddress})
		case m[0] == '$' || unicode.IsDigit(rune(m[0])):
			raw := strings.TrimRight(m, ",_")
			out = append(out, token{raw: raw, norm: raw, kind: tokenNumber})
		default:
			out = append(out, token{raw: m, norm: normalizeWord(m), kind: tokenWord})
		}
	}
	return out
}

// normalizeWord lower-cases, drops possessives and hyphens, and strips simple plurals.
func normalizeWord(w string) string {
	w = strings.ToLower(strings.TrimSpace(w))
	w = strings.TrimSuffix(w, "'s")
	w = strings.Trim(w, "'")
	w = strings.ReplaceAll(w, "-", "")
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// intentWords is the token stream used for phrase matching: stopwords are
// dropped and values collapse to placeholders so phrases never span them.
func (l *Lexicon) intentWords(tokens []token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		switch t.kind {
		case tokenNumber:
			out = append(out, "#")
		case tokenAddress:
			out = append(out, "@")
		default:
			if l.isStopword(t.raw) {
				continue
			}
			out = append(out, t.norm)
		}
	}
	return out
}

func quotedStrings(text string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		for _, g := range m[1:] {
			if s := strings.TrimSpace(g); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func isCapitalized(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
