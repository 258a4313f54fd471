package intent

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

type phrase struct {
	Phrase string `yaml:"phrase"`
	Weight int    `yaml:"weight"`
}

type cueSet struct {
	Before []string `yaml:"before"`
	After  []string `yaml:"after"`
}

type lexiconDocument struct {
	Stopwords []string            `yaml:"stopwords"`
	Intents   map[string][]phrase `yaml:"intents"`
	Cues      map[string]cueSet   `yaml:"cues"`
	NameVerbs []string            `yaml:"name_verbs"`
}

type weightedPhrase struct {
	words  []string
	weight int
}

// Lexicon is the compiled vocabulary of the rule resolver.
type Lexicon struct {
	stopwords map[string]bool
	intents   map[string][]weightedPhrase
	// cue word -> parameter names it may label, in declaration order.
	before    map[string][]string
	after     map[string][]string
	cueWords  map[string]bool
	nameVerbs map[string]bool
}

func DefaultLexicon() *Lexicon {
	lex, err := ParseLexicon(defaultLexiconYAML)
	if err != nil {
		panic(err)
	}
	return lex
}

func ParseLexicon(content []byte) (*Lexicon, error) {
	var doc lexiconDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if len(doc.Intents) == 0 {
		return nil, fmt.Errorf("parse lexicon: no intents declared")
	}
	lex := &Lexicon{
		stopwords: map[string]bool{},
		intents:   map[string][]weightedPhrase{},
		before:    map[string][]string{},
		after:     map[string][]string{},
		cueWords:  map[string]bool{},
		nameVerbs: map[string]bool{},
	}
	for _, w := range doc.Stopwords {
		lex.stopwords[strings.ToLower(strings.TrimSpace(w))] = true
	}
	for op, phrases := range doc.Intents {
		for _, p := range phrases {
			words := make([]string, 0, 3)
			for _, w := range strings.Fields(p.Phrase) {
				words = append(words, normalizeWord(w))
			}
			if len(words) == 0 || p.Weight <= 0 {
				return nil, fmt.Errorf("parse lexicon: invalid phrase %q for %s", p.Phrase, op)
			}
			lex.intents[op] = append(lex.intents[op], weightedPhrase{words: words, weight: p.Weight})
		}
	}
	for param, set := range doc.Cues {
		for _, w := range set.Before {
			n := normalizeWord(w)
			lex.before[n] = append(lex.before[n], param)
			lex.cueWords[n] = true
		}
		for _, w := range set.After {
			n := normalizeWord(w)
			lex.after[n] = append(lex.after[n], param)
			lex.cueWords[n] = true
		}
		// The parameter's own name always labels it.
		n := normalizeWord(param)
		lex.before[n] = append(lex.before[n], param)
		lex.cueWords[n] = true
	}
	for _, w := range doc.NameVerbs {
		lex.nameVerbs[normalizeWord(w)] = true
	}
	return lex, nil
}

func (l *Lexicon) isStopword(raw string) bool {
	return l.stopwords[strings.ToLower(raw)]
}

// score returns the heaviest phrase weight of op found in words.
func (l *Lexicon) score(op string, words []string) int {
	best := 0
	for _, p := range l.intents[op] {
		if p.weight > best && containsPhrase(words, p.words) {
			best = p.weight
		}
	}
	return best
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, w := range phrase {
			if words[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}
