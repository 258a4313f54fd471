package intent

import (
	"context"
	"strings"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
)

const (
	// strongWeight separates deliberate intent phrases from incidental words.
	strongWeight = 2
	cueWindow    = 3
	maxNameWords = 4
)

// RuleResolver is a deterministic resolver driven by a phrase lexicon. It
// reads intent from the prompt, or from the latest earlier user turn of the
// still open request, and extracts parameters from that turn onwards. A
// request stays open only across pending assistant turns.
type RuleResolver struct {
	lex *Lexicon
}

func NewRuleResolver(lex *Lexicon) *RuleResolver {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &RuleResolver{lex: lex}
}

type analyzedTurn struct {
	text   string
	tokens []token
	scores map[string]int
	top    int
	best   []string
}

func (r *RuleResolver) Resolve(ctx context.Context, history []domain.Turn, prompt string, cat *catalog.Catalog) (domain.RawDecision, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.RawDecision{}, ErrEmptyPrompt
	}
	if err := ctx.Err(); err != nil {
		return domain.RawDecision{}, err
	}

	ops := cat.Operations()
	turns := make([]analyzedTurn, 0, len(history)+1)
	for _, t := range history {
		if t.Role != domain.RoleUser {
			if !t.Pending {
				turns = turns[:0]
			}
			continue
		}
		turns = append(turns, r.analyze(t.Text, ops))
	}
	turns = append(turns, r.analyze(prompt, ops))

	idx, candidates := selectIntentTurn(turns)
	if idx < 0 {
		return unclearOutput(), nil
	}
	window := turns[idx:]

	var (
		chosen    catalog.OperationSpec
		chosenPar map[string]domain.Value
		tied      bool
	)
	for _, id := range candidates {
		op, ok := cat.Find(id)
		if !ok {
			continue
		}
		params := r.extract(op, window)
		switch {
		case chosenPar == nil || len(params) > len(chosenPar):
			chosen, chosenPar, tied = op, params, false
		case len(params) == len(chosenPar):
			tied = true
		}
	}
	if chosenPar == nil || tied {
		return unclearOutput(), nil
	}
	return renderDecision(chosen, chosenPar), nil
}

func renderDecision(op catalog.OperationSpec, params map[string]domain.Value) domain.RawDecision {
	route := op.ID
	out := Output{APIRoute: &route, Parameters: domain.ValuesToMap(params)}
	var missing []string
	for _, p := range op.Params {
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		msg := MissingError(missing)
		out.Error = &msg
	}
	return encode(out)
}

func (r *RuleResolver) analyze(text string, ops []catalog.OperationSpec) analyzedTurn {
	tokens := tokenize(text)
	words := r.lex.intentWords(tokens)
	t := analyzedTurn{text: text, tokens: tokens, scores: map[string]int{}}
	for _, op := range ops {
		s := r.lex.score(op.ID, words)
		if s == 0 {
			continue
		}
		t.scores[op.ID] = s
		switch {
		case s > t.top:
			t.top = s
			t.best = []string{op.ID}
		case s == t.top:
			t.best = append(t.best, op.ID)
		}
	}
	return t
}

// selectIntentTurn picks the turn whose intent governs this resolution and
// returns its top scoring operations. A strong intent in the prompt always
// wins. A weak one defers to the latest strong turn when they agree, which
// keeps follow-ups like "employee 0x456" attached to the original request.
func selectIntentTurn(turns []analyzedTurn) (int, []string) {
	last := len(turns) - 1
	prompt := turns[last]
	switch {
	case prompt.top >= strongWeight:
		return last, prompt.best
	case prompt.top > 0:
		for i := last - 1; i >= 0; i-- {
			if turns[i].top < strongWeight {
				continue
			}
			if overlaps(turns[i].best, prompt.best) {
				return i, turns[i].best
			}
			break
		}
		return last, prompt.best
	default:
		for i := last - 1; i >= 0; i-- {
			if turns[i].top > 0 {
				return i, turns[i].best
			}
		}
		return -1, nil
	}
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// extract collects the operation's parameters from the window of turns.
// Values found in later turns replace earlier ones.
func (r *RuleResolver) extract(op catalog.OperationSpec, window []analyzedTurn) map[string]domain.Value {
	params := map[string]domain.Value{}
	for _, t := range window {
		for name, v := range r.extractTurn(op, t, params) {
			params[name] = v
		}
	}
	return params
}

func (r *RuleResolver) extractTurn(op catalog.OperationSpec, t analyzedTurn, prior map[string]domain.Value) map[string]domain.Value {
	found := map[string]domain.Value{}
	set := func(name string, raw interface{}) bool {
		spec, ok := op.Param(name)
		if !ok {
			return false
		}
		v, err := catalog.Coerce(spec, raw)
		if err != nil {
			return false
		}
		found[name] = v
		return true
	}
	filled := func(name string) bool {
		_, a := found[name]
		_, b := prior[name]
		return a || b
	}

	var unlabeledAddrs, unclaimedNums []string
	for i, tok := range t.tokens {
		switch tok.kind {
		case tokenAddress:
			if name, ok := r.labelBefore(op, t.tokens, i, isAddressKind, found); ok && set(name, tok.raw) {
				continue
			}
			unlabeledAddrs = append(unlabeledAddrs, tok.raw)
		case tokenNumber:
			name, ok := r.labelBefore(op, t.tokens, i, isNumericKind, found)
			if !ok {
				name, ok = r.labelAfter(op, t.tokens, i, found)
			}
			if ok && set(name, tok.raw) {
				continue
			}
			unclaimedNums = append(unclaimedNums, tok.raw)
		case tokenWord:
			for _, p := range op.Params {
				if p.Kind != domain.KindEnum {
					continue
				}
				if n, ok := catalog.EnumByLabel(p, tok.norm); ok {
					set(p.Name, n)
				}
			}
		}
	}

	for _, addr := range unlabeledAddrs {
		for _, p := range op.Params {
			if p.Kind == domain.KindAddress && !filled(p.Name) {
				set(p.Name, addr)
				break
			}
		}
	}

	for _, p := range op.Params {
		if p.Kind == domain.KindText && !filled(p.Name) {
			if name := r.findText(op, p, t); name != "" {
				set(p.Name, name)
			}
		}
	}

	if len(unclaimedNums) == 1 {
		var open []string
		for _, p := range op.Params {
			if p.Kind.Numeric() && !filled(p.Name) {
				open = append(open, p.Name)
			}
		}
		if len(open) == 1 {
			set(open[0], unclaimedNums[0])
		}
	}
	return found
}

func isAddressKind(k domain.ParamKind) bool { return k == domain.KindAddress }
func isNumericKind(k domain.ParamKind) bool { return k.Numeric() }

// labelBefore scans back over at most cueWindow meaningful words for a cue
// naming one of the operation's parameters of a compatible kind.
func (r *RuleResolver) labelBefore(op catalog.OperationSpec, tokens []token, i int, kindOK func(domain.ParamKind) bool, taken map[string]domain.Value) (string, bool) {
	seen := 0
	for j := i - 1; j >= 0 && seen < cueWindow; j-- {
		tok := tokens[j]
		if tok.kind != tokenWord {
			return "", false
		}
		if r.lex.isStopword(tok.raw) {
			continue
		}
		seen++
		if name, ok := pickParam(op, r.lex.before[tok.norm], kindOK, taken); ok {
			return name, true
		}
	}
	return "", false
}

func (r *RuleResolver) labelAfter(op catalog.OperationSpec, tokens []token, i int, taken map[string]domain.Value) (string, bool) {
	if i+1 >= len(tokens) || tokens[i+1].kind != tokenWord {
		return "", false
	}
	return pickParam(op, r.lex.after[tokens[i+1].norm], isNumericKind, taken)
}

// pickParam returns the first parameter of op, in declaration order, that the
// cue may label. Parameters already set in this turn are preferred last.
func pickParam(op catalog.OperationSpec, labels []string, kindOK func(domain.ParamKind) bool, taken map[string]domain.Value) (string, bool) {
	if len(labels) == 0 {
		return "", false
	}
	fallback := ""
	for _, p := range op.Params {
		if !kindOK(p.Kind) || !containsString(labels, p.Name) {
			continue
		}
		if _, done := taken[p.Name]; !done {
			return p.Name, true
		}
		if fallback == "" {
			fallback = p.Name
		}
	}
	return fallback, fallback != ""
}

// findText extracts a free-text value such as a person's name: a quoted
// string, the words after a cue like "named", or a capitalized run after a
// verb like "add".
func (r *RuleResolver) findText(op catalog.OperationSpec, p catalog.ParameterSpec, t analyzedTurn) string {
	if quoted := quotedStrings(t.text); len(quoted) > 0 {
		return quoted[0]
	}
	for i, tok := range t.tokens {
		if tok.kind != tokenWord || !containsString(r.lex.before[tok.norm], p.Name) {
			continue
		}
		if name := r.nameAfter(t.tokens, i+1, false); name != "" {
			return name
		}
	}
	for i, tok := range t.tokens {
		if tok.kind != tokenWord || !r.lex.nameVerbs[tok.norm] {
			continue
		}
		if name := r.nameAfter(t.tokens, i+1, true); name != "" {
			return name
		}
	}
	return ""
}

// nameAfter reads a name starting at tokens[start]. Leading stopwords are
// skipped, and so are cue words when skipCues is set ("add employee John").
// A capitalized run is taken whole; otherwise a single lower-case word is
// accepted unless capitalization is required.
func (r *RuleResolver) nameAfter(tokens []token, start int, requireCapital bool) string {
	i := start
	for i < len(tokens) && tokens[i].kind == tokenWord {
		raw := tokens[i].raw
		if r.lex.isStopword(raw) || (requireCapital && r.lex.cueWords[tokens[i].norm] && !isCapitalized(raw)) {
			i++
			continue
		}
		break
	}
	if i >= len(tokens) || tokens[i].kind != tokenWord || r.lex.cueWords[tokens[i].norm] {
		return ""
	}
	if !isCapitalized(tokens[i].raw) {
		if requireCapital {
			return ""
		}
		return tokens[i].raw
	}
	parts := make([]string, 0, maxNameWords)
	for ; i < len(tokens) && len(parts) < maxNameWords; i++ {
		tok := tokens[i]
		if tok.kind != tokenWord || !isCapitalized(tok.raw) || r.lex.isStopword(tok.raw) || r.lex.cueWords[tok.norm] {
			break
		}
		parts = append(parts, tok.raw)
	}
	return strings.Join(parts, " ")
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
