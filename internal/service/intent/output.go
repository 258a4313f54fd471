package intent

import (
	"encoding/json"
	"errors"
	"strings"

	"rikapay/apps/gateway/internal/domain"
)

const (
	MissingParametersPrefix = "Missing parameters:"
	UnclearIntentError      = "Could not understand your intent. Please clarify your request related to payroll management."
)

var ErrEmptyPrompt = errors.New("prompt is empty")

// Output is the JSON object every resolver backend must produce.
type Output struct {
	APIRoute   *string                `json:"api_route"`
	Parameters map[string]interface{} `json:"parameters"`
	Error      *string                `json:"error"`
}

// MissingError renders the error field for a missing-parameters verdict.
func MissingError(names []string) string {
	return MissingParametersPrefix + " " + strings.Join(names, ", ")
}

// ParseMissingError extracts parameter names from a "Missing parameters: a, b" error.
func ParseMissingError(msg string) ([]string, bool) {
	msg = strings.TrimSpace(msg)
	if len(msg) < len(MissingParametersPrefix) || !strings.EqualFold(msg[:len(MissingParametersPrefix)], MissingParametersPrefix) {
		return nil, false
	}
	rest := strings.TrimSpace(msg[len(MissingParametersPrefix):])
	rest = strings.TrimSuffix(rest, ".")
	var names []string
	for _, part := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ';' }) {
		name := strings.Trim(strings.TrimSpace(part), "`'\"")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, true
}

func encode(out Output) domain.RawDecision {
	if out.Parameters == nil {
		out.Parameters = map[string]interface{}{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		// Only reachable with unsupported parameter types, which this package never builds.
		panic(err)
	}
	return domain.RawDecision{Text: string(b)}
}

func unclearOutput() domain.RawDecision {
	msg := UnclearIntentError
	return encode(Output{Error: &msg})
}
