package domain

// Decision is the validated verdict for a single turn. It is exactly one of
// Resolved, MissingParameters or Unclear.
type Decision interface {
	decision()
}

type Resolved struct {
	OperationID string
	Parameters  map[string]Value
}

// MissingParameters names the parameters still needed. OperationHint is empty
// when no operation could be matched with confidence.
type MissingParameters struct {
	OperationHint string
	Missing       []string
}

type Unclear struct{}

func (Resolved) decision()          {}
func (MissingParameters) decision() {}
func (Unclear) decision()           {}

// ClarificationRequest is the user facing rendering of MissingParameters.
type ClarificationRequest struct {
	Message       string
	Buttons       []HelpButton
	OperationHint string
	Missing       []string
}

// RawDecision is unvalidated resolver output.
type RawDecision struct {
	Text string
}
