package domain

import "time"

const (
	DefaultHistoryLimit = 20
	UnknownRouteHint    = "Unknown Route"
)

type APIErrorBody struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a conversation. Turns are only ever appended.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
	// Pending marks an assistant turn that asked for missing parameters. Any
	// other assistant turn closes the request before it.
	Pending bool `json:"pending,omitempty"`
}

type SessionStatus string

const (
	SessionIdle     SessionStatus = "idle"
	SessionAwaiting SessionStatus = "awaiting"
)

// SessionState is the orchestrator's position in the clarification loop.
type SessionState struct {
	Status        SessionStatus `json:"status"`
	OperationHint string        `json:"operation_hint,omitempty"`
	Missing       []string      `json:"missing,omitempty"`
}

type Session struct {
	ID        string       `json:"id"`
	Turns     []Turn       `json:"turns"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RecentTurns returns at most limit trailing turns. A non-positive limit keeps everything.
func (s Session) RecentTurns(limit int) []Turn {
	if limit <= 0 || len(s.Turns) <= limit {
		out := make([]Turn, len(s.Turns))
		copy(out, s.Turns)
		return out
	}
	out := make([]Turn, limit)
	copy(out, s.Turns[len(s.Turns)-limit:])
	return out
}

type HelpButton struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type ParameterRequest struct {
	MissingParameters []string `json:"missing_parameters"`
	APIRouteHint      string   `json:"api_route_hint"`
	MessageToUser     string   `json:"message_to_user"`
}

// Envelope is the response shape shared by the request/response and streaming transports.
type Envelope struct {
	APIRoute         *string                `json:"api_route"`
	Parameters       map[string]Value       `json:"parameters"`
	APIResponse      map[string]interface{} `json:"api_response"`
	Error            *string                `json:"error"`
	ParameterRequest *ParameterRequest      `json:"parameter_request"`
	SessionID        string                 `json:"session_id"`
	HelpButtons      []HelpButton           `json:"help_buttons"`
}

type InteractRequest struct {
	PromptText      string `json:"prompt_text"`
	SessionID       string `json:"session_id,omitempty"`
	EmployerAddress string `json:"employer_address,omitempty"`
}

type BatchState struct {
	Schedule   string  `json:"schedule"`
	NextRunAt  *string `json:"next_run_at,omitempty"`
	LastRunAt  *string `json:"last_run_at,omitempty"`
	LastStatus *string `json:"last_status,omitempty"`
	LastError  *string `json:"last_error,omitempty"`
	LastTaskID *string `json:"last_task_id,omitempty"`
}

type BatchSubmission struct {
	EmployerAddress string                 `json:"employer_address"`
	ContractIndex   int64                  `json:"contract_index"`
	TxHash          string                 `json:"tx_hash,omitempty"`
	Transaction     map[string]interface{} `json:"transaction,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

type BatchRunResult struct {
	TaskID      string            `json:"task_id"`
	StartedAt   string            `json:"started_at"`
	FinishedAt  string            `json:"finished_at"`
	Submissions []BatchSubmission `json:"submissions"`
}

type BatchTriggerResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}
