package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"rikapay/apps/gateway/internal/domain"
)

const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderAnthropic        = "anthropic"
	ProviderGemini           = "gemini"

	AdapterOpenAICompatible = "openai-compatible"
	AdapterAnthropic        = "anthropic-messages"
	AdapterGemini           = "gemini"

	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 1024
	maxResponseBytes        = 2 * 1024 * 1024

	ErrorCodeProviderNotConfigured = "provider_not_configured"
	ErrorCodeProviderNotSupported  = "provider_not_supported"
	ErrorCodeProviderRequestFailed = "provider_request_failed"
	ErrorCodeProviderInvalidReply  = "provider_invalid_reply"
)

type RunnerError struct {
	Code    string
	Message string
	Err     error
}

func (e *RunnerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *RunnerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type GenerateConfig struct {
	ProviderID string
	Model      string
	APIKey     string
	BaseURL    string
	AdapterID  string
	Headers    map[string]string
	TimeoutMS  int
	MaxTokens  int
}

// Request is one completion: a system instruction plus alternating turns.
type Request struct {
	System   string
	Messages []domain.Turn
}

type ProviderAdapter interface {
	ID() string
	Generate(ctx context.Context, req Request, cfg GenerateConfig, runner *Runner) (string, error)
}

type Runner struct {
	httpClient *http.Client
	adapters   map[string]ProviderAdapter

	mu     sync.Mutex
	gemini map[string]*genai.Client
}

func New() *Runner {
	return NewWithHTTPClient(&http.Client{})
}

func NewWithHTTPClient(client *http.Client) *Runner {
	if client == nil {
		client = &http.Client{}
	}
	r := &Runner{
		httpClient: client,
		adapters:   map[string]ProviderAdapter{},
		gemini:     map[string]*genai.Client{},
	}
	r.registerAdapter(&openAICompatibleAdapter{})
	r.registerAdapter(&anthropicAdapter{})
	r.registerAdapter(&geminiAdapter{})
	return r
}

func (r *Runner) registerAdapter(adapter ProviderAdapter) {
	if adapter == nil {
		return
	}
	id := strings.TrimSpace(adapter.ID())
	if id == "" {
		return
	}
	r.adapters[id] = adapter
}

func (r *Runner) Generate(ctx context.Context, req Request, cfg GenerateConfig) (string, error) {
	providerID := strings.ToLower(strings.TrimSpace(cfg.ProviderID))
	adapterID := strings.TrimSpace(cfg.AdapterID)
	if adapterID == "" {
		adapterID = defaultAdapterForProvider(providerID)
	}
	if adapterID == "" {
		return "", &RunnerError{
			Code:    ErrorCodeProviderNotSupported,
			Message: fmt.Sprintf("provider %q is not supported", providerID),
		}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return "", &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "model is required for active provider"}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return "", &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "provider api_key is required"}
	}
	if len(req.Messages) == 0 {
		return "", &RunnerError{Code: ErrorCodeProviderRequestFailed, Message: "completion request has no messages"}
	}

	adapter, ok := r.adapters[adapterID]
	if !ok {
		return "", &RunnerError{
			Code:    ErrorCodeProviderNotSupported,
			Message: fmt.Sprintf("adapter %q is not supported", adapterID),
		}
	}

	requestCtx := ctx
	cancel := func() {}
	if cfg.TimeoutMS > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	}
	defer cancel()

	text, err := adapter.Generate(requestCtx, req, cfg, r)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &RunnerError{Code: ErrorCodeProviderInvalidReply, Message: "provider response has empty content"}
	}
	return text, nil
}

func defaultAdapterForProvider(providerID string) string {
	switch providerID {
	case ProviderOpenAI, ProviderOpenAICompatible:
		return AdapterOpenAICompatible
	case ProviderAnthropic:
		return AdapterAnthropic
	case ProviderGemini:
		return AdapterGemini
	}
	if strings.HasPrefix(providerID, ProviderOpenAICompatible) {
		return AdapterOpenAICompatible
	}
	return ""
}

// Client binds a Runner to one provider configuration.
type Client struct {
	runner *Runner
	cfg    GenerateConfig
}

func NewClient(r *Runner, cfg GenerateConfig) *Client {
	if r == nil {
		r = New()
	}
	return &Client{runner: r, cfg: cfg}
}

func (c *Client) Complete(ctx context.Context, system string, messages []domain.Turn) (string, error) {
	return c.runner.Generate(ctx, Request{System: system, Messages: messages}, c.cfg)
}

// postJSON sends payload and decodes a 2xx reply into out. Non-2xx replies
// become provider_request_failed with a bounded excerpt of the body.
func (r *Runner) postJSON(ctx context.Context, url string, headers map[string]string, cfg GenerateConfig, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &RunnerError{
			Code:    ErrorCodeProviderRequestFailed,
			Message: "failed to encode provider request",
			Err:     err,
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &RunnerError{
			Code:    ErrorCodeProviderRequestFailed,
			Message: "failed to create provider request",
			Err:     err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range cfg.Headers {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k == "" || v == "" {
			continue
		}
		httpReq.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return &RunnerError{
			Code:    ErrorCodeProviderRequestFailed,
			Message: "provider request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &RunnerError{
			Code:    ErrorCodeProviderRequestFailed,
			Message: "failed to read provider response",
			Err:     err,
		}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := fmt.Sprintf("provider returned status %d", resp.StatusCode)
		if excerpt := strings.TrimSpace(truncateText(string(respBody), 240)); excerpt != "" {
			msg += ": " + excerpt
		}
		return &RunnerError{Code: ErrorCodeProviderRequestFailed, Message: msg}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &RunnerError{
			Code:    ErrorCodeProviderInvalidReply,
			Message: "provider response is not valid json",
			Err:     err,
		}
	}
	return nil
}

type openAICompatibleAdapter struct{}

func (a *openAICompatibleAdapter) ID() string {
	return AdapterOpenAICompatible
}

func (a *openAICompatibleAdapter) Generate(ctx context.Context, req Request, cfg GenerateConfig, runner *Runner) (string, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	payload := openAIChatRequest{
		Model:     cfg.Model,
		Messages:  toOpenAIMessages(req),
		MaxTokens: cfg.MaxTokens,
	}
	payload.ResponseFormat = &openAIResponseFormat{Type: "json_object"}

	var completion openAIChatResponse
	headers := map[string]string{"Authorization": "Bearer " + strings.TrimSpace(cfg.APIKey)}
	if err := runner.postJSON(ctx, baseURL+"/chat/completions", headers, cfg, payload, &completion); err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", &RunnerError{
			Code:    ErrorCodeProviderInvalidReply,
			Message: "provider response has no choices",
		}
	}
	return extractOpenAIContent(completion.Choices[0].Message.Content), nil
}

type anthropicAdapter struct{}

func (a *anthropicAdapter) ID() string {
	return AdapterAnthropic
}

func (a *anthropicAdapter) Generate(ctx context.Context, req Request, cfg GenerateConfig, runner *Runner) (string, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := anthropicRequest{
		Model:     cfg.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  toAnthropicMessages(req.Messages),
	}

	var reply anthropicResponse
	headers := map[string]string{
		"x-api-key":         strings.TrimSpace(cfg.APIKey),
		"anthropic-version": anthropicVersion,
	}
	if err := runner.postJSON(ctx, baseURL+"/v1/messages", headers, cfg, payload, &reply); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(reply.Content))
	for _, block := range reply.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

type geminiAdapter struct{}

func (a *geminiAdapter) ID() string {
	return AdapterGemini
}

func (a *geminiAdapter) Generate(ctx context.Context, req Request, cfg GenerateConfig, runner *Runner) (string, error) {
	client, err := runner.geminiClient(ctx, cfg)
	if err != nil {
		return "", &RunnerError{
			Code:    ErrorCodeProviderNotConfigured,
			Message: "failed to create gemini client",
			Err:     err,
		}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if strings.TrimSpace(req.System) != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	res, err := client.Models.GenerateContent(ctx, cfg.Model, contents, genCfg)
	if err != nil {
		return "", &RunnerError{
			Code:    ErrorCodeProviderRequestFailed,
			Message: "provider request failed",
			Err:     err,
		}
	}
	return res.Text(), nil
}

// geminiClient caches one client per key and endpoint.
func (r *Runner) geminiClient(ctx context.Context, cfg GenerateConfig) (*genai.Client, error) {
	key := strings.TrimSpace(cfg.APIKey) + "|" + strings.TrimSpace(cfg.BaseURL)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.gemini[key]; ok {
		return c, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: r.httpClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	c, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	r.gemini[key] = c
	return c, nil
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	ID      string `json:"id,omitempty"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func toOpenAIMessages(req Request) []openAIMessage {
	out := make([]openAIMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		out = append(out, openAIMessage{Role: "system", Content: system})
	}
	for _, m := range req.Messages {
		out = append(out, openAIMessage{Role: normalizeRole(m.Role), Content: m.Text})
	}
	return out
}

// toAnthropicMessages merges consecutive turns of the same role; the
// messages API rejects non-alternating conversations.
func toAnthropicMessages(turns []domain.Turn) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(turns))
	for _, t := range turns {
		role := normalizeRole(t.Role)
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + t.Text
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: t.Text})
	}
	return out
}

func normalizeRole(role domain.Role) string {
	if role == domain.RoleAssistant {
		return "assistant"
	}
	return "user"
}

func truncateText(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "...(truncated)"
}

func extractOpenAIContent(raw json.RawMessage) string {
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}
	var arr []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			if item.Type != "text" {
				continue
			}
			text := strings.TrimSpace(item.Text)
			if text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
