package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// HTTPConfig configures the OUTGOING_WEBHOOK step.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	Client          *http.Client // nil builds one per request
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

var webhookMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead}

// WebhookAction sends an HTTP request and exposes the response to later steps.
type WebhookAction struct {
	config HTTPConfig
}

// NewWebhookAction creates the OUTGOING_WEBHOOK step.
func NewWebhookAction(cfg HTTPConfig) *WebhookAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &WebhookAction{config: cfg}
}

func (a *WebhookAction) StepID() string { return "OUTGOING_WEBHOOK" }

func (a *WebhookAction) Info() StepInfo {
	return StepInfo{
		StepID:      "OUTGOING_WEBHOOK",
		Name:        "Outgoing webhook",
		Description: "Send a request of specified method to a URL",
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{
				"requestMethod": {Type: "string", Title: "Request method"},
				"url":           {Type: "string", Title: "URL"},
				"requestBody":   {Title: "JSON Body"},
				"headers":       {Title: "Headers"},
			},
			Required: []string{"requestMethod", "url"},
		},
	}
}

func (a *WebhookAction) Validate(inputs map[string]any) error {
	rawURL := stringInput(inputs, "url", "")
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "OUTGOING_WEBHOOK: missing required input 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "OUTGOING_WEBHOOK: invalid url %q", rawURL)
	}
	method := strings.ToUpper(stringInput(inputs, "requestMethod", http.MethodPost))
	if !slices.Contains(webhookMethods, method) {
		return schema.NewErrorf(schema.ErrCodeValidation, "OUTGOING_WEBHOOK: unsupported method %q", method)
	}
	return nil
}

// Execute performs the request. Transport failures and non-2xx responses
// produce success=false outputs; only cancellation is returned as an error.
func (a *WebhookAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	method := strings.ToUpper(stringInput(in.Inputs, "requestMethod", http.MethodPost))
	rawURL := stringInput(in.Inputs, "url", "")

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		b, err := requestBody(in.Inputs["requestBody"])
		if err != nil {
			return map[string]any{"success": false, "httpStatus": 400, "response": "Invalid payload JSON: " + err.Error()}, nil
		}
		if b != nil {
			body = strings.NewReader(string(b))
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.config.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "OUTGOING_WEBHOOK: failed to create request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hdrs, ok := objectInput(in.Inputs, "headers"); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	client := a.config.Client
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, schema.NewError(schema.ErrCodeCancelled, "OUTGOING_WEBHOOK: run cancelled").WithCause(err)
		}
		return map[string]any{"success": false, "httpStatus": 400, "response": err.Error()}, nil
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "OUTGOING_WEBHOOK: failed to read response body").WithCause(err)
	}

	var parsed any
	if len(bodyBytes) > 0 {
		if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
			if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
				parsed = string(bodyBytes)
			}
		} else {
			parsed = string(bodyBytes)
		}
	}

	return map[string]any{
		"success":    resp.StatusCode >= 200 && resp.StatusCode < 300,
		"httpStatus": resp.StatusCode,
		"response":   parsed,
	}, nil
}

// requestBody accepts a JSON string or structured data.
func requestBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(b) == "" {
			return nil, nil
		}
		if !json.Valid([]byte(b)) {
			return nil, errors.New("body is not valid JSON")
		}
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

var _ Action = (*WebhookAction)(nil)
