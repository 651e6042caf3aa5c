// Package responder is the boundary to the external reply service. The
// dispatcher hands it the patient's message plus a limited context window and
// gets back a reply with an optional set of typed actions. Failures (non-2xx,
// timeout, transport) are first-class: callers are expected to fall back to
// canned replies, never to drop the turn.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recoverly/recoverly/internal/platform/apperr"
)

// ActionType tags the closed set of reply actions the platform understands.
type ActionType string

const (
	ActionButton     ActionType = "button"
	ActionEscalation ActionType = "escalation"
	ActionTaskPrompt ActionType = "task_prompt"
)

// Action is one tagged reply action. Unknown tags are rejected at this
// boundary rather than carried through as loose JSON.
type Action struct {
	Type ActionType `json:"type"`

	// button
	Label string `json:"label,omitempty"`
	Value string `json:"value,omitempty"`

	// escalation
	Severity string `json:"severity,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// task_prompt
	TaskID string `json:"task_id,omitempty"`
}

// Validate checks the action against its tag's requirements.
func (a Action) Validate() error {
	switch a.Type {
	case ActionButton:
		if a.Label == "" {
			return fmt.Errorf("button action requires a label")
		}
	case ActionEscalation:
		switch a.Severity {
		case "low", "medium", "high", "critical":
		default:
			return fmt.Errorf("escalation action has invalid severity %q", a.Severity)
		}
	case ActionTaskPrompt:
		if a.TaskID == "" {
			return fmt.Errorf("task_prompt action requires a task_id")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// ContextMessage is one entry of the recent-message window sent along with a
// reply request.
type ContextMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// Context is the limited conversational context the responder receives.
type Context struct {
	RecentMessages []ContextMessage `json:"recent_messages"`
	RecoveryDay    int              `json:"recovery_day"`
	SurgeryType    string           `json:"surgery_type,omitempty"`
	CurrentTask    string           `json:"current_task,omitempty"`
}

// Request is one reply request.
type Request struct {
	Message   string  `json:"message"`
	Context   Context `json:"context"`
	PatientID string  `json:"patient_id"`
}

// Reply is the responder's answer.
type Reply struct {
	Text    string   `json:"reply"`
	Actions []Action `json:"actions,omitempty"`
}

// Client produces a reply for a patient message.
type Client interface {
	Reply(ctx context.Context, req Request) (*Reply, error)
}

// ---------------------------------------------------------------------------
// HTTP-backed client
// ---------------------------------------------------------------------------

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// HTTPClient calls a webhook endpoint with
// {message, context, patient_id} and expects {reply, actions[]} back.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Reply posts the request and decodes the reply. Any transport error,
// timeout, or non-2xx status is returned wrapped as a transient failure.
func (h *HTTPClient) Reply(ctx context.Context, req Request) (*Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal responder request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build responder request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Transient("responder call", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Transient("responder call",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Transient("responder read", err)
	}

	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, apperr.Transient("responder decode", err)
	}
	if reply.Text == "" {
		return nil, apperr.Transient("responder decode", fmt.Errorf("empty reply"))
	}

	// Validate actions at the boundary; drop nothing silently.
	for _, a := range reply.Actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("responder action: %v: %w", err, apperr.ErrValidation)
		}
	}

	return &reply, nil
}
