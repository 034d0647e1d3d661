// Package delivery talks to the sync server: prompt delivery, status push and
// the operator command poll.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/prompt"
)

const (
	// RequestIDHeader carries the server-assigned request id.
	RequestIDHeader = "X-Request-Id"

	// maxErrorBody bounds how much of a failed response body ends up in the error text.
	maxErrorBody = 512
)

// Endpoint is where and how to reach the server. BaseURL includes any API prefix.
type Endpoint struct {
	BaseURL string
	Token   string
}

// Configured reports whether the endpoint has a base URL.
func (e Endpoint) Configured() bool {
	return strings.TrimSpace(e.BaseURL) != ""
}

// Result is the outcome of one delivery attempt.
type Result struct {
	OK        bool
	RequestID string
	Error     string
}

// StatusReport is the body of the status push.
type StatusReport struct {
	DeviceID      string     `json:"deviceId"`
	Pending       int        `json:"pending"`
	Failed        int        `json:"failed"`
	Sending       int        `json:"sending"`
	LastRequestID *string    `json:"lastRequestId"`
	LastSyncAt    *time.Time `json:"lastSyncAt"`
	LastSyncError *string    `json:"lastSyncError"`
}

// CommandType names an operator command.
type CommandType string

const (
	CommandRetryFailed CommandType = "retry_failed"
)

// Command is one outstanding operator command. The server marks it consumed
// when it is returned by a poll.
type Command struct {
	ID      string          `json:"id"`
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is the server contract used by the sync cycle.
type Client interface {
	// Deliver sends one event. Every failure is reported in Result, never as a Go error.
	Deliver(ctx context.Context, ep Endpoint, ev *prompt.Event) Result
	PostStatus(ctx context.Context, ep Endpoint, report StatusReport) error
	FetchCommands(ctx context.Context, ep Endpoint, deviceID string) ([]Command, error)
}

// HTTPClient implements Client over net/http. It makes exactly one request per
// call; retries belong to the outbox.
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient returns a client. A nil httpClient gets one with the given timeout.
func NewHTTPClient(httpClient *http.Client, timeout time.Duration) *HTTPClient {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{httpClient: httpClient}
}

// promptBody is the wire shape of a delivered prompt.
type promptBody struct {
	Site           string          `json:"site"`
	PageURL        string          `json:"pageUrl"`
	ConversationID *string         `json:"conversationId"`
	PromptText     string          `json:"promptText"`
	PromptHash     string          `json:"promptHash"`
	DeviceID       string          `json:"deviceId"`
	ClientEventID  string          `json:"clientEventId"`
	Meta           map[string]any  `json:"meta"`
	Tags           []string        `json:"tags"`
	Analysis       json.RawMessage `json:"analysis"`
}

func newPromptBody(ev *prompt.Event) promptBody {
	body := promptBody{
		Site:          ev.Site,
		PageURL:       ev.PageURL,
		PromptText:    ev.PromptText,
		PromptHash:    ev.PromptHash,
		DeviceID:      ev.DeviceID,
		ClientEventID: ev.ClientEventID,
		Meta:          ev.Meta,
		Tags:          ev.Tags,
		Analysis:      ev.Analysis,
	}
	if ev.ConversationID != "" {
		cid := ev.ConversationID
		body.ConversationID = &cid
	}
	if body.DeviceID == "" {
		body.DeviceID = "unknown"
	}
	if body.Tags == nil {
		body.Tags = []string{}
	}
	if len(body.Analysis) == 0 {
		body.Analysis = json.RawMessage("null")
	}
	return body
}

// Deliver implements Client.
func (c *HTTPClient) Deliver(ctx context.Context, ep Endpoint, ev *prompt.Event) Result {
	resp, err := c.doJSON(ctx, ep, http.MethodPost, "/prompts", newPromptBody(ev), nil)
	if resp == nil {
		return Result{Error: errorText(err)}
	}
	res := Result{RequestID: resp.requestID}
	if err != nil {
		res.Error = errorText(err)
		return res
	}
	res.OK = true
	return res
}

// PostStatus implements Client.
func (c *HTTPClient) PostStatus(ctx context.Context, ep Endpoint, report StatusReport) error {
	_, err := c.doJSON(ctx, ep, http.MethodPost, "/extension/status", report, nil)
	return err
}

// FetchCommands implements Client.
func (c *HTTPClient) FetchCommands(ctx context.Context, ep Endpoint, deviceID string) ([]Command, error) {
	var out struct {
		Commands []Command `json:"commands"`
	}
	path := "/extension/commands?deviceId=" + url.QueryEscape(deviceID)
	if _, err := c.doJSON(ctx, ep, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Commands == nil {
		return []Command{}, nil
	}
	return out.Commands, nil
}

// errorText returns the message shown to the user for a failed attempt.
func errorText(err error) string {
	var sErr *errors.SPRError
	if stderrors.As(err, &sErr) {
		return sErr.Message
	}
	return err.Error()
}

type response struct {
	status    int
	requestID string
}

// doJSON performs one request. A non-nil response is returned whenever the server
// answered, even with an error status.
func (c *HTTPClient) doJSON(ctx context.Context, ep Endpoint, method, requestPath string, body, out any) (*response, error) {
	if !ep.Configured() {
		return nil, errors.NewNotConfigured("server url")
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		bodyReader = bytes.NewReader(data)
	}

	base := strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/")
	req, err := http.NewRequestWithContext(ctx, method, base+requestPath, bodyReader)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(ep.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	r := &response{status: resp.StatusCode, requestID: resp.Header.Get(RequestIDHeader)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(fmt.Sprintf("HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
		return r, errors.NewDelivery(resp.StatusCode, msg, r.requestID)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return r, nil
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return r, err
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return r, fmt.Errorf("decode %s response: %w", requestPath, err)
	}
	return r, nil
}
