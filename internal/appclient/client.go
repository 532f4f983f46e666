package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jiglab/jigbridge/internal/api"
)

// Client is the typed HTTP client for a running jigbridged.
type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

const defaultUnaryTimeout = 10 * time.Second

// New builds a client for addr, a host:port or full base URL. Empty
// addr targets the default local daemon.
func New(addr string) *Client {
	base := strings.TrimSpace(addr)
	if base == "" {
		base = "http://127.0.0.1:3000"
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return NewWithClient(base, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		return api.HealthResponse{}, err
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.HealthResponse{}, fmt.Errorf("decode health response: %w", err)
	}
	return resp, nil
}

func (c *Client) Snapshot(ctx context.Context) (api.SnapshotEnvelope, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/snapshot", nil, nil)
	if err != nil {
		return api.SnapshotEnvelope{}, err
	}
	var env api.SnapshotEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.SnapshotEnvelope{}, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	return env, nil
}

// LogWindowOptions carries the raw half-open bounds. Empty strings mean
// the sequence edge; the daemon validates.
type LogWindowOptions struct {
	Start string
	End   string
}

func (c *Client) LogWindow(ctx context.Context, sequence string, opts LogWindowOptions) (api.LogWindowEnvelope, error) {
	seq := strings.TrimSpace(sequence)
	if seq == "" {
		return api.LogWindowEnvelope{}, fmt.Errorf("log sequence is required")
	}
	query := url.Values{}
	if start := strings.TrimSpace(opts.Start); start != "" {
		query.Set("start", start)
	}
	if end := strings.TrimSpace(opts.End); end != "" {
		query.Set("end", end)
	}
	body, err := c.request(ctx, http.MethodGet, "/v1/logs/"+url.PathEscape(seq), query, nil)
	if err != nil {
		return api.LogWindowEnvelope{}, err
	}
	var env api.LogWindowEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.LogWindowEnvelope{}, fmt.Errorf("decode log window envelope: %w", err)
	}
	return env, nil
}

func (c *Client) TruncateGlobalLog(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPost, "/v1/logs/global/truncate", nil, nil)
	return err
}

type selectCommandRequest struct {
	ID string `json:"id"`
}

type startCommandRequest struct {
	ID string `json:"id,omitempty"`
}

type logCommandRequest struct {
	Message string `json:"message"`
}

type shutdownCommandRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (c *Client) Hello(ctx context.Context) (api.CommandAck, error) {
	return c.postCommand(ctx, "/v1/commands/hello", nil)
}

func (c *Client) RequestJig(ctx context.Context) (api.CommandAck, error) {
	return c.postCommand(ctx, "/v1/commands/jig", nil)
}

func (c *Client) RequestScenarios(ctx context.Context) (api.CommandAck, error) {
	return c.postCommand(ctx, "/v1/commands/scenarios", nil)
}

func (c *Client) RequestTests(ctx context.Context) (api.CommandAck, error) {
	return c.postCommand(ctx, "/v1/commands/tests", nil)
}

func (c *Client) Abort(ctx context.Context) (api.CommandAck, error) {
	return c.postCommand(ctx, "/v1/commands/abort", nil)
}

func (c *Client) SelectScenario(ctx context.Context, id string) (api.CommandAck, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return api.CommandAck{}, fmt.Errorf("scenario id is required")
	}
	return c.postCommand(ctx, "/v1/commands/select", selectCommandRequest{ID: trimmed})
}

// StartScenario starts id, or the active scenario when id is empty.
func (c *Client) StartScenario(ctx context.Context, id string) (api.CommandAck, error) {
	return c.postCommand(ctx, "/v1/commands/start", startCommandRequest{ID: strings.TrimSpace(id)})
}

func (c *Client) Log(ctx context.Context, message string) (api.CommandAck, error) {
	if strings.TrimSpace(message) == "" {
		return api.CommandAck{}, fmt.Errorf("log message is required")
	}
	return c.postCommand(ctx, "/v1/commands/log", logCommandRequest{Message: message})
}

func (c *Client) Shutdown(ctx context.Context, reason string) (api.CommandAck, error) {
	return c.postCommand(ctx, "/v1/commands/shutdown", shutdownCommandRequest{Reason: strings.TrimSpace(reason)})
}

func (c *Client) postCommand(ctx context.Context, path string, req any) (api.CommandAck, error) {
	body, err := c.request(ctx, http.MethodPost, path, nil, req)
	if err != nil {
		return api.CommandAck{}, err
	}
	var ack api.CommandAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return api.CommandAck{}, fmt.Errorf("decode command ack: %w", err)
	}
	return ack, nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}
