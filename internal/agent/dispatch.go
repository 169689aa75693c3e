package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// StatusError is returned when the task store answers with a non-2xx status.
type StatusError struct {
	Tool   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: task store status %d: %s", e.Tool, e.Status, e.Body)
}

// Dispatcher executes server tool calls against the task store the way the
// remote agent does: an "id" argument moves into the path, GET arguments become
// the query string and everything else is a JSON body.
type Dispatcher struct {
	tools     map[string]Tool
	toolToken string
	client    *http.Client
	logger    *slog.Logger
}

func NewDispatcher(cfg Config, client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	tools := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools[t.Name] = t
	}
	return &Dispatcher{
		tools:     tools,
		toolToken: cfg.Auth.ToolToken,
		client:    client,
		logger:    logger,
	}
}

// Call runs one tool and returns the decoded JSON response.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	tool, ok := d.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if tool.Type != ToolServer {
		return nil, fmt.Errorf("%w: %s", ErrClientTool, name)
	}
	if err := tool.Validate(); err != nil {
		return nil, err
	}
	if err := tool.CheckArgs(args); err != nil {
		return nil, err
	}

	body := make(map[string]any, len(args))
	for k, v := range args {
		body[k] = v
	}
	target := tool.URL
	if id, ok := body["id"]; ok {
		target = fmt.Sprintf("%s/%s", tool.URL, url.PathEscape(fmt.Sprint(id)))
		delete(body, "id")
	}

	req, err := d.newRequest(ctx, tool.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", name, err)
	}
	if d.toolToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.toolToken)
	}

	d.logger.Info("server tool call", "tool", name, "method", tool.Method, "url", target)
	res, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", name, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", name, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{Tool: name, Status: res.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: response is not json", name)
	}
	return json.RawMessage(raw), nil
}

func (d *Dispatcher) newRequest(ctx context.Context, method, target string, body map[string]any) (*http.Request, error) {
	if method == http.MethodGet {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range body {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	var reader io.Reader
	if len(body) > 0 {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// FormatResult renders a tool outcome as the text handed back to the language model.
func FormatResult(result json.RawMessage, err error) string {
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return fmt.Sprintf("Error: HTTP %d", se.Status)
		}
		return "Error: " + err.Error()
	}
	return "Result: " + string(result)
}
