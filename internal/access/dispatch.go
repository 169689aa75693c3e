package access

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/taskmaster/internal/reliability"
)

const createDispatchPath = "/twirp/livekit.AgentDispatchService/CreateDispatch"

// DispatchClient asks the media server to send a named agent into a room.
type DispatchClient struct {
	baseURL string
	signer  *Signer
	client  *http.Client
	retry   reliability.Policy
}

func NewDispatchClient(serverURL string, signer *Signer, client *http.Client) *DispatchClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DispatchClient{
		baseURL: httpBaseURL(serverURL),
		signer:  signer,
		client:  client,
		retry:   reliability.DefaultPolicy,
	}
}

type dispatchRequest struct {
	Room      string `json:"room"`
	AgentName string `json:"agent_name"`
	Metadata  string `json:"metadata,omitempty"`
}

// Dispatch creates the agent dispatch and returns the server-assigned id.
func (c *DispatchClient) Dispatch(ctx context.Context, room, agentName, metadata string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("dispatch agent: media server url is empty")
	}
	token, err := c.signer.AdminToken(room)
	if err != nil {
		return "", fmt.Errorf("dispatch agent: %w", err)
	}
	payload, err := json.Marshal(dispatchRequest{Room: room, AgentName: agentName, Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("dispatch agent: encode: %w", err)
	}

	var id string
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.post(ctx, token, payload)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("dispatch agent: %w", err)
	}
	return id, nil
}

func (c *DispatchClient) post(ctx context.Context, token string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createDispatchPath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if res.StatusCode != http.StatusOK {
		return "", &reliability.StatusError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return out.ID, nil
}

// httpBaseURL maps ws(s):// media server urls onto their http(s) twin.
func httpBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	}
	return raw
}
