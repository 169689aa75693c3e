package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/taskmaster/internal/agent"
	"github.com/ent0n29/taskmaster/internal/session"
)

// TokenClient exchanges an agent config for room credentials at
// POST <server>/api/livekit.
type TokenClient struct {
	endpoint string
	client   *http.Client
}

func NewTokenClient(serverURL string, client *http.Client) *TokenClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenClient{
		endpoint: strings.TrimRight(strings.TrimSpace(serverURL), "/") + "/api/livekit",
		client:   client,
	}
}

type tokenResponse struct {
	Token        string `json:"token"`
	URL          string `json:"url"`
	RoomName     string `json:"room_name"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *TokenClient) FetchToken(ctx context.Context, cfg agent.Config) (session.Credentials, error) {
	body, err := json.Marshal(map[string]any{"agentConfig": cfg})
	if err != nil {
		return session.Credentials{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return session.Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("token request: %w", err)
	}
	defer res.Body.Close()

	var data tokenResponse
	decodeErr := json.NewDecoder(res.Body).Decode(&data)
	if res.StatusCode/100 != 2 || data.Error != "" {
		switch {
		case data.ErrorMessage != "":
			return session.Credentials{}, errors.New(data.ErrorMessage)
		case data.Error != "":
			return session.Credentials{}, errors.New(data.Error)
		default:
			return session.Credentials{}, fmt.Errorf("token fetch failed: %d", res.StatusCode)
		}
	}
	if decodeErr != nil {
		return session.Credentials{}, fmt.Errorf("decode token response: %w", decodeErr)
	}
	if data.Token == "" || data.URL == "" {
		return session.Credentials{}, errors.New("token response missing token or url")
	}
	return session.Credentials{Token: data.Token, URL: data.URL, RoomName: data.RoomName}, nil
}
