package access

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ToolTokens maps bearer tokens handed to dispatched agents onto the task
// list they may operate on.
type ToolTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewToolTokens() *ToolTokens {
	return &ToolTokens{tokens: make(map[string]string)}
}

func (t *ToolTokens) Issue(listID string) string {
	token := "tt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	t.mu.Lock()
	t.tokens[token] = listID
	t.mu.Unlock()
	return token
}

func (t *ToolTokens) Lookup(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	listID, ok := t.tokens[token]
	return listID, ok
}

func (t *ToolTokens) Revoke(token string) {
	t.mu.Lock()
	delete(t.tokens, token)
	t.mu.Unlock()
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
