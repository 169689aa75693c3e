package agent

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TTS selects the agent's text-to-speech voice.
type TTS struct {
	Model    string `json:"model"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

var DefaultTTS = TTS{
	Model:    "elevenlabs/eleven_flash_v2_5",
	Voice:    "cgSgspJ2msm6clMCkdW9",
	Language: "en-US",
}

// Auth carries per-attempt credentials. Token is minted by the client for every
// armed attempt and is single-use; ToolToken is stamped by the server.
type Auth struct {
	Token     string `json:"token"`
	ToolToken string `json:"tool_token,omitempty"`
}

// Config is the immutable description of one armed attempt: persona, voice and tools.
type Config struct {
	Instructions         string `json:"instructions"`
	GreetingInstructions string `json:"greeting_instructions,omitempty"`
	TTS                  TTS    `json:"tts"`
	Tools                []Tool `json:"tools"`
	Auth                 Auth   `json:"auth"`
}

// AuthToken returns the single-use token captured when the config was built.
func (c Config) AuthToken() string { return c.Auth.Token }

// Tool looks up a tool by name.
func (c Config) Tool(name string) (Tool, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Builder produces a fresh Config per armed attempt.
type Builder struct {
	origin   string
	tts      TTS
	newToken func() string

	mu        sync.Mutex
	freshUser bool
}

func NewBuilder(origin string, freshUser bool) *Builder {
	return &Builder{
		origin:    strings.TrimRight(strings.TrimSpace(origin), "/"),
		tts:       DefaultTTS,
		newToken:  uuid.NewString,
		freshUser: freshUser,
	}
}

// WithTokenSource overrides the auth token generator.
func (b *Builder) WithTokenSource(fn func() string) *Builder {
	if fn != nil {
		b.newToken = fn
	}
	return b
}

// WithTTS overrides the default voice.
func (b *Builder) WithTTS(tts TTS) *Builder {
	b.tts = tts
	return b
}

// ClearFreshUser drops the first-run tutorial from subsequent configs.
func (b *Builder) ClearFreshUser() {
	b.mu.Lock()
	b.freshUser = false
	b.mu.Unlock()
}

func (b *Builder) Build() Config {
	b.mu.Lock()
	fresh := b.freshUser
	b.mu.Unlock()

	return Config{
		Instructions:         Instructions(fresh),
		GreetingInstructions: greetingInstructions,
		TTS:                  b.tts,
		Tools:                ResolveTools(b.origin, Contract),
		Auth:                 Auth{Token: b.newToken()},
	}
}
