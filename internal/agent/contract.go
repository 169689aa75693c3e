// Package agent describes the voice assistant persona and the fixed tool
// contract the remote agent uses to read and mutate the task store.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode"
)

type ToolType string

const (
	ToolServer ToolType = "server"
	ToolClient ToolType = "client"
)

// Tool names the remote agent must use.
const (
	ToolGetAllTasks      = "get_all_tasks"
	ToolCreateTask       = "create_task"
	ToolUpdateTask       = "update_task"
	ToolDeleteTask       = "delete_task"
	ToolReorderTask      = "reorder_task"
	ToolClearList        = "clear_list"
	ToolStopConversation = "stop_conversation"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrClientTool    = errors.New("client tools are invoked over room rpc")
	ErrMissingArg    = errors.New("missing required argument")
	ErrInvalidConfig = errors.New("invalid tool config")
)

type ArgKind string

const (
	ArgString ArgKind = "string"
	ArgInt    ArgKind = "integer"
	ArgBool   ArgKind = "boolean"
)

// Param is one declared argument of a tool.
type Param struct {
	Name     string
	Kind     ArgKind
	Required bool
	Hint     string
}

// Spec is a tool declaration before its URL is resolved against a deployment origin.
type Spec struct {
	Type        ToolType
	Name        string
	Description string
	Method      string
	Path        string
	Params      []Param
}

// Tool is a resolved tool as sent to the agent inside Config.
type Tool struct {
	Type        ToolType
	Name        string
	Description string
	URL         string
	Method      string
	Params      []Param
}

// Contract is the complete tool surface. Order is the order the agent sees.
var Contract = []Spec{
	{
		Type:        ToolServer,
		Name:        ToolGetAllTasks,
		Description: "Get all tasks from the user's task list. Returns an array of tasks with their details.",
		Method:      http.MethodGet,
		Path:        "/tasks",
	},
	{
		Type:        ToolServer,
		Name:        ToolCreateTask,
		Description: "Create a new task in the user's task list. If the user says they need to do something, add it as a task.",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Params: []Param{
			{Name: "title", Kind: ArgString, Required: true, Hint: "The title of the task to create, capitalize the first letter"},
		},
	},
	{
		Type:        ToolServer,
		Name:        ToolUpdateTask,
		Description: "Update an existing task title or mark it completed/incomplete. If the user says they did something, mark it completed.",
		Method:      http.MethodPatch,
		Path:        "/tasks",
		Params: []Param{
			{Name: "id", Kind: ArgString, Required: true, Hint: "The ID of the task to update"},
			{Name: "title", Kind: ArgString, Hint: "New title for the task, capitalize the first letter"},
			{Name: "completed", Kind: ArgBool, Hint: "Set to true to mark complete, false to mark incomplete"},
		},
	},
	{
		Type:        ToolServer,
		Name:        ToolDeleteTask,
		Description: "Permanently delete a task. This action cannot be undone.",
		Method:      http.MethodDelete,
		Path:        "/tasks",
		Params: []Param{
			{Name: "id", Kind: ArgString, Required: true, Hint: "The ID of the task to delete"},
		},
	},
	{
		Type:        ToolServer,
		Name:        ToolReorderTask,
		Description: "Move a task to a new position. Positive numbers are absolute (1 = first), negative numbers count from the end (-1 = last, -2 = second to last).",
		Method:      http.MethodPatch,
		Path:        "/reorder_task",
		Params: []Param{
			{Name: "id", Kind: ArgString, Required: true, Hint: "The ID of the task to move"},
			{Name: "position", Kind: ArgInt, Required: true, Hint: "The new position: positive for absolute (1 = first), negative to count from end (-1 = last)"},
		},
	},
	{
		Type:        ToolServer,
		Name:        ToolClearList,
		Description: "Delete all visible (non-completed) tasks. Use when the user wants to clear, empty, or delete everything from their list.",
		Method:      http.MethodDelete,
		Path:        "/clear_list",
	},
	{
		Type:        ToolClient,
		Name:        ToolStopConversation,
		Description: "End the voice conversation. Use when the user wants you to stop listening, says goodbye, or says 'shut up'. Do not use it when they finish a task; use update_task for that.",
	},
}

// ResolveTools binds every server tool in specs to origin + "/api" + path.
func ResolveTools(origin string, specs []Spec) []Tool {
	base := strings.TrimRight(strings.TrimSpace(origin), "/") + "/api"
	out := make([]Tool, 0, len(specs))
	for _, s := range specs {
		t := Tool{
			Type:        s.Type,
			Name:        s.Name,
			Description: s.Description,
			Method:      s.Method,
			Params:      append([]Param(nil), s.Params...),
		}
		if s.Type == ToolServer {
			t.URL = base + s.Path
		}
		out = append(out, t)
	}
	return out
}

// Validate checks a server tool the way the agent runtime does before registering it.
func (t Tool) Validate() error {
	if t.Type != ToolServer {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: client tool without name", ErrInvalidConfig)
		}
		return nil
	}
	var missing []string
	if strings.TrimSpace(t.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(t.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(t.Method) == "" {
		missing = append(missing, "method")
	}
	if strings.TrimSpace(t.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %q missing %s", ErrInvalidConfig, t.Name, strings.Join(missing, ", "))
	}
	switch strings.ToUpper(t.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return nil
	default:
		return fmt.Errorf("%w: %q has invalid method %q", ErrInvalidConfig, t.Name, t.Method)
	}
}

// CheckArgs verifies that every required parameter is present.
func (t Tool) CheckArgs(args map[string]any) error {
	for _, p := range t.Params {
		if !p.Required {
			continue
		}
		v, ok := args[p.Name]
		if !ok || v == nil {
			return fmt.Errorf("%w: %s.%s", ErrMissingArg, t.Name, p.Name)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %s.%s", ErrMissingArg, t.Name, p.Name)
		}
	}
	return nil
}

// RPCMethod is the room rpc method name for a client tool (snake_case to camelCase).
func RPCMethod(toolName string) string {
	parts := strings.Split(toolName, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

type wireTool struct {
	Type        ToolType          `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Args        map[string]string `json:"args,omitempty"`
}

// MarshalJSON emits the agent wire shape: args as name -> hint, with the
// required/optional marker folded into the hint.
func (t Tool) MarshalJSON() ([]byte, error) {
	w := wireTool{
		Type:        t.Type,
		Name:        t.Name,
		Description: t.Description,
		URL:         t.URL,
		Method:      t.Method,
	}
	if t.Type == ToolServer {
		w.Args = make(map[string]string, len(t.Params))
		for _, p := range t.Params {
			marker := "(optional)"
			if p.Required {
				marker = "(required)"
			}
			w.Args[p.Name] = strings.TrimSpace(marker + " " + p.Hint)
		}
	}
	return json.Marshal(w)
}

// ArgNames lists declared parameter names in sorted order.
func (t Tool) ArgNames() []string {
	names := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
