package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestContractMatchesToolTable(t *testing.T) {
	want := []struct {
		name   string
		typ    ToolType
		method string
		path   string
		args   string
	}{
		{ToolGetAllTasks, ToolServer, http.MethodGet, "/tasks", ""},
		{ToolCreateTask, ToolServer, http.MethodPost, "/tasks", "title"},
		{ToolUpdateTask, ToolServer, http.MethodPatch, "/tasks", "completed,id,title"},
		{ToolDeleteTask, ToolServer, http.MethodDelete, "/tasks", "id"},
		{ToolReorderTask, ToolServer, http.MethodPatch, "/reorder_task", "id,position"},
		{ToolClearList, ToolServer, http.MethodDelete, "/clear_list", ""},
		{ToolStopConversation, ToolClient, "", "", ""},
	}
	if len(Contract) != len(want) {
		t.Fatalf("len(Contract) = %d, want %d", len(Contract), len(want))
	}
	for i, w := range want {
		s := Contract[i]
		if s.Name != w.name || s.Type != w.typ || s.Method != w.method || s.Path != w.path {
			t.Fatalf("Contract[%d] = %+v, want %+v", i, s, w)
		}
		got := strings.Join(Tool{Params: s.Params}.ArgNames(), ",")
		if got != w.args {
			t.Fatalf("%s args = %q, want %q", s.Name, got, w.args)
		}
	}
}

func TestRequiredParams(t *testing.T) {
	tools := ResolveTools("https://example.com", Contract)
	cfg := Config{Tools: tools}

	update, _ := cfg.Tool(ToolUpdateTask)
	if err := update.CheckArgs(map[string]any{"id": "7"}); err != nil {
		t.Fatalf("update_task with only id: %v", err)
	}
	if err := update.CheckArgs(map[string]any{"title": "x"}); !errors.Is(err, ErrMissingArg) {
		t.Fatalf("update_task without id error = %v, want ErrMissingArg", err)
	}

	reorder, _ := cfg.Tool(ToolReorderTask)
	if err := reorder.CheckArgs(map[string]any{"id": "7"}); !errors.Is(err, ErrMissingArg) {
		t.Fatalf("reorder_task without position error = %v, want ErrMissingArg", err)
	}
	if err := reorder.CheckArgs(map[string]any{"id": "7", "position": -1}); err != nil {
		t.Fatalf("reorder_task with negative position: %v", err)
	}
}

func TestResolveToolsUsesOrigin(t *testing.T) {
	tools := ResolveTools("https://tasks.example.com/", Contract)
	for _, tool := range tools {
		if err := tool.Validate(); err != nil {
			t.Fatalf("Validate(%s) error = %v", tool.Name, err)
		}
		if tool.Type == ToolClient {
			if tool.URL != "" {
				t.Fatalf("client tool %s has URL %q", tool.Name, tool.URL)
			}
			continue
		}
		if !strings.HasPrefix(tool.URL, "https://tasks.example.com/api/") {
			t.Fatalf("%s URL = %q", tool.Name, tool.URL)
		}
	}
	cfg := Config{Tools: tools}
	reorder, ok := cfg.Tool(ToolReorderTask)
	if !ok || reorder.URL != "https://tasks.example.com/api/reorder_task" {
		t.Fatalf("reorder_task = %+v", reorder)
	}
}

func TestValidateRejectsBadMethod(t *testing.T) {
	tool := Tool{Type: ToolServer, Name: "x", Description: "d", URL: "http://h/x", Method: "TRACE"}
	if err := tool.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	tool.Method = ""
	tool.URL = ""
	err := tool.Validate()
	if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), "url, method") {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestToolWireShape(t *testing.T) {
	tools := ResolveTools("http://localhost:8080", Contract)
	raw, err := json.Marshal(tools)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var wire []map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	update := wire[2]
	args, _ := update["args"].(map[string]any)
	if !strings.HasPrefix(args["id"].(string), "(required)") {
		t.Fatalf("id hint = %q", args["id"])
	}
	if !strings.HasPrefix(args["completed"].(string), "(optional)") {
		t.Fatalf("completed hint = %q", args["completed"])
	}
	stop := wire[len(wire)-1]
	if stop["type"] != "client" {
		t.Fatalf("stop_conversation type = %v", stop["type"])
	}
	if _, ok := stop["url"]; ok {
		t.Fatalf("client tool carries url: %v", stop)
	}
}

func TestRPCMethod(t *testing.T) {
	cases := map[string]string{
		"stop_conversation": "stopConversation",
		"refresh":           "refresh",
		"a_b_c":             "aBC",
	}
	for in, want := range cases {
		if got := RPCMethod(in); got != want {
			t.Fatalf("RPCMethod(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuilderMintsFreshTokenPerBuild(t *testing.T) {
	b := NewBuilder("http://localhost:8080", true)
	first := b.Build()
	second := b.Build()
	if first.AuthToken() == "" || first.AuthToken() == second.AuthToken() {
		t.Fatalf("auth tokens = %q, %q; want distinct non-empty", first.AuthToken(), second.AuthToken())
	}
	if !strings.Contains(first.Instructions, "VERY FIRST") {
		t.Fatalf("fresh user instructions missing tutorial")
	}
	b.ClearFreshUser()
	if strings.Contains(b.Build().Instructions, "VERY FIRST") {
		t.Fatalf("tutorial still present after ClearFreshUser")
	}
	if first.TTS != DefaultTTS {
		t.Fatalf("TTS = %+v, want default", first.TTS)
	}
}
