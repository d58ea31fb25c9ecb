package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// runSession feeds newline-delimited requests through a server backed by
// apiHandler and returns the decoded responses in order.
func runSession(t *testing.T, apiHandler http.Handler, requests ...string) []jsonRPCResponse {
	t.Helper()
	api := httptest.NewServer(apiHandler)
	t.Cleanup(api.Close)

	srv := NewServer(NewClient(api.URL, ""), slog.New(slog.DiscardHandler))
	in := strings.NewReader(strings.Join(requests, "\n") + "\n")
	var out bytes.Buffer
	if err := srv.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var responses []jsonRPCResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func resultMap(t *testing.T, resp jsonRPCResponse) map[string]any {
	t.Helper()
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("result not an object: %v", err)
	}
	return m
}

// toolText extracts the text payload of a tools/call result.
func toolText(t *testing.T, resp jsonRPCResponse) (string, bool) {
	t.Helper()
	m := resultMap(t, resp)
	contents, _ := m["content"].([]any)
	if len(contents) == 0 {
		t.Fatalf("no content in result: %+v", m)
	}
	first := contents[0].(map[string]any)
	isError, _ := m["isError"].(bool)
	return first["text"].(string), isError
}

func TestInitializeAndList(t *testing.T) {
	responses := runSession(t, http.NotFoundHandler(),
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)

	// The notification produces no response line.
	if len(responses) != 2 {
		t.Fatalf("got %d responses", len(responses))
	}

	init := resultMap(t, responses[0])
	if init["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v", init["protocolVersion"])
	}

	list := resultMap(t, responses[1])
	tools, _ := list["tools"].([]any)
	if len(tools) != len(toolDefs) {
		t.Errorf("got %d tools, want %d", len(tools), len(toolDefs))
	}
	names := make(map[string]bool)
	for _, tl := range tools {
		names[tl.(map[string]any)["name"].(string)] = true
	}
	for _, want := range []string{"taskforce_get_dashboard", "taskforce_claim_ticket", "taskforce_delete_ticket"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestCallTool_ClaimTicket(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ticket":{"id":"ticket-001","status":"in_progress"}}`))
	})

	responses := runSession(t, api,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"taskforce_claim_ticket","arguments":{"id":"ticket-001","agent":"backend-agent"}}}`,
	)
	if len(responses) != 1 {
		t.Fatalf("got %d responses", len(responses))
	}

	if gotMethod != "PUT" || gotPath != "/api/tickets/ticket-001" {
		t.Errorf("API call = %s %s", gotMethod, gotPath)
	}
	if gotBody["status"] != "in_progress" || gotBody["assignee"] != "backend-agent" || gotBody["logAgent"] != "backend-agent" {
		t.Errorf("claim payload = %v", gotBody)
	}

	text, isError := toolText(t, responses[0])
	if isError {
		t.Fatalf("unexpected error result: %s", text)
	}
	if !strings.Contains(text, `"ticket-001"`) {
		t.Errorf("text = %s", text)
	}
}

func TestCallTool_ListFilters(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tickets":[
			{"id":"ticket-001","status":"todo","labels":["backend"]},
			{"id":"ticket-002","status":"done","labels":["backend"]},
			{"id":"ticket-003","status":"todo","labels":["frontend"]}
		]}`))
	})

	responses := runSession(t, api,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"taskforce_list_tickets","arguments":{"status":"todo","label":"backend"}}}`,
	)

	text, isError := toolText(t, responses[0])
	if isError {
		t.Fatalf("error result: %s", text)
	}
	var payload struct {
		Tickets []map[string]any `json:"tickets"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("parse tool text: %v", err)
	}
	if payload.Count != 1 || payload.Tickets[0]["id"] != "ticket-001" {
		t.Errorf("filtered = %+v", payload)
	}
}

func TestCallTool_CompleteDefaultsSummary(t *testing.T) {
	var gotBody map[string]any
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ticket":{"id":"ticket-001"}}`))
	})

	runSession(t, api,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"taskforce_complete_ticket","arguments":{"id":"ticket-001","agent":"dev"}}}`,
	)

	if gotBody["status"] != "done" || gotBody["logType"] != "completed" {
		t.Errorf("payload = %v", gotBody)
	}
	if gotBody["logMessage"] != "Task completed." {
		t.Errorf("logMessage = %v, want default summary", gotBody["logMessage"])
	}
}

func TestCallTool_APIErrorBecomesTextPayload(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
	})

	responses := runSession(t, api,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"taskforce_get_ticket","arguments":{"id":"ticket-404"}}}`,
	)

	text, isError := toolText(t, responses[0])
	if !isError {
		t.Error("expected isError result")
	}
	if !strings.Contains(text, "HTTP 404") {
		t.Errorf("text = %s", text)
	}
	// A failed tool call is still a successful JSON-RPC response.
	if responses[0].Error != nil {
		t.Errorf("rpc error = %+v", responses[0].Error)
	}
}

func TestUnknownTool(t *testing.T) {
	responses := runSession(t, http.NotFoundHandler(),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"taskforce_explode","arguments":{}}}`,
	)
	text, isError := toolText(t, responses[0])
	if !isError || !strings.Contains(text, "Unknown tool") {
		t.Errorf("text = %s, isError = %v", text, isError)
	}
}

func TestUnknownMethod(t *testing.T) {
	responses := runSession(t, http.NotFoundHandler(),
		`{"jsonrpc":"2.0","id":7,"method":"resources/list"}`,
	)
	if len(responses) != 1 || responses[0].Error == nil || responses[0].Error.Code != codeMethodNotFound {
		t.Errorf("responses = %+v", responses)
	}
}
