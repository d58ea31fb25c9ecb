package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if required != nil {
		schema["required"] = required
	}
	return schema
}

var toolDefs = []toolDef{
	{
		Name:        "taskforce_get_dashboard",
		Description: "Get the current Kanban dashboard: stats and all tickets grouped by status.",
		InputSchema: objectSchema([]string{}, map[string]any{}),
	},
	{
		Name:        "taskforce_list_tickets",
		Description: "List all tickets. Optionally filter by status or label.",
		InputSchema: objectSchema(nil, map[string]any{
			"status": map[string]any{"type": "string", "enum": []string{"todo", "in_progress", "done"}, "description": "Filter by status"},
			"label":  map[string]any{"type": "string", "description": `Filter by label (e.g. "backend")`},
		}),
	},
	{
		Name:        "taskforce_create_ticket",
		Description: "Create a new ticket in the To Do column.",
		InputSchema: objectSchema([]string{"title"}, map[string]any{
			"title":        map[string]any{"type": "string", "description": "Short task title"},
			"description":  map[string]any{"type": "string", "description": "Detailed description"},
			"priority":     map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}, "default": "medium"},
			"labels":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": `e.g. ["backend","api"]`},
			"assignee":     map[string]any{"type": "string", "description": "Agent name to pre-assign"},
			"dependencies": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Ticket IDs this depends on"},
		}),
	},
	{
		Name:        "taskforce_get_ticket",
		Description: "Get a specific ticket by ID.",
		InputSchema: objectSchema([]string{"id"}, map[string]any{
			"id": map[string]any{"type": "string", "description": "Ticket ID e.g. ticket-001"},
		}),
	},
	{
		Name:        "taskforce_claim_ticket",
		Description: "Claim a ticket: assign yourself and move it to In Progress.",
		InputSchema: objectSchema([]string{"id", "agent"}, map[string]any{
			"id":    map[string]any{"type": "string", "description": "Ticket ID"},
			"agent": map[string]any{"type": "string", "description": "Your agent name e.g. backend-agent"},
		}),
	},
	{
		Name:        "taskforce_log_progress",
		Description: "Append a progress/activity log entry to a ticket.",
		InputSchema: objectSchema([]string{"id", "agent", "message"}, map[string]any{
			"id":      map[string]any{"type": "string", "description": "Ticket ID"},
			"agent":   map[string]any{"type": "string", "description": "Your agent name"},
			"message": map[string]any{"type": "string", "description": "Progress update message"},
			"type":    map[string]any{"type": "string", "enum": []string{"update", "blocked", "note", "completed"}, "default": "update"},
			"details": map[string]any{"type": "string", "description": "Optional extra details or code snippet"},
		}),
	},
	{
		Name:        "taskforce_complete_ticket",
		Description: "Mark a ticket as Done and log completion.",
		InputSchema: objectSchema([]string{"id", "agent"}, map[string]any{
			"id":      map[string]any{"type": "string", "description": "Ticket ID"},
			"agent":   map[string]any{"type": "string", "description": "Your agent name"},
			"summary": map[string]any{"type": "string", "description": "What was accomplished"},
		}),
	},
	{
		Name:        "taskforce_update_ticket",
		Description: "Update any ticket fields (status, assignee, priority, labels).",
		InputSchema: objectSchema([]string{"id"}, map[string]any{
			"id":         map[string]any{"type": "string"},
			"status":     map[string]any{"type": "string", "enum": []string{"todo", "in_progress", "done"}},
			"assignee":   map[string]any{"type": "string"},
			"priority":   map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"labels":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"logAgent":   map[string]any{"type": "string"},
			"logMessage": map[string]any{"type": "string"},
		}),
	},
	{
		Name:        "taskforce_get_activity_log",
		Description: "Read the full activity log for a ticket.",
		InputSchema: objectSchema([]string{"id"}, map[string]any{
			"id": map[string]any{"type": "string", "description": "Ticket ID"},
		}),
	},
	{
		Name:        "taskforce_delete_ticket",
		Description: "Delete a ticket and its activity log.",
		InputSchema: objectSchema([]string{"id"}, map[string]any{
			"id": map[string]any{"type": "string", "description": "Ticket ID"},
		}),
	},
}

// callTool executes one named tool against the API and returns the raw
// JSON result to relay back to the caller.
func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	switch name {
	case "taskforce_get_dashboard":
		return s.client.call(ctx, http.MethodGet, "/dashboard", nil)

	case "taskforce_list_tickets":
		return s.listTickets(ctx, args)

	case "taskforce_create_ticket":
		return s.client.call(ctx, http.MethodPost, "/tickets", map[string]any{
			"title":        args["title"],
			"description":  stringArg(args, "description"),
			"priority":     defaulted(args, "priority", "medium"),
			"labels":       sliceArg(args, "labels"),
			"assignee":     args["assignee"],
			"dependencies": sliceArg(args, "dependencies"),
		})

	case "taskforce_get_ticket":
		return s.client.call(ctx, http.MethodGet, ticketPath(args), nil)

	case "taskforce_claim_ticket":
		return s.client.call(ctx, http.MethodPut, ticketPath(args), map[string]any{
			"status":   "in_progress",
			"assignee": args["agent"],
			"logAgent": args["agent"],
		})

	case "taskforce_log_progress":
		return s.client.call(ctx, http.MethodPost, ticketPath(args)+"/log", map[string]any{
			"agent":   args["agent"],
			"type":    defaulted(args, "type", "update"),
			"message": args["message"],
			"details": stringArg(args, "details"),
		})

	case "taskforce_complete_ticket":
		return s.client.call(ctx, http.MethodPut, ticketPath(args), map[string]any{
			"status":     "done",
			"logAgent":   args["agent"],
			"logMessage": defaulted(args, "summary", "Task completed."),
			"logType":    "completed",
		})

	case "taskforce_update_ticket":
		payload := make(map[string]any, len(args))
		for k, v := range args {
			if k != "id" {
				payload[k] = v
			}
		}
		return s.client.call(ctx, http.MethodPut, ticketPath(args), payload)

	case "taskforce_get_activity_log":
		return s.client.call(ctx, http.MethodGet, ticketPath(args)+"/log", nil)

	case "taskforce_delete_ticket":
		return s.client.call(ctx, http.MethodDelete, ticketPath(args), nil)
	}
	return nil, fmt.Errorf("Unknown tool: %s", name)
}

// listTickets filters on the gateway side; the API has no query
// parameters for this.
func (s *Server) listTickets(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	raw, err := s.client.call(ctx, http.MethodGet, "/tickets", nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		Tickets []map[string]any `json:"tickets"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("mcp: parse tickets: %w", err)
	}

	status := stringArg(args, "status")
	label := stringArg(args, "label")
	tickets := make([]map[string]any, 0, len(data.Tickets))
	for _, t := range data.Tickets {
		if status != "" && t["status"] != status {
			continue
		}
		if label != "" && !hasLabel(t, label) {
			continue
		}
		tickets = append(tickets, t)
	}

	return json.Marshal(map[string]any{"tickets": tickets, "count": len(tickets)})
}

func hasLabel(t map[string]any, label string) bool {
	labels, _ := t["labels"].([]any)
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func ticketPath(args map[string]any) string {
	return "/tickets/" + url.PathEscape(stringArg(args, "id"))
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func defaulted(args map[string]any, key, fallback string) string {
	if s := stringArg(args, key); s != "" {
		return s
	}
	return fallback
}

func sliceArg(args map[string]any, key string) []any {
	if v, ok := args[key].([]any); ok {
		return v
	}
	return []any{}
}
