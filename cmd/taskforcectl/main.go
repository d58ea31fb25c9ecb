package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "dashboard":
		cmdDashboard()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: taskforcectl tickets <list|show|create|claim|complete|delete>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			cmdTicketsShow(requireArg(3, "taskforcectl tickets show <id>"))
		case "create":
			cmdTicketsCreate(os.Args[3:])
		case "claim":
			cmdTicketsClaim(os.Args[3:])
		case "complete":
			cmdTicketsComplete(os.Args[3:])
		case "delete":
			cmdTicketsDelete(requireArg(3, "taskforcectl tickets delete <id>"))
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "log":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: taskforcectl log <show|append>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "show":
			cmdLogShow(requireArg(3, "taskforcectl log show <id>"))
		case "append":
			cmdLogAppend(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "unknown log subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body, err := apiDo("GET", "/api/health", nil)
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdDashboard() {
	body, err := apiDo("GET", "/api/dashboard", nil)
	if err != nil {
		fatal(err)
	}

	var data struct {
		Stats struct {
			Total      int `json:"total"`
			Todo       int `json:"todo"`
			InProgress int `json:"in_progress"`
			Done       int `json:"done"`
		} `json:"stats"`
		Tickets      []ticketView `json:"tickets"`
		StorageError string       `json:"_storageError"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		fmt.Println(prettyJSON(body))
		return
	}
	if data.StorageError != "" {
		fmt.Fprintf(os.Stderr, "warning: storage degraded: %s\n", data.StorageError)
	}

	fmt.Printf("Total: %d | Todo: %d | In Progress: %d | Done: %d\n\n",
		data.Stats.Total, data.Stats.Todo, data.Stats.InProgress, data.Stats.Done)
	printTickets(data.Tickets)
}

type ticketView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Assignee string `json:"assignee"`
}

func printTickets(tickets []ticketView) {
	for _, t := range tickets {
		assignee := t.Assignee
		if assignee == "" {
			assignee = "-"
		}
		fmt.Printf("%-12s %-12s %-8s %-16s %s\n", t.ID, t.Status, t.Priority, assignee, t.Title)
	}
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (todo|in_progress|done)")
	fs.Parse(args)

	body, err := apiDo("GET", "/api/tickets", nil)
	if err != nil {
		fatal(err)
	}
	var data struct {
		Tickets []ticketView `json:"tickets"`
	}
	json.Unmarshal(body, &data)

	tickets := data.Tickets
	if *status != "" {
		filtered := tickets[:0]
		for _, t := range tickets {
			if t.Status == *status {
				filtered = append(filtered, t)
			}
		}
		tickets = filtered
	}
	printTickets(tickets)
}

func cmdTicketsShow(id string) {
	body, err := apiDo("GET", "/api/tickets/"+id, nil)
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsCreate(args []string) {
	fs := flag.NewFlagSet("tickets create", flag.ExitOnError)
	title := fs.String("title", "", "Ticket title (required)")
	description := fs.String("description", "", "Detailed description")
	priority := fs.String("priority", "medium", "Priority (low|medium|high)")
	labels := fs.String("labels", "", "Comma-separated labels")
	assignee := fs.String("assignee", "", "Pre-assign to agent")
	fs.Parse(args)

	if *title == "" {
		fmt.Fprintln(os.Stderr, "error: --title is required")
		os.Exit(1)
	}

	payload := map[string]any{
		"title":       *title,
		"description": *description,
		"priority":    *priority,
		"assignee":    *assignee,
		"labels":      splitList(*labels),
	}
	body, err := apiDo("POST", "/api/tickets", payload)
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsClaim(args []string) {
	fs := flag.NewFlagSet("tickets claim", flag.ExitOnError)
	agent := fs.String("agent", "", "Claiming agent name (required)")
	fs.Parse(args)

	id := fs.Arg(0)
	if id == "" || *agent == "" {
		fmt.Fprintln(os.Stderr, "usage: taskforcectl tickets claim --agent <name> <id>")
		os.Exit(1)
	}

	body, err := apiDo("PUT", "/api/tickets/"+id, map[string]any{
		"status":   "in_progress",
		"assignee": *agent,
		"logAgent": *agent,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsComplete(args []string) {
	fs := flag.NewFlagSet("tickets complete", flag.ExitOnError)
	agent := fs.String("agent", "", "Completing agent name (required)")
	summary := fs.String("summary", "Task completed.", "Completion summary")
	fs.Parse(args)

	id := fs.Arg(0)
	if id == "" || *agent == "" {
		fmt.Fprintln(os.Stderr, "usage: taskforcectl tickets complete --agent <name> [--summary <text>] <id>")
		os.Exit(1)
	}

	body, err := apiDo("PUT", "/api/tickets/"+id, map[string]any{
		"status":     "done",
		"logAgent":   *agent,
		"logMessage": *summary,
		"logType":    "completed",
	})
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsDelete(id string) {
	body, err := apiDo("DELETE", "/api/tickets/"+id, nil)
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdLogShow(id string) {
	body, err := apiDo("GET", "/api/tickets/"+id+"/log", nil)
	if err != nil {
		fatal(err)
	}
	var data struct {
		Log string `json:"log"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Print(data.Log)
}

func cmdLogAppend(args []string) {
	fs := flag.NewFlagSet("log append", flag.ExitOnError)
	agent := fs.String("agent", "", "Agent name (required)")
	message := fs.String("message", "", "Log message (required)")
	entryType := fs.String("type", "update", "Entry type (update|blocked|note|completed)")
	details := fs.String("details", "", "Optional details")
	fs.Parse(args)

	id := fs.Arg(0)
	if id == "" || *agent == "" || *message == "" {
		fmt.Fprintln(os.Stderr, "usage: taskforcectl log append --agent <name> --message <text> [--type <t>] [--details <d>] <id>")
		os.Exit(1)
	}

	body, err := apiDo("POST", "/api/tickets/"+id+"/log", map[string]any{
		"agent":   *agent,
		"type":    *entryType,
		"message": *message,
		"details": *details,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

// --- Helpers ---

func apiDo(method, path string, payload any) ([]byte, error) {
	base := envOr("TASKFORCE_API_URL", "http://localhost:8080")

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("TASKFORCE_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requireArg(i int, usage string) string {
	if len(os.Args) <= i {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
	return os.Args[i]
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("taskforcectl — Kanban board CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                      Check daemon health")
	fmt.Println("  dashboard                   Show board stats and tickets")
	fmt.Println("  tickets list                List tickets (--status)")
	fmt.Println("  tickets show <id>           Show ticket details")
	fmt.Println("  tickets create              Create a ticket (--title, --description, --priority, --labels, --assignee)")
	fmt.Println("  tickets claim <id>          Claim a ticket (--agent)")
	fmt.Println("  tickets complete <id>       Complete a ticket (--agent, --summary)")
	fmt.Println("  tickets delete <id>         Delete a ticket and its log")
	fmt.Println("  log show <id>               Print a ticket's activity log")
	fmt.Println("  log append <id>             Append a log entry (--agent, --message, --type, --details)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TASKFORCE_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  TASKFORCE_API_KEY   API key for authentication")
}
