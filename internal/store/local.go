package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskforce-io/taskforce/pkg/board"
)

// localBackend stores tickets as JSON documents under one directory per
// status, with true append-only text logs under logs/. A human-readable
// dashboard document at the root is regenerated after every ticket
// mutation for out-of-band inspection.
type localBackend struct {
	root string
}

func newLocalBackend(root string) *localBackend {
	return &localBackend{root: root}
}

func (b *localBackend) name() string { return "local" }

func (b *localBackend) ensureDirs() error {
	dirs := []string{b.root, b.logsDir()}
	for _, status := range board.Statuses {
		dirs = append(dirs, b.partitionDir(status))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("local: mkdir %s: %w", d, err)
		}
	}
	return nil
}

func (b *localBackend) partitionDir(status board.Status) string {
	return filepath.Join(b.root, string(status))
}

func (b *localBackend) ticketPath(status board.Status, id string) string {
	return filepath.Join(b.partitionDir(status), id+".json")
}

func (b *localBackend) logsDir() string {
	return filepath.Join(b.root, "logs")
}

func (b *localBackend) logPath(id string) string {
	return filepath.Join(b.logsDir(), board.LogFileName(id))
}

func (b *localBackend) listPartition(_ context.Context, status board.Status) ([]*board.Ticket, error) {
	if err := b.ensureDirs(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.partitionDir(status))
	if err != nil {
		return nil, fmt.Errorf("local: read %s: %w", status, err)
	}

	var tickets []*board.Ticket
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.partitionDir(status), e.Name()))
		if err != nil {
			continue
		}
		var t board.Ticket
		if err := json.Unmarshal(data, &t); err != nil {
			continue // malformed document, skip
		}
		tickets = append(tickets, &t)
	}
	return tickets, nil
}

func (b *localBackend) find(_ context.Context, id string) (*record, error) {
	if err := b.ensureDirs(); err != nil {
		return nil, err
	}
	for _, status := range board.Statuses {
		data, err := os.ReadFile(b.ticketPath(status, id))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("local: read %s: %w", id, err)
		}
		var t board.Ticket
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("local: parse %s: %w", id, err)
		}
		t.Status = status
		return &record{ticket: &t, status: status}, nil
	}
	return nil, nil
}

func (b *localBackend) put(ctx context.Context, t *board.Ticket, prior *record) error {
	if err := b.ensureDirs(); err != nil {
		return err
	}
	if prior != nil && prior.status != t.Status {
		// Delete-then-write keeps the record in at most one partition.
		if err := os.Remove(b.ticketPath(prior.status, t.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("local: move %s: %w", t.ID, err)
		}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("local: encode %s: %w", t.ID, err)
	}
	if err := os.WriteFile(b.ticketPath(t.Status, t.ID), data, 0o644); err != nil {
		return fmt.Errorf("local: write %s: %w", t.ID, err)
	}
	return b.refreshDashboard(ctx)
}

func (b *localBackend) remove(ctx context.Context, rec *record) error {
	if err := os.Remove(b.ticketPath(rec.status, rec.ticket.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local: remove %s: %w", rec.ticket.ID, err)
	}
	return b.refreshDashboard(ctx)
}

func (b *localBackend) readLog(_ context.Context, id string) (string, error) {
	data, err := os.ReadFile(b.logPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("local: read log %s: %w", id, err)
	}
	return string(data), nil
}

func (b *localBackend) appendLog(_ context.Context, id, block string) error {
	if err := b.ensureDirs(); err != nil {
		return err
	}
	f, err := os.OpenFile(b.logPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("local: open log %s: %w", id, err)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("local: append log %s: %w", id, err)
	}
	return nil
}

func (b *localBackend) deleteLog(_ context.Context, id string) error {
	if err := os.Remove(b.logPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local: remove log %s: %w", id, err)
	}
	return nil
}

// refreshDashboard rewrites the board summary document wholesale.
func (b *localBackend) refreshDashboard(ctx context.Context) error {
	byStatus := make(map[board.Status][]*board.Ticket)
	total := 0
	for _, status := range board.Statuses {
		tickets, err := b.listPartition(ctx, status)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			t.Status = status
		}
		byStatus[status] = tickets
		total += len(tickets)
	}

	var sb strings.Builder
	sb.WriteString("# TaskForce Kanban Dashboard\n")
	fmt.Fprintf(&sb, "Last updated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Total: %d | Todo: %d | In Progress: %d | Done: %d\n",
		total, len(byStatus[board.StatusTodo]), len(byStatus[board.StatusInProgress]), len(byStatus[board.StatusDone]))

	sections := []struct {
		title  string
		status board.Status
	}{
		{"To Do", board.StatusTodo},
		{"In Progress", board.StatusInProgress},
		{"Done", board.StatusDone},
	}
	for _, sec := range sections {
		tickets := byStatus[sec.status]
		fmt.Fprintf(&sb, "\n## %s (%d)\n", sec.title, len(tickets))
		if len(tickets) == 0 {
			sb.WriteString("_No tickets_\n")
			continue
		}
		for _, t := range tickets {
			fmt.Fprintf(&sb, "- **%s**: %s [%s]", t.ID, t.Title, t.Priority)
			if t.Assignee != "" {
				fmt.Fprintf(&sb, " → %s", t.Assignee)
			}
			sb.WriteString("\n")
		}
	}

	path := filepath.Join(b.root, "taskforce_dashboard.md")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("local: write dashboard: %w", err)
	}
	return nil
}
