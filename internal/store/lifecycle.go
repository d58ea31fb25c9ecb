package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/taskforce-io/taskforce/internal/activity"
	"github.com/taskforce-io/taskforce/pkg/board"
)

// lifecycle holds every ticket lifecycle rule (identifier allocation,
// partition moves, transition side effects, log bookkeeping) in one place,
// on top of the narrow primitives a driver provides.
type lifecycle struct {
	backend backend
	logger  *slog.Logger
	now     func() time.Time
}

func (l *lifecycle) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func (l *lifecycle) GetAllTickets(ctx context.Context) ([]*board.Ticket, error) {
	var all []*board.Ticket
	for _, status := range board.Statuses {
		tickets, err := l.backend.listPartition(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("store: list %s: %w", status, err)
		}
		for _, t := range tickets {
			// The partition a ticket was found in is authoritative.
			t.Status = status
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func (l *lifecycle) GetTicketByID(ctx context.Context, id string) (*board.Ticket, error) {
	rec, err := l.backend.find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	rec.ticket.Status = rec.status
	return rec.ticket, nil
}

func (l *lifecycle) CreateTicket(ctx context.Context, payload board.CreatePayload) (*board.Ticket, error) {
	if strings.TrimSpace(payload.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	priority := payload.Priority
	if priority == "" {
		priority = board.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalid, priority)
	}

	// Allocation scans the full current listing; no cross-process lock is
	// held, so concurrent creates against a remote backend may race.
	existing, err := l.GetAllTickets(ctx)
	if err != nil {
		return nil, err
	}
	id := nextTicketID(existing)

	now := l.clock()
	t := &board.Ticket{
		ID:              id,
		Title:           payload.Title,
		Description:     payload.Description,
		Assignee:        payload.Assignee,
		Status:          board.StatusTodo,
		Priority:        priority,
		Labels:          emptyIfNil(payload.Labels),
		Dependencies:    emptyIfNil(payload.Dependencies),
		CreatedAt:       now,
		UpdatedAt:       now,
		ActivityLogFile: board.LogFileName(id),
	}

	if err := l.backend.put(ctx, t, nil); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", id, err)
	}
	if err := l.appendEntry(ctx, id, "Lead", board.EntryCreated, "Ticket registered: "+t.Title, ""); err != nil {
		return nil, err
	}
	l.logger.Info("ticket created", "id", id, "title", t.Title)
	return t, nil
}

func (l *lifecycle) UpdateTicket(ctx context.Context, id string, payload board.UpdatePayload) (*board.Ticket, error) {
	if payload.Status != nil && !payload.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, *payload.Status)
	}
	if payload.Priority != nil && !payload.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalid, *payload.Priority)
	}

	rec, err := l.backend.find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store: update %s: %w", id, err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	merged := mergeTicket(rec.ticket, rec.status, payload)
	merged.UpdatedAt = l.clock()

	if err := l.backend.put(ctx, merged, rec); err != nil {
		return nil, fmt.Errorf("store: update %s: %w", id, err)
	}

	// Status-transition side effects, applied uniformly regardless of
	// which backend holds the record.
	if merged.Status != rec.status {
		agent := transitionAgent(payload, merged)
		switch merged.Status {
		case board.StatusInProgress:
			if err := l.appendEntry(ctx, id, agent, board.EntryClaimed, "Ticket claimed and work started.", payload.LogDetails); err != nil {
				return nil, err
			}
		case board.StatusDone:
			if err := l.appendEntry(ctx, id, agent, board.EntryCompleted, "Ticket marked as done.", payload.LogDetails); err != nil {
				return nil, err
			}
		}
		l.logger.Info("ticket moved", "id", id, "from", rec.status, "to", merged.Status)
	}

	// An explicit log message rides along as a separate entry after the
	// automatic one.
	if payload.LogMessage != "" {
		entryType := board.EntryType(payload.LogType)
		if !entryType.Valid() {
			entryType = board.EntryUpdate
		}
		agent := payload.LogAgent
		if agent == "" {
			agent = merged.Assignee
		}
		if agent == "" {
			agent = "system"
		}
		if err := l.appendEntry(ctx, id, agent, entryType, payload.LogMessage, payload.LogDetails); err != nil {
			return nil, err
		}
	}

	return merged, nil
}

func (l *lifecycle) DeleteTicket(ctx context.Context, id string) error {
	rec, err := l.backend.find(ctx, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if rec == nil {
		return ErrNotFound
	}
	if err := l.backend.remove(ctx, rec); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if err := l.backend.deleteLog(ctx, id); err != nil {
		return fmt.Errorf("store: delete log %s: %w", id, err)
	}
	l.logger.Info("ticket deleted", "id", id)
	return nil
}

func (l *lifecycle) GetActivityLog(ctx context.Context, id string) (string, error) {
	text, err := l.backend.readLog(ctx, id)
	if err != nil {
		return "", fmt.Errorf("store: read log %s: %w", id, err)
	}
	return text, nil
}

func (l *lifecycle) AppendActivityLog(ctx context.Context, id, agent string, entryType board.EntryType, message, details string) error {
	if agent == "" || message == "" {
		return fmt.Errorf("%w: agent and message are required", ErrInvalid)
	}
	if entryType == "" {
		entryType = board.EntryUpdate
	}
	rec, err := l.backend.find(ctx, id)
	if err != nil {
		return fmt.Errorf("store: append log %s: %w", id, err)
	}
	if rec == nil {
		return ErrNotFound
	}
	return l.appendEntry(ctx, id, agent, entryType, message, details)
}

func (l *lifecycle) GetDashboardStats(ctx context.Context) (*board.Stats, error) {
	tickets, err := l.GetAllTickets(ctx)
	if err != nil {
		return nil, err
	}

	stats := &board.Stats{
		Total:       len(tickets),
		LastUpdated: l.clock(),
		Agents:      []string{},
	}
	seen := make(map[string]bool)
	for _, t := range tickets {
		switch t.Status {
		case board.StatusTodo:
			stats.Todo++
		case board.StatusInProgress:
			stats.InProgress++
		case board.StatusDone:
			stats.Done++
		}
		if t.Assignee != "" && !seen[t.Assignee] {
			seen[t.Assignee] = true
			stats.Agents = append(stats.Agents, t.Assignee)
		}
	}
	return stats, nil
}

// appendEntry renders a log block and hands it to the driver.
func (l *lifecycle) appendEntry(ctx context.Context, id, agent string, entryType board.EntryType, message, details string) error {
	block := activity.Render(entryType, agent, message, details, l.clock())
	if err := l.backend.appendLog(ctx, id, block); err != nil {
		return fmt.Errorf("store: append log %s: %w", id, err)
	}
	return nil
}

// nextTicketID computes ticket-{max+1}, zero-padded to three digits and
// widening naturally past 999. Suffixes that fail to parse contribute
// nothing. Deleting a lower-numbered ticket never frees its identifier;
// only the current maximum can ever be reissued.
func nextTicketID(tickets []*board.Ticket) string {
	max := 0
	for _, t := range tickets {
		n, err := strconv.Atoi(strings.TrimPrefix(t.ID, "ticket-"))
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("ticket-%03d", max+1)
}

// mergeTicket applies a partial update on a copy. The ID never changes.
func mergeTicket(t *board.Ticket, current board.Status, p board.UpdatePayload) *board.Ticket {
	merged := *t
	merged.Status = current
	if p.Title != nil {
		merged.Title = *p.Title
	}
	if p.Description != nil {
		merged.Description = *p.Description
	}
	if p.Status != nil {
		merged.Status = *p.Status
	}
	if p.Assignee != nil {
		merged.Assignee = *p.Assignee
	}
	if p.Priority != nil {
		merged.Priority = *p.Priority
	}
	if p.Labels != nil {
		merged.Labels = emptyIfNil(*p.Labels)
	}
	if p.Dependencies != nil {
		merged.Dependencies = emptyIfNil(*p.Dependencies)
	}
	return &merged
}

// transitionAgent resolves the actor for an automatic transition entry.
func transitionAgent(p board.UpdatePayload, merged *board.Ticket) string {
	if p.LogAgent != "" {
		return p.LogAgent
	}
	if p.Assignee != nil && *p.Assignee != "" {
		return *p.Assignee
	}
	if merged.Assignee != "" {
		return merged.Assignee
	}
	return "system"
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
