package store

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/taskforce-io/taskforce/pkg/board"
)

// fakeBackend is an in-memory driver used to exercise the lifecycle core
// in isolation from real storage.
type fakeBackend struct {
	tickets map[string]*board.Ticket
	logs    map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tickets: make(map[string]*board.Ticket),
		logs:    make(map[string]string),
	}
}

func (f *fakeBackend) name() string { return "fake" }

func (f *fakeBackend) listPartition(_ context.Context, status board.Status) ([]*board.Ticket, error) {
	var out []*board.Ticket
	for _, t := range f.tickets {
		if t.Status == status {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeBackend) find(_ context.Context, id string) (*record, error) {
	t, ok := f.tickets[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &record{ticket: &copied, status: t.Status}, nil
}

func (f *fakeBackend) put(_ context.Context, t *board.Ticket, _ *record) error {
	copied := *t
	f.tickets[t.ID] = &copied
	return nil
}

func (f *fakeBackend) remove(_ context.Context, rec *record) error {
	delete(f.tickets, rec.ticket.ID)
	return nil
}

func (f *fakeBackend) readLog(_ context.Context, id string) (string, error) {
	return f.logs[id], nil
}

func (f *fakeBackend) appendLog(_ context.Context, id, block string) error {
	f.logs[id] += block
	return nil
}

func (f *fakeBackend) deleteLog(_ context.Context, id string) error {
	delete(f.logs, id)
	return nil
}

func newTestStore(t *testing.T) (*lifecycle, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	return &lifecycle{
		backend: b,
		logger:  slog.New(slog.DiscardHandler),
		now:     func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) },
	}, b
}

func strPtr(s string) *string                 { return &s }
func statusPtr(s board.Status) *board.Status  { return &s }
func prioPtr(p board.Priority) *board.Priority { return &p }

func TestCreateTicket(t *testing.T) {
	st, b := newTestStore(t)
	ctx := context.Background()

	ticket, err := st.CreateTicket(ctx, board.CreatePayload{Title: "Build API"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if ticket.ID != "ticket-001" {
		t.Errorf("ID = %s, want ticket-001", ticket.ID)
	}
	if ticket.Status != board.StatusTodo {
		t.Errorf("Status = %s, want todo", ticket.Status)
	}
	if ticket.Priority != board.PriorityMedium {
		t.Errorf("Priority = %s, want medium default", ticket.Priority)
	}
	if ticket.Labels == nil || ticket.Dependencies == nil {
		t.Error("Labels/Dependencies must be empty slices, not nil")
	}
	if ticket.ActivityLogFile != "activity-ticket-001.md" {
		t.Errorf("ActivityLogFile = %s", ticket.ActivityLogFile)
	}

	log := b.logs["ticket-001"]
	if !strings.Contains(log, "CREATED") {
		t.Errorf("missing created entry: %q", log)
	}
	if !strings.Contains(log, "**Agent:** Lead") {
		t.Errorf("created entry agent wrong: %q", log)
	}
	if !strings.Contains(log, "Ticket registered: Build API") {
		t.Errorf("created entry message wrong: %q", log)
	}
}

func TestCreateTicket_Validation(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateTicket(ctx, board.CreatePayload{Title: "   "}); err == nil {
		t.Error("expected error for blank title")
	}
	if _, err := st.CreateTicket(ctx, board.CreatePayload{Title: "x", Priority: "urgent"}); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestIDAllocation(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ticket, err := st.CreateTicket(ctx, board.CreatePayload{Title: "t"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		want := []string{"ticket-001", "ticket-002", "ticket-003"}[i-1]
		if ticket.ID != want {
			t.Errorf("ID = %s, want %s", ticket.ID, want)
		}
	}

	// Deleting a lower-numbered ticket must not free its identifier.
	if err := st.DeleteTicket(ctx, "ticket-001"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ticket, err := st.CreateTicket(ctx, board.CreatePayload{Title: "t"})
	if err != nil {
		t.Fatalf("create after delete: %v", err)
	}
	if ticket.ID != "ticket-004" {
		t.Errorf("ID after delete = %s, want ticket-004", ticket.ID)
	}
}

func TestNextTicketID(t *testing.T) {
	tests := []struct {
		ids  []string
		want string
	}{
		{nil, "ticket-001"},
		{[]string{"ticket-001"}, "ticket-002"},
		{[]string{"ticket-001", "ticket-007", "ticket-003"}, "ticket-008"},
		{[]string{"ticket-999"}, "ticket-1000"},
		{[]string{"garbage", "ticket-abc"}, "ticket-001"},
	}
	for _, tt := range tests {
		tickets := make([]*board.Ticket, len(tt.ids))
		for i, id := range tt.ids {
			tickets[i] = &board.Ticket{ID: id}
		}
		if got := nextTicketID(tickets); got != tt.want {
			t.Errorf("nextTicketID(%v) = %s, want %s", tt.ids, got, tt.want)
		}
	}
}

func TestUpdateTicket_Merge(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Old title", Description: "desc"})

	updated, err := st.UpdateTicket(ctx, created.ID, board.UpdatePayload{
		Title:    strPtr("New title"),
		Priority: prioPtr(board.PriorityHigh),
	})
	if err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	if updated.Title != "New title" {
		t.Errorf("Title = %s", updated.Title)
	}
	if updated.Description != "desc" {
		t.Errorf("Description clobbered: %s", updated.Description)
	}
	if updated.Priority != board.PriorityHigh {
		t.Errorf("Priority = %s", updated.Priority)
	}
	if updated.ID != created.ID {
		t.Errorf("ID changed: %s", updated.ID)
	}
}

func TestUpdateTicket_ClaimTransition(t *testing.T) {
	st, b := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Work"})

	updated, err := st.UpdateTicket(ctx, created.ID, board.UpdatePayload{
		Status:   statusPtr(board.StatusInProgress),
		Assignee: strPtr("backend-agent"),
	})
	if err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	if updated.Status != board.StatusInProgress {
		t.Errorf("Status = %s", updated.Status)
	}

	log := b.logs[created.ID]
	if !strings.Contains(log, "CLAIMED") {
		t.Errorf("missing claimed entry: %q", log)
	}
	if !strings.Contains(log, "Ticket claimed and work started.") {
		t.Errorf("claimed message wrong: %q", log)
	}
	if !strings.Contains(log, "**Agent:** backend-agent") {
		t.Errorf("transition agent should come from new assignee: %q", log)
	}
}

func TestUpdateTicket_DoneTransition(t *testing.T) {
	st, b := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Work", Assignee: "dev"})

	if _, err := st.UpdateTicket(ctx, created.ID, board.UpdatePayload{
		Status: statusPtr(board.StatusDone),
	}); err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}

	log := b.logs[created.ID]
	if !strings.Contains(log, "COMPLETED") {
		t.Errorf("missing completed entry: %q", log)
	}
	if !strings.Contains(log, "Ticket marked as done.") {
		t.Errorf("completed message wrong: %q", log)
	}
	// No explicit agent in the payload, falls back to the assignee.
	if !strings.Contains(log, "**Agent:** dev") {
		t.Errorf("transition agent should fall back to assignee: %q", log)
	}
}

func TestUpdateTicket_CompanionLogEntry(t *testing.T) {
	st, b := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Work"})

	if _, err := st.UpdateTicket(ctx, created.ID, board.UpdatePayload{
		Status:     statusPtr(board.StatusDone),
		LogAgent:   "qa-agent",
		LogMessage: "All checks green.",
		LogType:    "completed",
	}); err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}

	log := b.logs[created.ID]
	// Automatic transition entry first, explicit companion entry after.
	autoIdx := strings.Index(log, "Ticket marked as done.")
	explicitIdx := strings.Index(log, "All checks green.")
	if autoIdx < 0 || explicitIdx < 0 {
		t.Fatalf("missing entries: %q", log)
	}
	if explicitIdx < autoIdx {
		t.Error("companion entry must come after the automatic transition entry")
	}
}

func TestUpdateTicket_NoTransitionNoAutoEntry(t *testing.T) {
	st, b := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Work"})
	before := b.logs[created.ID]

	if _, err := st.UpdateTicket(ctx, created.ID, board.UpdatePayload{
		Title: strPtr("Renamed"),
	}); err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	if b.logs[created.ID] != before {
		t.Error("plain field update must not append log entries")
	}
}

func TestUpdateTicket_Validation(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Work"})

	bad := board.Status("archived")
	if _, err := st.UpdateTicket(ctx, created.ID, board.UpdatePayload{Status: &bad}); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := st.UpdateTicket(ctx, "ticket-999", board.UpdatePayload{}); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTicket(t *testing.T) {
	st, b := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Work"})
	if err := st.DeleteTicket(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTicket: %v", err)
	}

	if _, ok := b.tickets[created.ID]; ok {
		t.Error("ticket record survived delete")
	}
	if _, ok := b.logs[created.ID]; ok {
		t.Error("activity log survived delete")
	}
	if err := st.DeleteTicket(ctx, created.ID); err != ErrNotFound {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestGetAllTickets_Sorted(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		if _, err := st.CreateTicket(ctx, board.CreatePayload{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	st.UpdateTicket(ctx, "ticket-002", board.UpdatePayload{Status: statusPtr(board.StatusDone)})

	all, err := st.GetAllTickets(ctx)
	if err != nil {
		t.Fatalf("GetAllTickets: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d tickets", len(all))
	}
	for i, want := range []string{"ticket-001", "ticket-002", "ticket-003"} {
		if all[i].ID != want {
			t.Errorf("all[%d].ID = %s, want %s", i, all[i].ID, want)
		}
	}
}

func TestAppendActivityLog(t *testing.T) {
	st, b := newTestStore(t)
	ctx := context.Background()

	created, _ := st.CreateTicket(ctx, board.CreatePayload{Title: "Work"})

	if err := st.AppendActivityLog(ctx, created.ID, "dev", "", "Making progress.", ""); err != nil {
		t.Fatalf("AppendActivityLog: %v", err)
	}
	if !strings.Contains(b.logs[created.ID], "UPDATE") {
		t.Error("empty entry type should default to update")
	}

	if err := st.AppendActivityLog(ctx, created.ID, "", "msg", "", ""); err == nil {
		t.Error("expected error for missing agent")
	}
	if err := st.AppendActivityLog(ctx, "ticket-999", "dev", "update", "msg", ""); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetDashboardStats(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	st.CreateTicket(ctx, board.CreatePayload{Title: "a"})
	st.CreateTicket(ctx, board.CreatePayload{Title: "b", Assignee: "dev-1"})
	st.CreateTicket(ctx, board.CreatePayload{Title: "c", Assignee: "dev-2"})
	st.UpdateTicket(ctx, "ticket-002", board.UpdatePayload{Status: statusPtr(board.StatusInProgress)})
	st.UpdateTicket(ctx, "ticket-003", board.UpdatePayload{Status: statusPtr(board.StatusDone)})

	stats, err := st.GetDashboardStats(ctx)
	if err != nil {
		t.Fatalf("GetDashboardStats: %v", err)
	}
	if stats.Total != 3 || stats.Todo != 1 || stats.InProgress != 1 || stats.Done != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.Agents) != 2 {
		t.Errorf("Agents = %v, want two distinct", stats.Agents)
	}
}

func TestTransitionAgentResolution(t *testing.T) {
	tests := []struct {
		name    string
		payload board.UpdatePayload
		merged  *board.Ticket
		want    string
	}{
		{"log agent wins", board.UpdatePayload{LogAgent: "la", Assignee: strPtr("pa")}, &board.Ticket{Assignee: "ma"}, "la"},
		{"payload assignee next", board.UpdatePayload{Assignee: strPtr("pa")}, &board.Ticket{Assignee: "pa"}, "pa"},
		{"merged assignee next", board.UpdatePayload{}, &board.Ticket{Assignee: "ma"}, "ma"},
		{"system fallback", board.UpdatePayload{}, &board.Ticket{}, "system"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transitionAgent(tt.payload, tt.merged); got != tt.want {
				t.Errorf("transitionAgent = %s, want %s", got, tt.want)
			}
		})
	}
}
