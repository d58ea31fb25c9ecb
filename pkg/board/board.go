// Package board defines the shared wire types of the TaskForce kanban board.
package board

import "time"

// Status is the lifecycle state of a ticket. It doubles as the storage
// partition key: every backend physically groups tickets by status.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists all partitions in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusTodo || s == StatusInProgress || s == StatusDone
}

// Priority is the urgency of a ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// EntryType classifies an activity log entry.
type EntryType string

const (
	EntryCreated   EntryType = "created"
	EntryClaimed   EntryType = "claimed"
	EntryUpdate    EntryType = "update"
	EntryBlocked   EntryType = "blocked"
	EntryCompleted EntryType = "completed"
	EntryNote      EntryType = "note"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryCreated, EntryClaimed, EntryUpdate, EntryBlocked, EntryCompleted, EntryNote:
		return true
	}
	return false
}

// Ticket is the unit of work on the board. JSON field names match the
// persisted document layout and must not change.
type Ticket struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Assignee        string    `json:"assignee"`
	Status          Status    `json:"status"`
	Priority        Priority  `json:"priority"`
	Labels          []string  `json:"labels"`
	Dependencies    []string  `json:"dependencies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ActivityLogFile string    `json:"activity_log_file"`
}

// LogFileName returns the activity log locator for a ticket ID. It is
// derived once at creation and never recomputed.
func LogFileName(id string) string {
	return "activity-" + id + ".md"
}

// Stats is the dashboard aggregate derived from a full listing.
type Stats struct {
	Total       int       `json:"total"`
	Todo        int       `json:"todo"`
	InProgress  int       `json:"in_progress"`
	Done        int       `json:"done"`
	LastUpdated time.Time `json:"lastUpdated"`
	Agents      []string  `json:"agents"`
}

// CreatePayload carries the caller-supplied fields of a new ticket.
// Everything else (id, status, timestamps, log locator) is synthesized.
type CreatePayload struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Priority     Priority `json:"priority"`
	Labels       []string `json:"labels"`
	Dependencies []string `json:"dependencies"`
	Assignee     string   `json:"assignee"`
}

// UpdatePayload is a partial ticket update. Nil fields are left untouched.
// The Log* fields describe an optional companion log entry appended after
// any automatic status-transition entry.
type UpdatePayload struct {
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Status       *Status   `json:"status,omitempty"`
	Assignee     *string   `json:"assignee,omitempty"`
	Priority     *Priority `json:"priority,omitempty"`
	Labels       *[]string `json:"labels,omitempty"`
	Dependencies *[]string `json:"dependencies,omitempty"`

	LogAgent   string `json:"logAgent,omitempty"`
	LogType    string `json:"logType,omitempty"`
	LogMessage string `json:"logMessage,omitempty"`
	LogDetails string `json:"logDetails,omitempty"`
}
