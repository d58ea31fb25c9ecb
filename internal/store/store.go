// Package store implements the ticket store behind the TaskForce board:
// one lifecycle core shared by three interchangeable storage drivers
// (GitHub data branch, Redis, local filesystem).
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/taskforce-io/taskforce/internal/config"
	"github.com/taskforce-io/taskforce/pkg/board"
)

// ErrNotFound reports that a ticket ID is absent from every partition.
var ErrNotFound = errors.New("ticket not found")

// ErrInvalid reports a validation failure, detected before any backend call.
var ErrInvalid = errors.New("invalid input")

// Store is the public contract consumed by the route layer and the tool
// gateway. Exactly one backend driver serves it, chosen at process start.
type Store interface {
	// GetAllTickets returns every ticket across all status partitions,
	// sorted by ID ascending.
	GetAllTickets(ctx context.Context) ([]*board.Ticket, error)
	// GetTicketByID returns the ticket or ErrNotFound.
	GetTicketByID(ctx context.Context, id string) (*board.Ticket, error)
	// CreateTicket allocates the next ID, persists the ticket in the todo
	// partition and appends the automatic "created" log entry.
	CreateTicket(ctx context.Context, payload board.CreatePayload) (*board.Ticket, error)
	// UpdateTicket merges a partial update. A status change relocates the
	// record to the new partition and may auto-append a log entry.
	UpdateTicket(ctx context.Context, id string, payload board.UpdatePayload) (*board.Ticket, error)
	// DeleteTicket removes the ticket record and its entire activity log.
	DeleteTicket(ctx context.Context, id string) error
	// GetActivityLog returns the full log text, empty if none exists.
	GetActivityLog(ctx context.Context, id string) (string, error)
	// AppendActivityLog appends one entry to the ticket's log.
	AppendActivityLog(ctx context.Context, id, agent string, entryType board.EntryType, message, details string) error
	// GetDashboardStats aggregates counts and distinct assignees from a
	// full listing.
	GetDashboardStats(ctx context.Context) (*board.Stats, error)
}

// record is a ticket as located in a backend: the partition it was loaded
// from and whatever version token the backend needs for a subsequent write.
type record struct {
	ticket *board.Ticket
	status board.Status
	token  string
}

// backend is the narrow storage-primitive surface a driver implements.
// All ticket lifecycle rules live above it, in the lifecycle core.
type backend interface {
	// name identifies the driver in logs.
	name() string
	// listPartition returns the tickets stored under one status partition.
	// Malformed or unreadable individual documents are skipped, not fatal.
	listPartition(ctx context.Context, status board.Status) ([]*board.Ticket, error)
	// find locates a ticket in any partition. Returns nil when absent.
	find(ctx context.Context, id string) (*record, error)
	// put persists a ticket into the partition named by its Status field.
	// prior carries the record's previous location and version token; when
	// the partition changed, the driver removes the old record so that the
	// ticket exists in exactly one partition as observed by readers.
	put(ctx context.Context, t *board.Ticket, prior *record) error
	// remove deletes a located ticket record.
	remove(ctx context.Context, rec *record) error
	// readLog returns the full activity log text, empty if none.
	readLog(ctx context.Context, id string) (string, error)
	// appendLog appends a rendered block to the activity log.
	appendLog(ctx context.Context, id, block string) error
	// deleteLog removes the whole activity log, if present.
	deleteLog(ctx context.Context, id string) error
}

// Open selects the backend driver from configuration and wraps it in the
// lifecycle core. Selection happens once per process; there is no runtime
// fallback between drivers afterwards.
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var b backend
	switch cfg.Backend() {
	case config.BackendGitHub:
		b = newGitHubBackend(cfg.GitHub, logger)
	case config.BackendRedis:
		var err error
		b, err = newRedisBackend(cfg.Redis)
		if err != nil {
			return nil, err
		}
	default:
		b = newLocalBackend(cfg.DataDir)
	}

	logger.Info("ticket store ready", "backend", b.name())
	return &lifecycle{backend: b, logger: logger}, nil
}
