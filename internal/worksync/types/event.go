package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Command is the canonical lifecycle command an event normalizes to.
// Shape-sniffing of the upstream payload stops at Normalize; the state
// machine only ever sees commands.
type Command string

const (
	CommandCreate  Command = "create"
	CommandBlock   Command = "block"
	CommandUnblock Command = "unblock"
	CommandDelete  Command = "delete"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrNoWorkerData     = errors.New("event carries no worker data")
)

// Event is the envelope delivered by the upstream event source.  The same
// logical event has arrived historically as {data: {...}}, {workers: [...]}
// or {data: {workers: [...]}}; Normalize flattens all three.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Workers []WorkerPayload `json:"workers,omitempty"`
}

// commandForType maps the (case-insensitive) upstream event-type tag to a
// command.  Deletion has three triggers upstream: explicit, validity expiry
// and account removal.
func commandForType(eventType string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "worker.created", "workers.bulk_created":
		return CommandCreate, true
	case "worker.blocked", "unit.workers_blocked":
		return CommandBlock, true
	case "worker.unblocked", "unit.workers_unblocked":
		return CommandUnblock, true
	case "worker.deleted", "user.expired_workers_deleted", "user.deleted_workers_deleted":
		return CommandDelete, true
	}
	return "", false
}

// Normalize resolves the event into a command plus the worker payloads it
// applies to.  Unrecognized types return ErrUnknownEventType; recognized
// types with no extractable workers return ErrNoWorkerData.
func (e Event) Normalize() (Command, []WorkerPayload, error) {
	cmd, ok := commandForType(e.Type)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}

	if len(e.Workers) > 0 {
		return cmd, e.Workers, nil
	}

	if len(e.Data) > 0 {
		// Bulk shape: {data: {workers: [...]}}
		var wrap struct {
			Workers []WorkerPayload `json:"workers"`
		}
		if err := json.Unmarshal(e.Data, &wrap); err == nil && len(wrap.Workers) > 0 {
			return cmd, wrap.Workers, nil
		}

		// Single shape: {data: {...worker fields...}}
		var p WorkerPayload
		if err := json.Unmarshal(e.Data, &p); err == nil && !p.Empty() {
			return cmd, []WorkerPayload{p}, nil
		}
	}

	return cmd, nil, fmt.Errorf("%w (event %s)", ErrNoWorkerData, e.ID)
}
