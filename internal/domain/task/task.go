// Package task provides the Task domain entity and its lifecycle rules.
package task

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hivemesh/swarmcore/internal/shared"
)

// Config holds the caller-supplied fields of a new task.
type Config struct {
	ID           string
	Capabilities []string
	Priority     shared.TaskPriority
	Payload      map[string]interface{}
}

// New validates a task submission and returns a Pending task.
// Required capability tags must be non-empty.
func New(cfg Config) (shared.Task, error) {
	if len(cfg.Capabilities) == 0 {
		return shared.Task{}, fmt.Errorf("task requires at least one capability tag")
	}
	for _, cap := range cfg.Capabilities {
		if cap == "" {
			return shared.Task{}, fmt.Errorf("task capability tags must be non-empty")
		}
	}

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	priority := cfg.Priority
	if priority == "" {
		priority = shared.PriorityMedium
	}

	now := shared.Now()
	return shared.Task{
		ID:           id,
		Capabilities: shared.CloneStrings(cfg.Capabilities),
		Priority:     priority,
		Payload:      shared.CloneDetails(cfg.Payload),
		Status:       shared.TaskStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidTransition reports whether a task status change is legal.
// Terminal states are immutable.
func ValidTransition(from, to shared.TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case shared.TaskStatusPending:
		return to == shared.TaskStatusAssigned || to == shared.TaskStatusCancelled || to == shared.TaskStatusFailed
	case shared.TaskStatusAssigned:
		return to == shared.TaskStatusRunning || to == shared.TaskStatusPending ||
			to == shared.TaskStatusCompleted || to == shared.TaskStatusFailed || to == shared.TaskStatusCancelled
	case shared.TaskStatusRunning:
		return to == shared.TaskStatusPending ||
			to == shared.TaskStatusCompleted || to == shared.TaskStatusFailed || to == shared.TaskStatusCancelled
	}
	return false
}
