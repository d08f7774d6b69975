package domain

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Edge says on which side of the target task a dragged task was dropped.
type Edge string

const (
	EdgeBefore Edge = "before"
	EdgeAfter  Edge = "after"
)

var ErrUnknownEdge = errors.New("unknown drop edge")

// ParseEdge converts raw input into an Edge. The empty edge means the drop
// names no target task.
func ParseEdge(raw string) (Edge, error) {
	switch e := Edge(raw); e {
	case "", EdgeBefore, EdgeAfter:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEdge, raw)
}

// Drop is a fully resolved drag and drop instruction.
type Drop struct {
	SourceTaskID string   `json:"sourceTaskId"`
	TargetColumn ColumnID `json:"targetColumn"`
	TargetTaskID string   `json:"targetTaskId,omitempty"`
	Edge         Edge     `json:"relativeEdge,omitempty"`
}

// Command types accepted by the board.
const (
	CreateTaskCommand   = "create-task"
	MoveTaskCommand     = "move-task"
	UpdateTaskCommand   = "update-task"
	DeleteTaskCommand   = "delete-task"
	DropTaskCommand     = "drop-task"
	SetSearchCommand    = "set-search"
	ToggleStatusCommand = "toggle-status"
	ClearFiltersCommand = "clear-filters"
)

var ErrUnknownCommand = errors.New("unknown command type")

// Command represents a write request for the board, as received from the
// command queue or the batch endpoint.
type Command struct {
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
	Type           string   `json:"type"`
	TaskID         string   `json:"taskId,omitempty"`
	Title          *string  `json:"title,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Column         ColumnID `json:"column,omitempty"`
	Index          *int     `json:"index,omitempty"`
	TargetTaskID   string   `json:"targetTaskId,omitempty"`
	Edge           Edge     `json:"relativeEdge,omitempty"`
	Term           string   `json:"term,omitempty"`
}

// DecodeCommand parses a single queued command.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := sonic.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: missing type", ErrUnknownCommand)
	}
	return cmd, nil
}
