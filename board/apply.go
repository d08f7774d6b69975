package board

import (
	"fmt"

	"github.com/ferdipret/cred-task/domain"
)

// Result is the outcome of a command run through Exec.
type Result struct {
	Applied bool
	// TaskID is the id of the task added by a create-task command.
	TaskID string
	// Snapshot is the board right after the command, taken in the same
	// critical section.
	Snapshot domain.Snapshot
}

// Apply routes a command to the matching engine operation. It reports
// whether the board changed. Errors are returned only for commands that
// cannot be interpreted; a command naming an unknown task is a no-op.
func (e *Engine) Apply(cmd domain.Command) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	applied, _, err := e.applyLocked(cmd)
	return applied, err
}

// Exec is Apply for callers that also need the resulting board. The
// snapshot is set even when the command is rejected.
func (e *Engine) Exec(cmd domain.Command) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	applied, id, err := e.applyLocked(cmd)
	return Result{Applied: applied, TaskID: id, Snapshot: e.snapshotLocked()}, err
}

func (e *Engine) applyLocked(cmd domain.Command) (bool, string, error) {
	switch cmd.Type {
	case domain.CreateTaskCommand:
		var title, desc string
		if cmd.Title != nil {
			title = *cmd.Title
		}
		if cmd.Description != nil {
			desc = *cmd.Description
		}
		id := e.createLocked(title, desc)
		return id != "", id, nil
	case domain.MoveTaskCommand:
		col, err := domain.ParseColumn(string(cmd.Column))
		if err != nil {
			return false, "", err
		}
		if cmd.Index != nil {
			return e.moveLocked(OpMove, cmd.TaskID, col, *cmd.Index, true), "", nil
		}
		return e.moveLocked(OpMove, cmd.TaskID, col, 0, false), "", nil
	case domain.UpdateTaskCommand:
		return e.updateLocked(cmd.TaskID, domain.TaskUpdate{Title: cmd.Title, Description: cmd.Description}), "", nil
	case domain.DeleteTaskCommand:
		return e.deleteLocked(cmd.TaskID), "", nil
	case domain.DropTaskCommand:
		col, err := domain.ParseColumn(string(cmd.Column))
		if err != nil {
			return false, "", err
		}
		edge, err := domain.ParseEdge(string(cmd.Edge))
		if err != nil {
			return false, "", err
		}
		return e.dropLocked(domain.Drop{
			SourceTaskID: cmd.TaskID,
			TargetColumn: col,
			TargetTaskID: cmd.TargetTaskID,
			Edge:         edge,
		}), "", nil
	case domain.SetSearchCommand:
		return e.setSearchLocked(cmd.Term), "", nil
	case domain.ToggleStatusCommand:
		col, err := domain.ParseColumn(string(cmd.Column))
		if err != nil {
			return false, "", err
		}
		return e.toggleLocked(col), "", nil
	case domain.ClearFiltersCommand:
		return e.clearFiltersLocked(), "", nil
	}
	return false, "", fmt.Errorf("%w: %s", domain.ErrUnknownCommand, cmd.Type)
}
