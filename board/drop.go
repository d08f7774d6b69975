package board

import (
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/domain"
)

// ApplyDrop resolves a drag and drop instruction and moves the task.
//
// Without a target task the source is appended to the target column. With
// one, the insertion index is the target's current position in the target
// column, plus one for a drop after it. The index is taken before the
// source is lifted out, so a drop that names a task missing from the
// target column is ignored. So is a drop with an unknown edge.
func (e *Engine) ApplyDrop(d domain.Drop) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropLocked(d)
}

func (e *Engine) dropLocked(d domain.Drop) bool {
	if _, err := domain.ParseEdge(string(d.Edge)); err != nil {
		e.logger.WithField("task", d.SourceTaskID).WithError(err).Debug("drop ignored")
		e.observe(OpDrop, false)
		return false
	}
	if d.TargetTaskID == "" {
		return e.moveLocked(OpDrop, d.SourceTaskID, d.TargetColumn, 0, false)
	}
	index := slices.Index(e.board.Order[d.TargetColumn], d.TargetTaskID)
	if index < 0 {
		e.logger.WithFields(log.Fields{
			"task":   d.SourceTaskID,
			"target": d.TargetTaskID,
			"column": d.TargetColumn,
		}).Debug("drop ignored: target task not in column")
		e.observe(OpDrop, false)
		return false
	}
	if d.Edge == domain.EdgeAfter {
		index++
	}
	return e.moveLocked(OpDrop, d.SourceTaskID, d.TargetColumn, index, true)
}
