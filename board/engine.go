// Package board implements the task board state engine: the task table,
// the per-column ordering, and the bounded history of mutations.
//
// All operations run inside one critical section. Reference errors (unknown
// task ids), unknown columns and blank titles leave the board untouched and
// are reported only through the debug log and the observer.
package board

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/domain"
)

// Operation names an engine operation for observers.
type Operation string

const (
	OpCreate       Operation = "create"
	OpMove         Operation = "move"
	OpUpdate       Operation = "update"
	OpDelete       Operation = "delete"
	OpDrop         Operation = "drop"
	OpSearch       Operation = "set_search"
	OpToggleStatus Operation = "toggle_status"
	OpClearFilters Operation = "clear_filters"
	OpRestore      Operation = "restore"
)

// Clock returns the current time.
type Clock func() time.Time

// IDGenerator returns a fresh task identifier.
type IDGenerator func() string

// Observer is told about every operation and whether it changed the board.
// It runs inside the engine's critical section and must not call back into
// the engine.
type Observer func(op Operation, applied bool)

// Engine owns the board and its history log.
type Engine struct {
	mu      sync.Mutex
	board   domain.Board
	history historyLog
	subs    map[*subscriber]struct{}

	now     Clock
	newID   IDGenerator
	logger  *log.Logger
	observe Observer
	initial *domain.Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithSnapshot seeds the engine with previously saved state. A snapshot that
// breaks the board invariants is ignored in favour of an empty board.
func WithSnapshot(s domain.Snapshot) Option {
	return func(e *Engine) {
		cp := s.Clone()
		e.initial = &cp
	}
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.newID = g }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observe = o }
}

// New creates an engine. Without WithSnapshot it starts from an empty board.
func New(opts ...Option) *Engine {
	e := &Engine{
		board:   domain.EmptyBoard(),
		history: newHistoryLog(nil),
		subs:    make(map[*subscriber]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		logger:  log.StandardLogger(),
		observe: func(Operation, bool) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.initial != nil {
		if err := e.load(*e.initial); err != nil {
			e.logger.WithError(err).Warn("initial snapshot rejected; starting with an empty board")
		}
		e.initial = nil
	}
	return e
}

func (e *Engine) load(s domain.Snapshot) error {
	if err := s.Board.Validate(); err != nil {
		return err
	}
	e.board = s.Board.Clone()
	e.history = newHistoryLog(s.History)
	return nil
}

// Snapshot returns a deep copy of the current board and history.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() domain.Snapshot {
	return domain.Snapshot{
		Version: domain.SnapshotVersion,
		Board:   e.board.Clone(),
		History: e.history.list(),
	}
}

// History returns the logged mutations, newest first.
func (e *Engine) History() []domain.HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.list()
}

// Restore replaces the whole board and history, for example after loading
// persisted state. An invalid snapshot is rejected and the board kept.
func (e *Engine) Restore(s domain.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.load(s); err != nil {
		e.observe(OpRestore, false)
		return fmt.Errorf("restore: %w", err)
	}
	e.commit(OpRestore)
	return nil
}

// CreateTask adds a task at the top of the todo column and returns its id.
// A title that is blank after trimming is ignored and "" is returned.
func (e *Engine) CreateTask(title, description string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createLocked(title, description)
}

func (e *Engine) createLocked(title, description string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		e.logger.Debug("create ignored: blank title")
		e.observe(OpCreate, false)
		return ""
	}
	id := e.newID()
	if _, taken := e.board.Tasks[id]; taken || id == "" {
		id = uuid.NewString()
	}
	now := e.now()
	e.board.Tasks[id] = domain.Task{ID: id, Title: title, Description: description, CreatedAt: now}
	e.board.Order[domain.Todo] = slices.Insert(e.board.Order[domain.Todo], 0, id)
	e.history.push(domain.TaskCreated{EntryMeta: meta(id, title, now)})
	e.commit(OpCreate)
	return id
}

// MoveTask appends a task to the end of column target.
func (e *Engine) MoveTask(id string, target domain.ColumnID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moveLocked(OpMove, id, target, 0, false)
}

// MoveTaskTo places a task at index in column target. The index is clamped
// to the bounds of the column after the task has been taken out of it.
func (e *Engine) MoveTaskTo(id string, target domain.ColumnID, index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moveLocked(OpMove, id, target, index, true)
}

func (e *Engine) moveLocked(op Operation, id string, target domain.ColumnID, index int, explicit bool) bool {
	fields := log.Fields{"task": id, "column": target}
	if !target.Valid() {
		e.logger.WithFields(fields).Debug("move ignored: unknown column")
		e.observe(op, false)
		return false
	}
	task, ok := e.board.Tasks[id]
	if !ok {
		e.logger.WithFields(fields).Debug("move ignored: unknown task")
		e.observe(op, false)
		return false
	}
	from, fromIndex, ok := e.board.Locate(id)
	if !ok {
		e.logger.WithFields(fields).Debug("move ignored: task is not on any column")
		e.observe(op, false)
		return false
	}

	e.removeFromColumns(id)
	dest := e.board.Order[target]
	at := len(dest)
	if explicit {
		at = max(0, min(index, len(dest)))
	}
	e.board.Order[target] = slices.Insert(dest, at, id)

	now := e.now()
	if from == target {
		e.history.push(domain.TaskReordered{
			EntryMeta: meta(id, task.Title, now),
			Column:    target,
			FromIndex: fromIndex,
			ToIndex:   at,
		})
	} else {
		e.history.push(domain.TaskMoved{
			EntryMeta:  meta(id, task.Title, now),
			FromColumn: from,
			ToColumn:   target,
		})
	}
	e.commit(op)
	return true
}

// UpdateTask edits the title and/or description of a task. A blank title
// rejects the whole update. History is only written when a field changes.
func (e *Engine) UpdateTask(id string, upd domain.TaskUpdate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateLocked(id, upd)
}

func (e *Engine) updateLocked(id string, upd domain.TaskUpdate) bool {
	task, ok := e.board.Tasks[id]
	if !ok {
		e.logger.WithField("task", id).Debug("update ignored: unknown task")
		e.observe(OpUpdate, false)
		return false
	}
	updated := task
	changes := make([]string, 0, 2)
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			e.logger.WithField("task", id).Debug("update ignored: blank title")
			e.observe(OpUpdate, false)
			return false
		}
		if title != task.Title {
			changes = append(changes, fmt.Sprintf("title: \"%s\" → \"%s\"", task.Title, title))
			updated.Title = title
		}
	}
	if upd.Description != nil && *upd.Description != task.Description {
		changes = append(changes, fmt.Sprintf("description: \"%s\" → \"%s\"", orEmpty(task.Description), orEmpty(*upd.Description)))
		updated.Description = *upd.Description
	}
	if len(changes) == 0 {
		e.observe(OpUpdate, false)
		return false
	}

	now := e.now()
	updated.UpdatedAt = &now
	e.board.Tasks[id] = updated
	e.history.push(domain.TaskUpdated{EntryMeta: meta(id, updated.Title, now), Changes: changes})
	e.commit(OpUpdate)
	return true
}

// DeleteTask removes a task from the table and from every column.
func (e *Engine) DeleteTask(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteLocked(id)
}

func (e *Engine) deleteLocked(id string) bool {
	task, ok := e.board.Tasks[id]
	if !ok {
		e.logger.WithField("task", id).Debug("delete ignored: unknown task")
		e.observe(OpDelete, false)
		return false
	}
	delete(e.board.Tasks, id)
	e.removeFromColumns(id)
	e.history.push(domain.TaskDeleted{EntryMeta: meta(id, task.Title, e.now())})
	e.commit(OpDelete)
	return true
}

// SetSearchTerm stores term verbatim; trimming happens when matching.
func (e *Engine) SetSearchTerm(term string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setSearchLocked(term)
}

func (e *Engine) setSearchLocked(term string) bool {
	if e.board.Filters.SearchTerm == term {
		e.observe(OpSearch, false)
		return false
	}
	e.board.Filters.SearchTerm = term
	e.commit(OpSearch)
	return true
}

// ToggleStatusFilter flips the visibility of column c.
func (e *Engine) ToggleStatusFilter(c domain.ColumnID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.toggleLocked(c)
}

func (e *Engine) toggleLocked(c domain.ColumnID) bool {
	if !c.Valid() {
		e.logger.WithField("column", c).Debug("toggle ignored: unknown column")
		e.observe(OpToggleStatus, false)
		return false
	}
	e.board.Filters.StatusFilters[c] = !e.board.Filters.Visible(c)
	e.commit(OpToggleStatus)
	return true
}

// ClearFilters resets the search term and shows every column.
func (e *Engine) ClearFilters() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clearFiltersLocked()
}

func (e *Engine) clearFiltersLocked() bool {
	if e.board.Filters.SearchTerm == "" && e.board.Filters.ActiveCount() == 0 {
		e.observe(OpClearFilters, false)
		return false
	}
	e.board.Filters = domain.DefaultFilters()
	e.commit(OpClearFilters)
	return true
}

func (e *Engine) removeFromColumns(id string) {
	for _, c := range domain.Columns {
		e.board.Order[c] = slices.DeleteFunc(e.board.Order[c], func(x string) bool { return x == id })
	}
}

// commit reports an applied operation and publishes the new state.
func (e *Engine) commit(op Operation) {
	e.observe(op, true)
	e.publishLocked(e.snapshotLocked())
}

func meta(id, title string, ts time.Time) domain.EntryMeta {
	return domain.EntryMeta{TaskID: id, TaskTitle: title, Timestamp: ts}
}

func orEmpty(s string) string {
	if s == "" {
		return "empty"
	}
	return s
}
