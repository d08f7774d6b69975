package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// HistoryKind tags the variant of a history entry on the wire.
type HistoryKind string

const (
	KindTaskCreated   HistoryKind = "task_created"
	KindTaskMoved     HistoryKind = "task_moved"
	KindTaskReordered HistoryKind = "task_reordered"
	KindTaskUpdated   HistoryKind = "task_updated"
	KindTaskDeleted   HistoryKind = "task_deleted"
)

var ErrUnknownHistoryKind = errors.New("unknown history kind")

// HistoryEntry is one logged board mutation. The set of implementations is
// closed: TaskCreated, TaskMoved, TaskReordered, TaskUpdated and TaskDeleted.
type HistoryEntry interface {
	Kind() HistoryKind
	Meta() EntryMeta
	Describe() string
	historyEntry()
}

// EntryMeta carries the fields shared by every history entry.
type EntryMeta struct {
	TaskID    string    `json:"taskId"`
	TaskTitle string    `json:"taskTitle"`
	Timestamp time.Time `json:"timestamp"`
}

func (m EntryMeta) Meta() EntryMeta { return m }
func (EntryMeta) historyEntry()      {}

type TaskCreated struct {
	EntryMeta
}

type TaskMoved struct {
	EntryMeta
	FromColumn ColumnID
	ToColumn   ColumnID
}

type TaskReordered struct {
	EntryMeta
	Column    ColumnID
	FromIndex int
	ToIndex   int
}

type TaskUpdated struct {
	EntryMeta
	Changes []string
}

type TaskDeleted struct {
	EntryMeta
}

func (TaskCreated) Kind() HistoryKind   { return KindTaskCreated }
func (TaskMoved) Kind() HistoryKind     { return KindTaskMoved }
func (TaskReordered) Kind() HistoryKind { return KindTaskReordered }
func (TaskUpdated) Kind() HistoryKind   { return KindTaskUpdated }
func (TaskDeleted) Kind() HistoryKind   { return KindTaskDeleted }

func (e TaskCreated) Describe() string {
	return fmt.Sprintf("Created task \"%s\"", e.TaskTitle)
}

func (e TaskMoved) Describe() string {
	return fmt.Sprintf("Moved \"%s\" from %s to %s", e.TaskTitle, e.FromColumn.Label(), e.ToColumn.Label())
}

func (e TaskReordered) Describe() string {
	return fmt.Sprintf("Reordered \"%s\" in %s", e.TaskTitle, e.Column.Label())
}

func (e TaskUpdated) Describe() string {
	return fmt.Sprintf("Updated \"%s\": %s", e.TaskTitle, strings.Join(e.Changes, ", "))
}

func (e TaskDeleted) Describe() string {
	return fmt.Sprintf("Deleted task \"%s\"", e.TaskTitle)
}

// CloneEntry returns a copy of e that shares no slices with it.
func CloneEntry(e HistoryEntry) HistoryEntry {
	if u, ok := e.(TaskUpdated); ok {
		u.Changes = slices.Clone(u.Changes)
		return u
	}
	return e
}

// CloneHistory deep copies a history sequence.
func CloneHistory(entries []HistoryEntry) []HistoryEntry {
	if entries == nil {
		return nil
	}
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = CloneEntry(e)
	}
	return out
}

// HistoryRecord is the flat wire form of a HistoryEntry.
type HistoryRecord struct {
	Type       HistoryKind `json:"type"`
	TaskID     string      `json:"taskId"`
	TaskTitle  string      `json:"taskTitle"`
	FromColumn ColumnID    `json:"fromColumn,omitempty"`
	ToColumn   ColumnID    `json:"toColumn,omitempty"`
	Column     ColumnID    `json:"column,omitempty"`
	FromIndex  *int        `json:"fromIndex,omitempty"`
	ToIndex    *int        `json:"toIndex,omitempty"`
	Changes    []string    `json:"changes,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// RecordOf flattens an entry into its wire form.
func RecordOf(e HistoryEntry) HistoryRecord {
	m := e.Meta()
	r := HistoryRecord{Type: e.Kind(), TaskID: m.TaskID, TaskTitle: m.TaskTitle, Timestamp: m.Timestamp}
	switch v := e.(type) {
	case TaskMoved:
		r.FromColumn = v.FromColumn
		r.ToColumn = v.ToColumn
	case TaskReordered:
		from, to := v.FromIndex, v.ToIndex
		r.Column = v.Column
		r.FromIndex = &from
		r.ToIndex = &to
	case TaskUpdated:
		r.Changes = slices.Clone(v.Changes)
	}
	return r
}

// Entry rebuilds the typed entry from its wire form.
func (r HistoryRecord) Entry() (HistoryEntry, error) {
	m := EntryMeta{TaskID: r.TaskID, TaskTitle: r.TaskTitle, Timestamp: r.Timestamp}
	switch r.Type {
	case KindTaskCreated:
		return TaskCreated{EntryMeta: m}, nil
	case KindTaskMoved:
		if !r.FromColumn.Valid() || !r.ToColumn.Valid() {
			return nil, fmt.Errorf("%s entry: %w", r.Type, ErrUnknownColumn)
		}
		return TaskMoved{EntryMeta: m, FromColumn: r.FromColumn, ToColumn: r.ToColumn}, nil
	case KindTaskReordered:
		if !r.Column.Valid() {
			return nil, fmt.Errorf("%s entry: %w", r.Type, ErrUnknownColumn)
		}
		e := TaskReordered{EntryMeta: m, Column: r.Column}
		if r.FromIndex != nil {
			e.FromIndex = *r.FromIndex
		}
		if r.ToIndex != nil {
			e.ToIndex = *r.ToIndex
		}
		return e, nil
	case KindTaskUpdated:
		return TaskUpdated{EntryMeta: m, Changes: slices.Clone(r.Changes)}, nil
	case KindTaskDeleted:
		return TaskDeleted{EntryMeta: m}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownHistoryKind, r.Type)
}

// FormatAge renders how long ago ts happened relative to now.
func FormatAge(ts, now time.Time) string {
	d := now.Sub(ts)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	return ts.Format("2006-01-02")
}
