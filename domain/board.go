package domain

import (
	"fmt"
	"slices"
)

// Board is the canonical task table plus the per-column ordering.
type Board struct {
	Tasks   map[string]Task       `json:"tasks"`
	Order   map[ColumnID][]string `json:"order"`
	Filters FilterState           `json:"filters"`
}

// EmptyBoard returns a board with no tasks, empty columns and default filters.
func EmptyBoard() Board {
	return Board{
		Tasks:   map[string]Task{},
		Order:   emptyOrder(),
		Filters: DefaultFilters(),
	}
}

func emptyOrder() map[ColumnID][]string {
	order := make(map[ColumnID][]string, len(Columns))
	for _, c := range Columns {
		order[c] = []string{}
	}
	return order
}

// Clone returns a deep copy that shares no maps or slices with b.
func (b Board) Clone() Board {
	out := Board{
		Tasks:   make(map[string]Task, len(b.Tasks)),
		Order:   make(map[ColumnID][]string, len(Columns)),
		Filters: b.Filters.Clone(),
	}
	for id, t := range b.Tasks {
		if t.UpdatedAt != nil {
			ts := *t.UpdatedAt
			t.UpdatedAt = &ts
		}
		out.Tasks[id] = t
	}
	for _, c := range Columns {
		ids := b.Order[c]
		if ids == nil {
			ids = []string{}
		}
		out.Order[c] = slices.Clone(ids)
	}
	return out
}

// Locate finds the column holding id and its position in that column.
func (b Board) Locate(id string) (ColumnID, int, bool) {
	for _, c := range Columns {
		if i := slices.Index(b.Order[c], id); i >= 0 {
			return c, i, true
		}
	}
	return "", -1, false
}

// Column returns the tasks of a column in board order.
func (b Board) Column(c ColumnID) []Task {
	ids := b.Order[c]
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := b.Tasks[id]; ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// Validate checks the referential invariants between Tasks and Order:
// every ordered id exists, no id is ordered twice, and only known columns
// carry an order.
func (b Board) Validate() error {
	for c := range b.Order {
		if !c.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
	}
	seen := make(map[string]ColumnID)
	for _, c := range Columns {
		for _, id := range b.Order[c] {
			if _, ok := b.Tasks[id]; !ok {
				return fmt.Errorf("column %s references missing task %s", c, id)
			}
			if prev, dup := seen[id]; dup {
				if prev == c {
					return fmt.Errorf("task %s appears twice in column %s", id, c)
				}
				return fmt.Errorf("task %s appears in both %s and %s", id, prev, c)
			}
			seen[id] = c
		}
	}
	return nil
}

// normalize fills in nil maps and missing columns left by decoding.
func (b *Board) normalize() {
	if b.Tasks == nil {
		b.Tasks = map[string]Task{}
	}
	if b.Order == nil {
		b.Order = emptyOrder()
	}
	for _, c := range Columns {
		if b.Order[c] == nil {
			b.Order[c] = []string{}
		}
	}
	b.Filters.normalize()
}
