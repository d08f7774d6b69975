package domain

import (
	"errors"
	"fmt"
)

// ColumnID identifies one of the fixed board columns.
type ColumnID string

const (
	Todo       ColumnID = "todo"
	InProgress ColumnID = "inprogress"
	Done       ColumnID = "done"
)

// Columns lists every column in display order.
var Columns = [...]ColumnID{Todo, InProgress, Done}

var ErrUnknownColumn = errors.New("unknown column")

// Valid reports whether c is one of the board columns.
func (c ColumnID) Valid() bool {
	switch c {
	case Todo, InProgress, Done:
		return true
	}
	return false
}

// Label returns the display name used in history text.
func (c ColumnID) Label() string {
	switch c {
	case Todo:
		return "To Do"
	case InProgress:
		return "In Progress"
	case Done:
		return "Done"
	}
	return string(c)
}

// ParseColumn converts raw input into a ColumnID.
func ParseColumn(raw string) (ColumnID, error) {
	c := ColumnID(raw)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownColumn, raw)
	}
	return c, nil
}
