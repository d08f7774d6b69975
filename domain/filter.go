package domain

import (
	"maps"
	"strings"
)

// FilterState holds the search term and per-column visibility toggles.
type FilterState struct {
	SearchTerm    string            `json:"searchTerm"`
	StatusFilters map[ColumnID]bool `json:"statusFilters"`
}

// DefaultFilters returns an empty search with every column visible.
func DefaultFilters() FilterState {
	status := make(map[ColumnID]bool, len(Columns))
	for _, c := range Columns {
		status[c] = true
	}
	return FilterState{StatusFilters: status}
}

// Clone returns a copy with its own status map.
func (f FilterState) Clone() FilterState {
	out := FilterState{SearchTerm: f.SearchTerm, StatusFilters: maps.Clone(f.StatusFilters)}
	out.normalize()
	return out
}

// Visible reports whether column c is shown. Unset flags count as visible.
func (f FilterState) Visible(c ColumnID) bool {
	v, ok := f.StatusFilters[c]
	return !ok || v
}

// ActiveCount is the number of filters narrowing the board: a non-blank
// search term counts once and every hidden column counts once.
func (f FilterState) ActiveCount() int {
	n := 0
	if strings.TrimSpace(f.SearchTerm) != "" {
		n++
	}
	for _, c := range Columns {
		if !f.Visible(c) {
			n++
		}
	}
	return n
}

func (f *FilterState) normalize() {
	if f.StatusFilters == nil {
		f.StatusFilters = make(map[ColumnID]bool, len(Columns))
	}
	for _, c := range Columns {
		if _, ok := f.StatusFilters[c]; !ok {
			f.StatusFilters[c] = true
		}
	}
	for c := range f.StatusFilters {
		if !c.Valid() {
			delete(f.StatusFilters, c)
		}
	}
}

// VisibleTasks projects the board through its filters and returns the ids
// shown in column c, in column order. A hidden column yields an empty slice.
func VisibleTasks(b Board, c ColumnID) []string {
	ids := b.Order[c]
	if !b.Filters.Visible(c) {
		return []string{}
	}
	term := strings.ToLower(strings.TrimSpace(b.Filters.SearchTerm))
	if term == "" {
		return append([]string{}, ids...)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		t, ok := b.Tasks[id]
		if !ok {
			continue
		}
		if matches(t, term) {
			out = append(out, id)
		}
	}
	return out
}

func matches(t Task, term string) bool {
	if strings.Contains(strings.ToLower(t.Title), term) {
		return true
	}
	return t.Description != "" && strings.Contains(strings.ToLower(t.Description), term)
}
