package board

import (
	"github.com/ferdipret/cred-task/domain"
)

// historyLog keeps the most recent entries, newest first. Entries are
// copied on the way in and out so callers never share slices with the log.
type historyLog struct {
	entries []domain.HistoryEntry
}

func newHistoryLog(entries []domain.HistoryEntry) historyLog {
	h := historyLog{entries: make([]domain.HistoryEntry, 0, domain.HistoryCapacity)}
	for _, e := range entries {
		if len(h.entries) == domain.HistoryCapacity {
			break
		}
		h.entries = append(h.entries, domain.CloneEntry(e))
	}
	return h
}

func (h *historyLog) push(e domain.HistoryEntry) {
	if len(h.entries) < domain.HistoryCapacity {
		h.entries = append(h.entries, nil)
	}
	copy(h.entries[1:], h.entries)
	h.entries[0] = domain.CloneEntry(e)
}

func (h *historyLog) list() []domain.HistoryEntry {
	out := domain.CloneHistory(h.entries)
	if out == nil {
		out = []domain.HistoryEntry{}
	}
	return out
}
