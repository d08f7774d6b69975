package domain

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

const (
	// SnapshotVersion is the persisted snapshot format version.
	SnapshotVersion = 1
	// HistoryCapacity is the number of history entries kept, newest first.
	HistoryCapacity = 5
)

var (
	ErrEmptySnapshot   = errors.New("empty snapshot")
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

// Snapshot is a read-only copy of the board and its history.
type Snapshot struct {
	Version int
	Board   Board
	History []HistoryEntry
}

type snapshotWire struct {
	Version int             `json:"version"`
	Board   Board           `json:"board"`
	History []HistoryRecord `json:"history"`
}

// EmptySnapshot returns the state of a freshly created board.
func EmptySnapshot() Snapshot {
	return Snapshot{Version: SnapshotVersion, Board: EmptyBoard(), History: []HistoryEntry{}}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Version: s.Version, Board: s.Board.Clone(), History: CloneHistory(s.History)}
}

// MarshalJSON encodes the snapshot in its versioned wire form.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return EncodeSnapshot(s)
}

// EncodeSnapshot serializes s for the persistence layer.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	w := snapshotWire{
		Version: SnapshotVersion,
		Board:   s.Board.Clone(),
		History: make([]HistoryRecord, 0, len(s.History)),
	}
	for _, e := range s.History {
		w.History = append(w.History, RecordOf(e))
	}
	return sonic.ConfigStd.Marshal(w)
}

// RestoreSnapshot decodes persisted data. It always returns a usable
// snapshot: when data is missing, malformed, of another version or breaks
// the board invariants, the empty snapshot is returned together with an
// error describing why.
func RestoreSnapshot(data []byte) (Snapshot, error) {
	s, err := decodeSnapshot(data)
	if err != nil {
		return EmptySnapshot(), err
	}
	return s, nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, ErrEmptySnapshot
	}
	var w snapshotWire
	if err := sonic.ConfigStd.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if w.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, w.Version)
	}
	w.Board.normalize()
	for id, t := range w.Board.Tasks {
		if t.ID != id {
			return Snapshot{}, fmt.Errorf("task keyed %s carries id %q", id, t.ID)
		}
	}
	if err := w.Board.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("invalid board: %w", err)
	}
	if len(w.History) > HistoryCapacity {
		w.History = w.History[:HistoryCapacity]
	}
	s := Snapshot{Version: SnapshotVersion, Board: w.Board, History: make([]HistoryEntry, 0, len(w.History))}
	for i, r := range w.History {
		e, err := r.Entry()
		if err != nil {
			return Snapshot{}, fmt.Errorf("history entry %d: %w", i, err)
		}
		s.History = append(s.History, e)
	}
	return s, nil
}
