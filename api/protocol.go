package api

import (
	"time"

	"github.com/ferdipret/cred-task/domain"
)

const (
	postCommandMaxSize   = 64 * 1024 // 64 KiB
	headerIdempotencyKey = "Idempotency-Key"
)

// boardView is returned by every endpoint that exposes the board.
type boardView struct {
	Snapshot      domain.Snapshot              `json:"snapshot"`
	Visible       map[domain.ColumnID][]string `json:"visible"`
	ActiveFilters int                          `json:"activeFilters"`
	Applied       *bool                        `json:"applied,omitempty"`
}

func newBoardView(s domain.Snapshot) boardView {
	visible := make(map[domain.ColumnID][]string, len(domain.Columns))
	for _, c := range domain.Columns {
		visible[c] = domain.VisibleTasks(s.Board, c)
	}
	return boardView{Snapshot: s, Visible: visible, ActiveFilters: s.Board.Filters.ActiveCount()}
}

func appliedView(s domain.Snapshot, applied bool) boardView {
	v := newBoardView(s)
	v.Applied = &applied
	return v
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type createTaskResponse struct {
	ID    string    `json:"id"`
	Board boardView `json:"board"`
}

type moveTaskRequest struct {
	Column domain.ColumnID `json:"column"`
	Index  *int            `json:"index,omitempty"`
}

type searchRequest struct {
	Term string `json:"term"`
}

type columnResponse struct {
	Column  domain.ColumnID `json:"column"`
	Label   string          `json:"label"`
	Tasks   []domain.Task   `json:"tasks"`
	Visible []string        `json:"visible"`
}

type historyItem struct {
	Type      domain.HistoryKind `json:"type"`
	TaskID    string             `json:"taskId"`
	TaskTitle string             `json:"taskTitle"`
	Text      string             `json:"text"`
	Age       string             `json:"age"`
	Timestamp time.Time          `json:"timestamp"`
}

type commandResult struct {
	Type      string `json:"type"`
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// /POST /api/commands response body
type postCommandResponse struct {
	Results []commandResult `json:"results"`
	Board   boardView       `json:"board"`
}

type errorResponse struct {
	Error string `json:"error"`
}
