package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ferdipret/cred-task/board"
	"github.com/ferdipret/cred-task/domain"
)

type viewResponse struct {
	Snapshot      json.RawMessage              `json:"snapshot"`
	Visible       map[domain.ColumnID][]string `json:"visible"`
	ActiveFilters int                          `json:"activeFilters"`
	Applied       *bool                        `json:"applied"`
}

func (v viewResponse) snapshot(t *testing.T) domain.Snapshot {
	t.Helper()
	s, err := domain.RestoreSnapshot(v.Snapshot)
	if err != nil {
		t.Fatalf("restore snapshot from response: %v", err)
	}
	return s
}

func newTestServer(t *testing.T, auth Authenticator, deduper Deduper) (*echo.Echo, *board.Engine) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	engine := board.New(board.WithLogger(logger))
	e := echo.New()
	Register(e, engine, auth, deduper, nil, logger)
	return e, engine
}

func doRequest(e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func TestCreateTask(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"Write draft","description":"draft"}`, nil)
	expectStatus(t, rec, http.StatusCreated)

	resp := decode[struct {
		ID    string       `json:"id"`
		Board viewResponse `json:"board"`
	}](t, rec)
	if resp.ID == "" {
		t.Fatalf("expected task id in response")
	}
	if resp.Board.Applied == nil || !*resp.Board.Applied {
		t.Fatalf("expected applied=true")
	}
	snap := resp.Board.snapshot(t)
	if got := snap.Board.Order[domain.Todo]; len(got) != 1 || got[0] != resp.ID {
		t.Fatalf("unexpected todo order %v", got)
	}
	if task, ok := engine.Snapshot().Board.Tasks[resp.ID]; !ok || task.Description != "draft" {
		t.Fatalf("task not stored: %#v", task)
	}
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	testCases := map[string]string{
		"blank title":   `{"title":"   "}`,
		"missing title": `{}`,
		"unknown field": `{"title":"A","priority":1}`,
		"not json":      `title=A`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			e, engine := newTestServer(t, nil, nil)
			rec := doRequest(e, http.MethodPost, "/api/tasks", body, nil)
			expectStatus(t, rec, http.StatusBadRequest)
			if n := len(engine.Snapshot().Board.Tasks); n != 0 {
				t.Fatalf("expected no tasks, got %d", n)
			}
		})
	}
}

func TestCreateTaskIdempotencyKey(t *testing.T) {
	_, _, deduper := newTestDeduper(t)
	e, engine := newTestServer(t, nil, deduper)
	headers := map[string]string{headerIdempotencyKey: "create-1"}

	expectStatus(t, doRequest(e, http.MethodPost, "/api/tasks", `{"title":"A"}`, headers), http.StatusCreated)
	expectStatus(t, doRequest(e, http.MethodPost, "/api/tasks", `{"title":"A"}`, headers), http.StatusConflict)
	expectStatus(t, doRequest(e, http.MethodPost, "/api/tasks", `{"title":"A"}`, nil), http.StatusCreated)

	if n := len(engine.Snapshot().Board.Tasks); n != 2 {
		t.Fatalf("expected 2 tasks, got %d", n)
	}
}

func TestCreateTaskIdempotencyKeyIsPerUser(t *testing.T) {
	m, _, deduper := newTestDeduper(t)
	auth := NewSharedSecretAuth(testSecret, "", "")
	e, engine := newTestServer(t, auth, deduper)

	for _, user := range []string{"alice", "bob"} {
		tok, err := auth.IssueToken(user, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		headers := map[string]string{
			headerIdempotencyKey:     "shared-key",
			echo.HeaderAuthorization: "Bearer " + tok,
		}
		expectStatus(t, doRequest(e, http.MethodPost, "/api/tasks", `{"title":"A"}`, headers), http.StatusCreated)
		if !m.Exists(user + ":" + dedupeKeyPrefix + ":shared-key") {
			t.Fatalf("expected key recorded under %s", user)
		}
	}
	if n := len(engine.Snapshot().Board.Tasks); n != 2 {
		t.Fatalf("expected one task per user, got %d", n)
	}
}

func TestMoveTaskEndpoint(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)
	a := engine.CreateTask("A", "")
	b := engine.CreateTask("B", "")

	rec := doRequest(e, http.MethodPost, "/api/tasks/"+a+"/move", `{"column":"inprogress"}`, nil)
	expectStatus(t, rec, http.StatusOK)
	rec = doRequest(e, http.MethodPost, "/api/tasks/"+b+"/move", `{"column":"inprogress","index":0}`, nil)
	expectStatus(t, rec, http.StatusOK)

	view := decode[viewResponse](t, rec)
	if got := view.Visible[domain.InProgress]; len(got) != 2 || got[0] != b || got[1] != a {
		t.Fatalf("unexpected inprogress order %v", got)
	}

	expectStatus(t, doRequest(e, http.MethodPost, "/api/tasks/"+a+"/move", `{"column":"blocked"}`, nil), http.StatusBadRequest)

	rec = doRequest(e, http.MethodPost, "/api/tasks/ghost/move", `{"column":"done"}`, nil)
	expectStatus(t, rec, http.StatusOK)
	if view := decode[viewResponse](t, rec); view.Applied == nil || *view.Applied {
		t.Fatalf("expected applied=false for unknown task")
	}
}

func TestUpdateTaskEndpoint(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)
	id := engine.CreateTask("Original", "")

	rec := doRequest(e, http.MethodPatch, "/api/tasks/"+id, `{"title":"Renamed"}`, nil)
	expectStatus(t, rec, http.StatusOK)
	snap := decode[viewResponse](t, rec).snapshot(t)
	if got := snap.Board.Tasks[id].Title; got != "Renamed" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := snap.History[0].Describe(); got != `Updated "Renamed": title: "Original" → "Renamed"` {
		t.Fatalf("unexpected history text %q", got)
	}

	expectStatus(t, doRequest(e, http.MethodPatch, "/api/tasks/"+id, `{}`, nil), http.StatusBadRequest)
	expectStatus(t, doRequest(e, http.MethodPatch, "/api/tasks/"+id, `{"title":" "}`, nil), http.StatusBadRequest)

	rec = doRequest(e, http.MethodPatch, "/api/tasks/"+id, `{"title":"Renamed"}`, nil)
	if view := decode[viewResponse](t, rec); view.Applied == nil || *view.Applied {
		t.Fatalf("identical update should not apply")
	}
}

func TestDeleteTaskEndpoint(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)
	id := engine.CreateTask("A", "")

	rec := doRequest(e, http.MethodDelete, "/api/tasks/"+id, "", nil)
	expectStatus(t, rec, http.StatusOK)
	if view := decode[viewResponse](t, rec); view.Applied == nil || !*view.Applied {
		t.Fatalf("expected delete to apply")
	}
	rec = doRequest(e, http.MethodDelete, "/api/tasks/"+id, "", nil)
	if view := decode[viewResponse](t, rec); view.Applied == nil || *view.Applied {
		t.Fatalf("second delete should be a no-op")
	}
}

func TestDropEndpoint(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)
	c := engine.CreateTask("C", "")
	b := engine.CreateTask("B", "")
	a := engine.CreateTask("A", "")

	body := `{"sourceTaskId":"` + c + `","targetColumn":"todo","targetTaskId":"` + a + `","relativeEdge":"before"}`
	rec := doRequest(e, http.MethodPost, "/api/drops", body, nil)
	expectStatus(t, rec, http.StatusOK)
	view := decode[viewResponse](t, rec)
	if got := view.Visible[domain.Todo]; len(got) != 3 || got[0] != c || got[1] != a || got[2] != b {
		t.Fatalf("unexpected order after drop %v", got)
	}

	bad := `{"sourceTaskId":"` + c + `","targetColumn":"todo","targetTaskId":"` + a + `","relativeEdge":"over"}`
	expectStatus(t, doRequest(e, http.MethodPost, "/api/drops", bad, nil), http.StatusBadRequest)
}

func TestFilterEndpoints(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)
	shipped := engine.CreateTask("Ship release", "")
	engine.CreateTask("Write docs", "about shipping")
	engine.MoveTask(shipped, domain.Done)

	rec := doRequest(e, http.MethodPut, "/api/filters/search", `{"term":"SHIP"}`, nil)
	expectStatus(t, rec, http.StatusOK)
	view := decode[viewResponse](t, rec)
	if len(view.Visible[domain.Todo]) != 1 || len(view.Visible[domain.Done]) != 1 {
		t.Fatalf("unexpected visible tasks %v", view.Visible)
	}

	rec = doRequest(e, http.MethodPost, "/api/filters/status/done", "", nil)
	view = decode[viewResponse](t, rec)
	if len(view.Visible[domain.Done]) != 0 || view.ActiveFilters != 2 {
		t.Fatalf("unexpected view after toggle: %+v", view)
	}
	expectStatus(t, doRequest(e, http.MethodPost, "/api/filters/status/later", "", nil), http.StatusBadRequest)

	rec = doRequest(e, http.MethodDelete, "/api/filters", "", nil)
	view = decode[viewResponse](t, rec)
	if view.ActiveFilters != 0 || len(view.Visible[domain.Done]) != 1 {
		t.Fatalf("filters not cleared: %+v", view)
	}
}

func TestGetColumnEndpoint(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)
	id := engine.CreateTask("A", "")

	rec := doRequest(e, http.MethodGet, "/api/board/columns/todo", "", nil)
	expectStatus(t, rec, http.StatusOK)
	resp := decode[columnResponse](t, rec)
	if resp.Label != "To Do" || len(resp.Tasks) != 1 || resp.Tasks[0].ID != id {
		t.Fatalf("unexpected column response %+v", resp)
	}
	expectStatus(t, doRequest(e, http.MethodGet, "/api/board/columns/backlog", "", nil), http.StatusBadRequest)
}

func TestGetHistoryEndpoint(t *testing.T) {
	e, engine := newTestServer(t, nil, nil)
	id := engine.CreateTask("A", "")
	engine.MoveTask(id, domain.Done)

	rec := doRequest(e, http.MethodGet, "/api/history", "", nil)
	expectStatus(t, rec, http.StatusOK)
	items := decode[[]historyItem](t, rec)
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
	if items[0].Text != `Moved "A" from To Do to Done` || items[0].Type != domain.KindTaskMoved {
		t.Fatalf("unexpected newest entry %+v", items[0])
	}
	if items[1].Text != `Created task "A"` || items[1].Age != "Just now" {
		t.Fatalf("unexpected oldest entry %+v", items[1])
	}
}

func TestPostCommands(t *testing.T) {
	_, _, deduper := newTestDeduper(t)
	e, engine := newTestServer(t, nil, deduper)

	body := `[
		{"type":"create-task","title":"A","idempotencyKey":"c1"},
		{"type":"create-task","title":"A","idempotencyKey":"c1"},
		{"type":"set-search","term":"a"},
		{"type":"toggle-status","column":"someday"},
		{"type":"archive"}
	]`
	rec := doRequest(e, http.MethodPost, "/api/commands", body, nil)
	expectStatus(t, rec, http.StatusOK)
	resp := decode[struct {
		Results []commandResult `json:"results"`
		Board   viewResponse    `json:"board"`
	}](t, rec)

	if len(resp.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(resp.Results))
	}
	if !resp.Results[0].Applied || !resp.Results[1].Duplicate || !resp.Results[2].Applied {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
	if resp.Results[3].Error == "" || resp.Results[4].Error == "" {
		t.Fatalf("expected errors for invalid commands: %+v", resp.Results)
	}
	if n := len(engine.Snapshot().Board.Tasks); n != 1 {
		t.Fatalf("expected 1 task, got %d", n)
	}
	if resp.Board.ActiveFilters != 1 {
		t.Fatalf("expected search filter active, got %d", resp.Board.ActiveFilters)
	}
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t, rejectAll{}, nil)
	expectStatus(t, doRequest(e, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}
