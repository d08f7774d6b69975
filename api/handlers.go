// Package api exposes the task board over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/domain"
)

var errEmptyUpdate = errors.New("update names no field")

// Register wires up all API routes on the provided Echo instance. auth,
// deduper and metrics are optional.
func Register(e *echo.Echo, b Board, auth Authenticator, deduper Deduper, metrics *Metrics, logger *log.Logger) {
	e.JSONSerializer = sonicSerializer{}
	e.GET("/healthz", healthz(b))

	g := e.Group("/api", requestMetrics(logger), requireAuth(auth))
	g.GET("/board", getBoard(b))
	g.GET("/board/columns/:column", getColumn(b))
	g.GET("/history", getHistory(b, time.Now))
	g.POST("/tasks", createTask(b, deduper, logger))
	g.PATCH("/tasks/:id", updateTask(b))
	g.DELETE("/tasks/:id", deleteTask(b))
	g.POST("/tasks/:id/move", moveTask(b))
	g.POST("/drops", dropTask(b))
	g.PUT("/filters/search", setSearch(b))
	g.POST("/filters/status/:column", toggleStatus(b))
	g.DELETE("/filters", clearFilters(b))
	g.POST("/commands", postCommands(b, deduper, logger))

	e.GET("/stream", streamBoard(b, metrics, logger), requireAuth(auth))
}

func healthz(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := b.Snapshot().Board.Validate(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		}
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, newBoardView(b.Snapshot()))
	}
}

func getColumn(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		col, err := domain.ParseColumn(c.Param("column"))
		if err != nil {
			return badRequest(c, err)
		}
		s := b.Snapshot()
		return c.JSON(http.StatusOK, columnResponse{
			Column:  col,
			Label:   col.Label(),
			Tasks:   s.Board.Column(col),
			Visible: domain.VisibleTasks(s.Board, col),
		})
	}
}

func getHistory(b Board, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := b.Snapshot().History
		at := now()
		items := make([]historyItem, 0, len(entries))
		for _, e := range entries {
			m := e.Meta()
			items = append(items, historyItem{
				Type:      e.Kind(),
				TaskID:    m.TaskID,
				TaskTitle: m.TaskTitle,
				Text:      e.Describe(),
				Age:       domain.FormatAge(m.Timestamp, at),
				Timestamp: m.Timestamp,
			})
		}
		return c.JSON(http.StatusOK, items)
	}
}

func createTask(b Board, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, err)
		}
		if strings.TrimSpace(req.Title) == "" {
			return badRequest(c, errors.New("title is required"))
		}

		ctx := c.Request().Context()
		user := userID(c)
		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		if deduper != nil && key != "" {
			added, err := deduper.Add(ctx, user, key)
			if err != nil {
				logger.WithError(err).Error("idempotency check failed")
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
			}
			if !added {
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
		}

		res, err := b.Exec(domain.Command{
			Type:        domain.CreateTaskCommand,
			Title:       &req.Title,
			Description: &req.Description,
		})
		if err != nil || res.TaskID == "" {
			if deduper != nil && key != "" {
				if err := deduper.Remove(ctx, user, key); err != nil {
					logger.WithError(err).Warn("release idempotency key failed")
				}
			}
			return badRequest(c, errors.New("title is required"))
		}
		return c.JSON(http.StatusCreated, createTaskResponse{ID: res.TaskID, Board: appliedView(res.Snapshot, true)})
	}
}

func updateTask(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var upd domain.TaskUpdate
		if err := decodeBody(c, &upd); err != nil {
			return badRequest(c, err)
		}
		if upd.Empty() {
			return badRequest(c, errEmptyUpdate)
		}
		if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
			return badRequest(c, errors.New("title must not be blank"))
		}
		return execute(c, b, domain.Command{
			Type:        domain.UpdateTaskCommand,
			TaskID:      c.Param("id"),
			Title:       upd.Title,
			Description: upd.Description,
		})
	}
}

func deleteTask(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return execute(c, b, domain.Command{Type: domain.DeleteTaskCommand, TaskID: c.Param("id")})
	}
}

func moveTask(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, err)
		}
		return execute(c, b, domain.Command{
			Type:   domain.MoveTaskCommand,
			TaskID: c.Param("id"),
			Column: req.Column,
			Index:  req.Index,
		})
	}
}

func dropTask(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var d domain.Drop
		if err := decodeBody(c, &d); err != nil {
			return badRequest(c, err)
		}
		return execute(c, b, domain.Command{
			Type:         domain.DropTaskCommand,
			TaskID:       d.SourceTaskID,
			Column:       d.TargetColumn,
			TargetTaskID: d.TargetTaskID,
			Edge:         d.Edge,
		})
	}
}

func setSearch(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req searchRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, err)
		}
		return execute(c, b, domain.Command{Type: domain.SetSearchCommand, Term: req.Term})
	}
}

func toggleStatus(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return execute(c, b, domain.Command{Type: domain.ToggleStatusCommand, Column: domain.ColumnID(c.Param("column"))})
	}
}

func clearFilters(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return execute(c, b, domain.Command{Type: domain.ClearFiltersCommand})
	}
}

// execute runs cmd and answers with the board it produced. Commands the
// engine cannot interpret are a 400; unknown task ids are applied:false.
func execute(c echo.Context, b Board, cmd domain.Command) error {
	res, err := b.Exec(cmd)
	if err != nil {
		return badRequest(c, err)
	}
	return c.JSON(http.StatusOK, appliedView(res.Snapshot, res.Applied))
}

func postCommands(b Board, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cmds := make([]domain.Command, 0, 4)
		if err := decodeBody(c, &cmds); err != nil {
			return badRequest(c, err)
		}

		ctx := c.Request().Context()
		user := userID(c)
		results := make([]commandResult, 0, len(cmds))
		for _, cmd := range cmds {
			res := commandResult{Type: cmd.Type}
			if deduper != nil && cmd.IdempotencyKey != "" {
				added, err := deduper.Add(ctx, user, cmd.IdempotencyKey)
				if err != nil {
					logger.WithError(err).Error("idempotency check failed")
					res.Error = "idempotency store unavailable"
					results = append(results, res)
					continue
				}
				if !added {
					res.Duplicate = true
					results = append(results, res)
					continue
				}
			}
			out, err := b.Exec(cmd)
			res.Applied = out.Applied
			if err != nil {
				res.Error = err.Error()
			}
			results = append(results, res)
		}
		return c.JSON(http.StatusOK, postCommandResponse{Results: results, Board: newBoardView(b.Snapshot())})
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid body")
	}
	return nil
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	return sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
}
