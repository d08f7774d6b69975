package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/domain"
)

const streamKeepAlive = 15 * time.Second

// streamBoard sends the current board as a server-sent event and then a new
// event after every change. A slow client skips intermediate states.
func streamBoard(b Board, metrics *Metrics, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		updates, cancel := b.Subscribe()
		defer cancel()
		metrics.streamOpened()
		defer metrics.streamClosed()

		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		fields := log.Fields{"user": userID(c)}
		logger.WithFields(fields).Debug("stream opened")
		defer logger.WithFields(fields).Debug("stream closed")

		if err := writeEvent(c, b.Snapshot()); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-updates:
				if !ok {
					return nil
				}
				if err := writeEvent(c, snap); err != nil {
					logger.WithFields(fields).WithError(err).Debug("stream write failed")
					return nil
				}
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
			}
			flusher.Flush()
		}
	}
}

func writeEvent(c echo.Context, s domain.Snapshot) error {
	data, err := sonic.ConfigStd.Marshal(newBoardView(s))
	if err != nil {
		return err
	}
	w := c.Response()
	if _, err := w.Write([]byte("event: board\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
