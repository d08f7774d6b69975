package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/domain"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 16
	// messages leased this many times without being handled are dropped
	maxDequeueCount = 5
)

// CommandSource leases and deletes queued command messages.
type CommandSource interface {
	Receive(ctx context.Context, limit int32) ([]QueueMessage, error)
	Delete(ctx context.Context, msg QueueMessage) error
}

// CommandApplier applies a decoded command to the board.
type CommandApplier interface {
	Apply(cmd domain.Command) (bool, error)
}

// Deduper records idempotency keys so replayed commands are skipped.
type Deduper interface {
	Add(ctx context.Context, scope, key string) (bool, error)
}

// Consumer drains the command queue into the board.
type Consumer struct {
	source  CommandSource
	board   CommandApplier
	deduper Deduper
	scope   string
	logger  *log.Logger

	pollInterval time.Duration
	batchSize    int32
}

// NewConsumer creates a queue consumer. deduper may be nil.
func NewConsumer(source CommandSource, board CommandApplier, deduper Deduper, scope string, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Consumer{
		source:       source,
		board:        board,
		deduper:      deduper,
		scope:        scope,
		logger:       logger,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
}

// Run polls the queue until ctx is cancelled. An empty queue or a receive
// error waits one poll interval before trying again.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("command consumer started")
	for {
		n, err := c.poll(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Warn("receive commands failed")
		}
		if ctx.Err() != nil {
			c.logger.Info("command consumer stopped")
			return
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			c.logger.Info("command consumer stopped")
			return
		case <-time.After(c.pollInterval):
		}
	}
}

// poll handles one batch and returns the number of messages received.
func (c *Consumer) poll(ctx context.Context) (int, error) {
	msgs, err := c.source.Receive(ctx, c.batchSize)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		if c.handle(ctx, msg) {
			if err := c.source.Delete(ctx, msg); err != nil {
				c.logger.WithField("message", msg.ID).WithError(err).Error("delete command message failed")
			}
		}
	}
	return len(msgs), nil
}

// handle applies one message and reports whether it can be deleted.
func (c *Consumer) handle(ctx context.Context, msg QueueMessage) bool {
	logger := c.logger.WithField("message", msg.ID)
	cmd, err := domain.DecodeCommand([]byte(msg.Text))
	if err != nil {
		logger.WithError(err).Warn("dropping undecodable command")
		return true
	}
	logger = logger.WithField("command", cmd.Type)

	if c.deduper != nil && cmd.IdempotencyKey != "" {
		added, err := c.deduper.Add(ctx, c.scope, cmd.IdempotencyKey)
		if err != nil {
			if msg.DequeueCount >= maxDequeueCount {
				logger.WithError(err).Error("dedupe unavailable; dropping command after repeated attempts")
				return true
			}
			logger.WithError(err).Warn("dedupe unavailable; leaving command for retry")
			return false
		}
		if !added {
			logger.WithField("idempotency_key", cmd.IdempotencyKey).Info("skipping duplicate command")
			return true
		}
	}

	applied, err := c.board.Apply(cmd)
	switch {
	case errors.Is(err, domain.ErrUnknownCommand), errors.Is(err, domain.ErrUnknownColumn), errors.Is(err, domain.ErrUnknownEdge):
		logger.WithError(err).Warn("dropping invalid command")
	case err != nil:
		logger.WithError(err).Error("apply command failed")
	default:
		logger.WithField("applied", applied).Debug("command handled")
	}
	return true
}
