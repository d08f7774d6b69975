// Package storage persists board snapshots in Azure Table storage, caches
// them in Redis and feeds queued commands into the board.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
)

const snapshotRowKey = "snapshot"

// Storage provides access to the snapshot table and the command queue.
type Storage struct {
	snapshotTable *aztables.Client
	commandQueue  *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string. An empty
// queue name leaves the command queue unconfigured.
func New(connStr, snapshotTable, commandQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, fmt.Errorf("table service: %w", err)
	}
	s := &Storage{snapshotTable: svc.NewClient(snapshotTable)}
	if commandQueue == "" {
		return s, nil
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, commandQueue, &queueClientOptions)
	if err != nil {
		return nil, fmt.Errorf("queue client: %w", err)
	}
	s.commandQueue = cq
	return s, nil
}

// EnsureResources creates the snapshot table and the command queue when
// they do not exist yet.
func (s *Storage) EnsureResources(ctx context.Context) error {
	if _, err := s.snapshotTable.CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	if s.commandQueue == nil {
		return nil
	}
	if _, err := s.commandQueue.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
		return fmt.Errorf("create command queue: %w", err)
	}
	return nil
}

// HasCommandQueue reports whether a command queue was configured.
func (s *Storage) HasCommandQueue() bool {
	return s.commandQueue != nil
}

type snapshotEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Version      int    `json:"Version"`
	Data         string `json:"Data"`
}

// LoadSnapshot returns the stored snapshot document for boardID, or nil when
// the board has never been saved.
func (s *Storage) LoadSnapshot(ctx context.Context, boardID string) ([]byte, error) {
	resp, err := s.snapshotTable.GetEntity(ctx, boardID, snapshotRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot %s: %w", boardID, err)
	}
	return decodeSnapshotEntity(resp.Value)
}

func decodeSnapshotEntity(data []byte) ([]byte, error) {
	var ent snapshotEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return nil, fmt.Errorf("decode snapshot entity: %w", err)
	}
	if ent.Data == "" {
		return nil, nil
	}
	return []byte(ent.Data), nil
}

// SaveSnapshot replaces the stored snapshot document for boardID.
func (s *Storage) SaveSnapshot(ctx context.Context, boardID string, data []byte) error {
	payload, err := encodeSnapshotEntity(boardID, data)
	if err != nil {
		return err
	}
	if _, err := s.snapshotTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", boardID, err)
	}
	return nil
}

func encodeSnapshotEntity(boardID string, data []byte) ([]byte, error) {
	var header struct {
		Version int `json:"version"`
	}
	_ = sonic.Unmarshal(data, &header)
	ent := snapshotEntity{
		PartitionKey: boardID,
		RowKey:       snapshotRowKey,
		Version:      header.Version,
		Data:         string(data),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot entity: %w", err)
	}
	return payload, nil
}

// QueueMessage is a command message leased from the queue.
type QueueMessage struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
}

// Receive leases up to limit messages from the command queue.
func (s *Storage) Receive(ctx context.Context, limit int32) ([]QueueMessage, error) {
	if s.commandQueue == nil {
		return nil, errors.New("command queue not configured")
	}
	resp, err := s.commandQueue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(limit),
		VisibilityTimeout: to.Ptr(int32(30)),
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue commands: %w", err)
	}
	msgs := make([]QueueMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := QueueMessage{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			msg.Text = *m.MessageText
		}
		if m.DequeueCount != nil {
			msg.DequeueCount = *m.DequeueCount
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Delete removes a handled message from the command queue.
func (s *Storage) Delete(ctx context.Context, msg QueueMessage) error {
	if _, err := s.commandQueue.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil); err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && (respErr.ErrorCode == code || respErr.StatusCode == 409)
}
