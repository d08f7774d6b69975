package storage

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/domain"
)

const (
	defaultSaveTimeout    = 10 * time.Second
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// SnapshotStore loads and saves serialized board snapshots.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, boardID string) ([]byte, error)
	SaveSnapshot(ctx context.Context, boardID string, data []byte) error
}

// Persister restores the board on start and writes every published snapshot
// back to the store.
type Persister struct {
	store   SnapshotStore
	boardID string
	logger  *log.Logger

	saveTimeout    time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPersister creates a persister for a single board.
func NewPersister(store SnapshotStore, boardID string, logger *log.Logger) *Persister {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Persister{
		store:          store,
		boardID:        boardID,
		logger:         logger,
		saveTimeout:    defaultSaveTimeout,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// Load reads the stored snapshot. It never fails: unreadable or invalid
// state is logged and an empty board is returned instead.
func (p *Persister) Load(ctx context.Context) domain.Snapshot {
	fields := log.Fields{"board": p.boardID}
	data, err := p.store.LoadSnapshot(ctx, p.boardID)
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("load snapshot failed; starting with an empty board")
		return domain.EmptySnapshot()
	}
	if data == nil {
		p.logger.WithFields(fields).Info("no stored snapshot; starting with an empty board")
		return domain.EmptySnapshot()
	}
	snap, err := domain.RestoreSnapshot(data)
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Warn("stored snapshot rejected; starting with an empty board")
		return snap
	}
	p.logger.WithFields(fields).WithField("tasks", len(snap.Board.Tasks)).Info("snapshot restored")
	return snap
}

// Run saves snapshots received on updates until ctx is cancelled or the
// channel is closed. Only the newest pending snapshot is written; failed
// writes are retried with exponential backoff. The last pending snapshot
// is flushed once more before Run returns.
func (p *Persister) Run(ctx context.Context, updates <-chan domain.Snapshot) {
	var (
		pending *domain.Snapshot
		backoff = p.initialBackoff
		retry   <-chan time.Time
		timer   *time.Timer
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			retry = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			p.flush(updates, pending)
			return
		case snap, ok := <-updates:
			if !ok {
				if pending != nil {
					p.flush(nil, pending)
				}
				return
			}
			pending = &snap
			if retry != nil {
				// keep waiting out the backoff with the newer state
				continue
			}
		case <-retry:
			timer, retry = nil, nil
		}

		if pending == nil {
			continue
		}
		if err := p.save(ctx, *pending); err != nil {
			p.logger.WithFields(log.Fields{"board": p.boardID, "retry_in": backoff.String()}).WithError(err).Warn("save snapshot failed")
			timer = time.NewTimer(backoff)
			retry = timer.C
			backoff = min(backoff*2, p.maxBackoff)
			continue
		}
		pending = nil
		backoff = p.initialBackoff
	}
}

func (p *Persister) flush(updates <-chan domain.Snapshot, pending *domain.Snapshot) {
	if updates != nil {
		select {
		case snap, ok := <-updates:
			if ok {
				pending = &snap
			}
		default:
		}
	}
	if pending == nil {
		return
	}
	if err := p.save(context.Background(), *pending); err != nil {
		p.logger.WithField("board", p.boardID).WithError(err).Error("final snapshot flush failed")
	}
}

func (p *Persister) save(parent context.Context, snap domain.Snapshot) error {
	data, err := domain.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, p.saveTimeout)
	defer cancel()
	if err := p.store.SaveSnapshot(ctx, p.boardID, data); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{"board": p.boardID, "bytes": len(data)}).Debug("snapshot saved")
	return nil
}
