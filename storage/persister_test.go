package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ferdipret/cred-task/domain"
)

type memoryStore struct {
	mu       sync.Mutex
	data     []byte
	loadErr  error
	failures int
	saves    [][]byte
}

func (m *memoryStore) LoadSnapshot(context.Context, string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, m.loadErr
}

func (m *memoryStore) SaveSnapshot(_ context.Context, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("transient failure")
	}
	m.data = data
	m.saves = append(m.saves, data)
	return nil
}

func (m *memoryStore) saved() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.saves...)
}

func snapshotWithTask(title string) domain.Snapshot {
	s := domain.EmptySnapshot()
	s.Board.Tasks[title] = domain.Task{ID: title, Title: title}
	s.Board.Order[domain.Todo] = []string{title}
	return s
}

func newTestPersister(store SnapshotStore) (*Persister, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	p := NewPersister(store, "board", logger)
	p.initialBackoff = time.Millisecond
	p.maxBackoff = 4 * time.Millisecond
	return p, hook
}

func TestPersisterLoadFallbacks(t *testing.T) {
	valid, err := domain.EncodeSnapshot(snapshotWithTask("a"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	testCases := map[string]struct {
		store     *memoryStore
		wantTasks int
		wantLevel log.Level
	}{
		"restored":    {store: &memoryStore{data: valid}, wantTasks: 1, wantLevel: log.InfoLevel},
		"missing":     {store: &memoryStore{}, wantLevel: log.InfoLevel},
		"store error": {store: &memoryStore{loadErr: errors.New("down")}, wantLevel: log.ErrorLevel},
		"corrupt":     {store: &memoryStore{data: []byte(`{"version":1,"board":{"order":{"todo":["ghost"]}}}`)}, wantLevel: log.WarnLevel},
		"bad version": {store: &memoryStore{data: []byte(`{"version":7}`)}, wantLevel: log.WarnLevel},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			p, hook := newTestPersister(tc.store)
			snap := p.Load(context.Background())
			if len(snap.Board.Tasks) != tc.wantTasks {
				t.Fatalf("expected %d tasks, got %d", tc.wantTasks, len(snap.Board.Tasks))
			}
			if err := snap.Board.Validate(); err != nil {
				t.Fatalf("loaded board invalid: %v", err)
			}
			if entry := hook.LastEntry(); entry == nil || entry.Level != tc.wantLevel {
				t.Fatalf("expected %v log, got %#v", tc.wantLevel, entry)
			}
		})
	}
}

func TestPersisterRunSavesAndFlushesOnCancel(t *testing.T) {
	store := &memoryStore{}
	p, _ := newTestPersister(store)
	updates := make(chan domain.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, updates)
		close(done)
	}()

	updates <- snapshotWithTask("a")
	waitFor(t, func() bool { return len(store.saved()) == 1 })

	updates <- snapshotWithTask("b")
	cancel()
	<-done

	saves := store.saved()
	last, err := domain.RestoreSnapshot(saves[len(saves)-1])
	if err != nil {
		t.Fatalf("restore saved snapshot: %v", err)
	}
	if _, ok := last.Board.Tasks["b"]; !ok {
		t.Fatalf("latest snapshot not flushed: %#v", last.Board.Tasks)
	}
}

func TestPersisterRunRetriesWithBackoff(t *testing.T) {
	store := &memoryStore{failures: 3}
	p, hook := newTestPersister(store)
	updates := make(chan domain.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, updates)

	updates <- snapshotWithTask("a")
	waitFor(t, func() bool { return len(store.saved()) == 1 })

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Message == "save snapshot failed" {
			warnings++
		}
	}
	if warnings != 3 {
		t.Fatalf("expected 3 failed attempts logged, got %d", warnings)
	}
}

func TestPersisterRunStopsWhenChannelCloses(t *testing.T) {
	store := &memoryStore{}
	p, _ := newTestPersister(store)
	updates := make(chan domain.Snapshot, 1)
	updates <- snapshotWithTask("a")
	close(updates)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), updates)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after channel close")
	}
	if len(store.saved()) != 1 {
		t.Fatalf("expected buffered snapshot to be saved, got %d saves", len(store.saved()))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
