package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ticket_bot/internal/model"
)

// memObject is an in-memory versioned blob with generation preconditions.
type memObject struct {
	mu         sync.Mutex
	data       []byte
	generation int64
	readErr    error
	writeErr   error
	writes     int
	reads      int

	// beforeWrite runs once, after the read of the first write attempt.
	beforeWrite func()
}

func (m *memObject) read(_ context.Context) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, 0, m.readErr
	}
	return append([]byte(nil), m.data...), m.generation, nil
}

func (m *memObject) write(_ context.Context, data []byte, generation int64) error {
	if hook := m.takeHook(); hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if generation != m.generation {
		return errConflict
	}
	m.data = append([]byte(nil), data...)
	m.generation++
	m.writes++
	return nil
}

func (m *memObject) takeHook() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.beforeWrite
	m.beforeWrite = nil
	return h
}

func (m *memObject) put(t *testing.T, ids ...model.EventID) {
	t.Helper()
	data, err := json.Marshal(seenDoc{EventIDs: ids})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.generation++
}

func (m *memObject) stored(t *testing.T) []model.EventID {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var doc seenDoc
	if err := json.Unmarshal(m.data, &doc); err != nil {
		t.Fatalf("unmarshal stored doc: %v", err)
	}
	return doc.EventIDs
}

func newTestGCS(obj *memObject) *GCSSeenStore {
	s := newGCSSeenStore(obj, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.delay = time.Millisecond
	s.attempts = 3
	return s
}

func TestGCSSeenStoreLoadMissing(t *testing.T) {
	s := newTestGCS(&memObject{})

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("expected empty set, got %v", got.Sorted())
	}
}

func TestGCSSeenStoreSaveMerges(t *testing.T) {
	ctx := context.Background()
	obj := &memObject{}
	obj.put(t, "A-1", "B-2")
	s := newTestGCS(obj)

	if err := s.Save(ctx, model.NewSeenSet("B-2", "C-3")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if diff := cmp.Diff([]model.EventID{"A-1", "B-2", "C-3"}, obj.stored(t)); diff != "" {
		t.Errorf("stored ids mismatch (-want +got):\n%s", diff)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]model.EventID{"A-1", "B-2", "C-3"}, loaded.Sorted()); diff != "" {
		t.Errorf("loaded ids mismatch (-want +got):\n%s", diff)
	}
}

func TestGCSSeenStoreSaveCreatesDocument(t *testing.T) {
	obj := &memObject{}
	s := newTestGCS(obj)

	if err := s.Save(context.Background(), model.NewSeenSet("A-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if diff := cmp.Diff([]model.EventID{"A-1"}, obj.stored(t)); diff != "" {
		t.Errorf("stored ids mismatch (-want +got):\n%s", diff)
	}
}

func TestGCSSeenStoreSaveNoChangeSkipsWrite(t *testing.T) {
	obj := &memObject{}
	obj.put(t, "A-1")
	s := newTestGCS(obj)

	if err := s.Save(context.Background(), model.NewSeenSet("A-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if obj.writes != 0 {
		t.Errorf("expected no write, got %d", obj.writes)
	}
}

func TestGCSSeenStoreConcurrentWriterKept(t *testing.T) {
	obj := &memObject{}
	obj.put(t, "A-1")
	s := newTestGCS(obj)

	// Another process adds X-9 between our read and our write.
	obj.beforeWrite = func() { obj.put(t, "A-1", "X-9") }

	if err := s.Save(context.Background(), model.NewSeenSet("B-2")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if diff := cmp.Diff([]model.EventID{"A-1", "B-2", "X-9"}, obj.stored(t)); diff != "" {
		t.Errorf("concurrent id lost (-want +got):\n%s", diff)
	}
}

func TestGCSSeenStoreErrors(t *testing.T) {
	tests := []struct {
		name string
		obj  *memObject
		op   func(s *GCSSeenStore) error
	}{
		{
			name: "load unreachable",
			obj:  &memObject{readErr: errors.New("connection refused")},
			op: func(s *GCSSeenStore) error {
				_, err := s.Load(context.Background())
				return err
			},
		},
		{
			name: "load corrupt document",
			obj:  &memObject{data: []byte("{not json"), generation: 1},
			op: func(s *GCSSeenStore) error {
				_, err := s.Load(context.Background())
				return err
			},
		},
		{
			name: "save write failure",
			obj:  &memObject{writeErr: errors.New("503 backend error")},
			op: func(s *GCSSeenStore) error {
				return s.Save(context.Background(), model.NewSeenSet("A-1"))
			},
		},
		{
			name: "save read failure",
			obj:  &memObject{readErr: errors.New("connection refused")},
			op: func(s *GCSSeenStore) error {
				return s.Save(context.Background(), model.NewSeenSet("A-1"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op(newTestGCS(tt.obj))
			var pe *PersistenceError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *PersistenceError, got %v", err)
			}
			if tt.obj.reads != 1 {
				t.Errorf("expected a single attempt, got %d reads", tt.obj.reads)
			}
		})
	}
}

var _ SeenStore = (*GCSSeenStore)(nil)
