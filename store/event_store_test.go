package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type eventStoreFactory struct {
	name   string
	create func(t *testing.T) EventStore
}

func eventStoreFactories() []eventStoreFactory {
	return []eventStoreFactory{
		{
			name:   "InMemory",
			create: func(_ *testing.T) EventStore { return NewInMemoryEventStore() },
		},
		{
			name: "SQLite",
			create: func(t *testing.T) EventStore {
				t.Helper()
				s, err := NewSQLiteEventStore(filepath.Join(t.TempDir(), "history.db"))
				if err != nil {
					t.Fatalf("NewSQLiteEventStore: %v", err)
				}
				t.Cleanup(func() { s.Close() })
				return s
			},
		},
	}
}

func mustAppend(t *testing.T, s EventStore, runID uuid.UUID, eventType string, data map[string]any) {
	t.Helper()
	if err := s.Append(context.Background(), runID, eventType, data); err != nil {
		t.Fatalf("Append %s: %v", eventType, err)
	}
}

func appendRun(t *testing.T, s EventStore, runID uuid.UUID, pipelineName, final string) {
	t.Helper()
	mustAppend(t, s, runID, EventRunStarted, map[string]any{"pipeline": pipelineName, "title": "Title"})
	mustAppend(t, s, runID, EventProcessorStarted, map[string]any{"step": 0, "index": 0, "processor": "message"})
	mustAppend(t, s, runID, EventMessageReported, map[string]any{"text": "hello"})
	mustAppend(t, s, runID, EventProcessorCompleted, map[string]any{"step": 0, "index": 0, "processor": "message", "result": "continue"})
	mustAppend(t, s, runID, final, map[string]any{})
}

func TestAppendAndGetEvents(t *testing.T) {
	for _, f := range eventStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.create(t)
			id := uuid.New()
			appendRun(t, s, id, "install", EventRunCompleted)

			events, err := s.GetEvents(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != 5 {
				t.Fatalf("expected 5 events, got %d", len(events))
			}
			for i, ev := range events {
				if ev.SequenceNum != int64(i+1) {
					t.Errorf("event %d sequence = %d", i, ev.SequenceNum)
				}
				if ev.RunID != id {
					t.Errorf("event %d run ID = %s", i, ev.RunID)
				}
			}
			if events[0].EventType != EventRunStarted || events[4].EventType != EventRunCompleted {
				t.Errorf("unexpected order: %s ... %s", events[0].EventType, events[4].EventType)
			}

			empty, err := s.GetEvents(context.Background(), uuid.New())
			if err != nil || len(empty) != 0 {
				t.Errorf("unknown run: %v %v", empty, err)
			}
		})
	}
}

func TestGetTimeline(t *testing.T) {
	for _, f := range eventStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.create(t)
			id := uuid.New()
			mustAppend(t, s, id, EventRunStarted, map[string]any{"pipeline": "install", "title": "Installing"})
			mustAppend(t, s, id, EventProcessorStarted, map[string]any{"step": 0, "index": 0, "processor": "install.validate"})
			mustAppend(t, s, id, EventProcessorCompleted, map[string]any{"step": 0, "index": 0, "processor": "install.validate", "result": "continue"})
			mustAppend(t, s, id, EventProcessorStarted, map[string]any{"step": 1, "index": 0, "processor": "install.extract"})
			mustAppend(t, s, id, EventProcessorFailed, map[string]any{"step": 1, "index": 0, "processor": "install.extract", "error": "disk full"})
			mustAppend(t, s, id, EventRunFailed, map[string]any{"error": "pipeline failed"})

			m, err := s.GetTimeline(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if m.Pipeline != "install" || m.Title != "Installing" || m.Status != "failed" || m.Error != "pipeline failed" {
				t.Errorf("run = %+v", m)
			}
			if m.EventCount != 6 || m.StartedAt == nil || m.CompletedAt == nil {
				t.Errorf("counts/times = %d %v %v", m.EventCount, m.StartedAt, m.CompletedAt)
			}
			if len(m.Processors) != 2 {
				t.Fatalf("expected 2 processors, got %d", len(m.Processors))
			}
			if p := m.Processors[0]; p.Type != "install.validate" || p.Status != "completed" || p.Result != "continue" {
				t.Errorf("processor 0 = %+v", p)
			}
			if p := m.Processors[1]; p.Step != 1 || p.Status != "failed" || p.Error != "disk full" {
				t.Errorf("processor 1 = %+v", p)
			}
		})
	}
}

func TestGetTimeline_Aborted(t *testing.T) {
	for _, f := range eventStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.create(t)
			id := uuid.New()
			appendRun(t, s, id, "delete", EventRunAborted)
			m, err := s.GetTimeline(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if m.Status != "aborted" {
				t.Errorf("status = %s", m.Status)
			}
			if len(m.Messages) != 1 || m.Messages[0] != "hello" {
				t.Errorf("messages = %v", m.Messages)
			}
		})
	}
}

func TestGetTimeline_NotFound(t *testing.T) {
	for _, f := range eventStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			_, err := f.create(t).GetTimeline(context.Background(), uuid.New())
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	for _, f := range eventStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.create(t)
			ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
			appendRun(t, s, ids[0], "install", EventRunCompleted)
			time.Sleep(5 * time.Millisecond)
			appendRun(t, s, ids[1], "delete", EventRunAborted)
			time.Sleep(5 * time.Millisecond)
			appendRun(t, s, ids[2], "install", EventRunCompleted)

			ctx := context.Background()
			all, err := s.ListRuns(ctx, RunFilter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 runs, got %d", len(all))
			}
			if all[0].RunID != ids[2] || all[2].RunID != ids[0] {
				t.Error("runs should be most recent first")
			}

			installs, _ := s.ListRuns(ctx, RunFilter{Pipeline: "install"})
			if len(installs) != 2 {
				t.Errorf("expected 2 install runs, got %d", len(installs))
			}
			aborted, _ := s.ListRuns(ctx, RunFilter{Status: "aborted"})
			if len(aborted) != 1 || aborted[0].RunID != ids[1] {
				t.Errorf("aborted = %v", aborted)
			}

			page, _ := s.ListRuns(ctx, RunFilter{Offset: 1, Limit: 1})
			if len(page) != 1 || page[0].RunID != ids[1] {
				t.Errorf("page = %v", page)
			}
			if beyond, _ := s.ListRuns(ctx, RunFilter{Offset: 5}); len(beyond) != 0 {
				t.Errorf("expected empty page, got %d", len(beyond))
			}

			future := time.Now().Add(time.Hour)
			if none, _ := s.ListRuns(ctx, RunFilter{Since: &future}); len(none) != 0 {
				t.Errorf("expected nothing after %v", future)
			}
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	for _, f := range eventStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.create(t)
			id := uuid.New()
			const n = 20
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.Append(context.Background(), id, EventMessageReported, map[string]any{"i": i}); err != nil {
						t.Errorf("Append: %v", err)
					}
				}()
			}
			wg.Wait()

			events, _ := s.GetEvents(context.Background(), id)
			if len(events) != n {
				t.Fatalf("expected %d events, got %d", n, len(events))
			}
			seen := map[int64]bool{}
			for _, ev := range events {
				if seen[ev.SequenceNum] {
					t.Errorf("duplicate sequence %d", ev.SequenceNum)
				}
				seen[ev.SequenceNum] = true
			}
		})
	}
}

func TestSQLiteEventStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := NewSQLiteEventStore(path)
	if err != nil {
		t.Fatal(err)
	}
	id := uuid.New()
	appendRun(t, s, id, "install", EventRunCompleted)
	s.Close()

	reopened, err := NewSQLiteEventStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	m, err := reopened.GetTimeline(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != "completed" {
		t.Errorf("status = %s", m.Status)
	}
}

func TestSQLiteEventStore_FromDB(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s, err := NewSQLiteEventStoreFromDB(db)
	if err != nil {
		t.Fatal(err)
	}
	mustAppend(t, s, uuid.New(), EventRunStarted, map[string]any{"pipeline": "p"})
}

func TestDefaultHistoryPath(t *testing.T) {
	t.Setenv("PROVCTL_HISTORY", "/tmp/h.db")
	if got := DefaultHistoryPath(); got != "/tmp/h.db" {
		t.Errorf("DefaultHistoryPath = %s", got)
	}
}
