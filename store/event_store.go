// Package store keeps an append-only history of pipeline runs. Each run is a
// stream of events that is replayed into a MaterializedRun for display.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	EventRunStarted         = "run.started"
	EventProcessorStarted   = "processor.started"
	EventProcessorCompleted = "processor.completed"
	EventProcessorFailed    = "processor.failed"
	EventMessageReported    = "message.reported"
	EventRunCompleted       = "run.completed"
	EventRunAborted         = "run.aborted"
	EventRunFailed          = "run.failed"
)

// RunEvent is a single immutable entry in a run's history.
type RunEvent struct {
	ID          uuid.UUID       `json:"id"`
	RunID       uuid.UUID       `json:"run_id"`
	SequenceNum int64           `json:"sequence_num"`
	EventType   string          `json:"event_type"`
	EventData   json.RawMessage `json:"event_data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MaterializedProcessor is the replayed state of one processor invocation.
type MaterializedProcessor struct {
	Step        int        `json:"step"`
	Index       int        `json:"index"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MaterializedRun is the replayed state of a whole run.
type MaterializedRun struct {
	RunID       uuid.UUID               `json:"run_id"`
	Pipeline    string                  `json:"pipeline,omitempty"`
	Title       string                  `json:"title,omitempty"`
	Status      string                  `json:"status"`
	Processors  []MaterializedProcessor `json:"processors,omitempty"`
	Messages    []string                `json:"messages,omitempty"`
	Error       string                  `json:"error,omitempty"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	EventCount  int                     `json:"event_count"`
}

// RunFilter selects runs for ListRuns. Zero fields match everything.
type RunFilter struct {
	Pipeline string
	Status   string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// EventStore persists run events.
type EventStore interface {
	// Append adds an event to a run's history.
	Append(ctx context.Context, runID uuid.UUID, eventType string, data map[string]any) error
	// GetEvents returns a run's events ordered by sequence number.
	GetEvents(ctx context.Context, runID uuid.UUID) ([]RunEvent, error)
	// GetTimeline replays a run's events. Unknown runs return ErrNotFound.
	GetTimeline(ctx context.Context, runID uuid.UUID) (*MaterializedRun, error)
	// ListRuns returns matching runs, most recent first.
	ListRuns(ctx context.Context, filter RunFilter) ([]MaterializedRun, error)
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return -1
}

// materialize replays events into a MaterializedRun.
func materialize(events []RunEvent) *MaterializedRun {
	if len(events) == 0 {
		return nil
	}

	m := &MaterializedRun{
		RunID:      events[0].RunID,
		Status:     "unknown",
		EventCount: len(events),
	}

	type key struct{ step, index int }
	open := make(map[key]int)

	for i := range events {
		ev := &events[i]
		var data map[string]any
		if len(ev.EventData) > 0 {
			_ = json.Unmarshal(ev.EventData, &data)
		}
		if data == nil {
			data = map[string]any{}
		}
		t := ev.CreatedAt

		switch ev.EventType {
		case EventRunStarted:
			m.Status = "running"
			m.StartedAt = &t
			m.Pipeline, _ = data["pipeline"].(string)
			m.Title, _ = data["title"].(string)

		case EventProcessorStarted:
			k := key{intField(data, "step"), intField(data, "index")}
			typ, _ := data["processor"].(string)
			open[k] = len(m.Processors)
			m.Processors = append(m.Processors, MaterializedProcessor{
				Step:      k.step,
				Index:     k.index,
				Type:      typ,
				Status:    "running",
				StartedAt: &t,
			})

		case EventProcessorCompleted, EventProcessorFailed:
			k := key{intField(data, "step"), intField(data, "index")}
			idx, ok := open[k]
			if !ok {
				continue
			}
			p := &m.Processors[idx]
			p.CompletedAt = &t
			if ev.EventType == EventProcessorFailed {
				p.Status = "failed"
				p.Error, _ = data["error"].(string)
			} else {
				p.Status = "completed"
				p.Result, _ = data["result"].(string)
			}

		case EventMessageReported:
			text, _ := data["text"].(string)
			m.Messages = append(m.Messages, text)

		case EventRunCompleted:
			m.Status = "completed"
			m.CompletedAt = &t

		case EventRunAborted:
			m.Status = "aborted"
			m.CompletedAt = &t

		case EventRunFailed:
			m.Status = "failed"
			m.CompletedAt = &t
			m.Error, _ = data["error"].(string)
		}
	}

	return m
}

func (f RunFilter) matches(m *MaterializedRun) bool {
	if f.Pipeline != "" && m.Pipeline != f.Pipeline {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Since != nil && (m.StartedAt == nil || m.StartedAt.Before(*f.Since)) {
		return false
	}
	if f.Until != nil && (m.StartedAt == nil || m.StartedAt.After(*f.Until)) {
		return false
	}
	return true
}

// page sorts runs most recent first and applies offset and limit.
func (f RunFilter) page(runs []MaterializedRun) []MaterializedRun {
	sort.Slice(runs, func(i, j int) bool {
		ti, tj := runs[i].StartedAt, runs[j].StartedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		}
		return ti.After(*tj)
	})
	if f.Offset > 0 {
		if f.Offset >= len(runs) {
			return nil
		}
		runs = runs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(runs) {
		runs = runs[:f.Limit]
	}
	return runs
}

var (
	_ EventStore = (*InMemoryEventStore)(nil)
	_ EventStore = (*SQLiteEventStore)(nil)
)
