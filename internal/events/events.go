package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Default is the global dispatcher used by Emit.
var Default *Dispatcher

// Event names emitted by the control plane.
const (
	EventRebuildStarted   = "rebuild.started"
	EventRebuildCompleted = "rebuild.completed"
	EventRebuildFailed    = "rebuild.failed"
	EventCycleCompleted   = "cycle.completed"
)

// Event represents a notification payload.
type Event struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// RebuildData is the payload of rebuild.* events.
type RebuildData struct {
	Target     string `json:"target"`
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Index      string `json:"index"`
	HistoryID  int64  `json:"historyId"`
	SizeBefore int64  `json:"sizeBefore"`
	SizeAfter  *int64 `json:"sizeAfter,omitempty"`
	DurationMS *int64 `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// New builds an event with a fresh ID and timestamp.
func New(name string, data any) Event {
	return Event{ID: uuid.NewString(), Name: name, Time: time.Now().UTC(), Data: data}
}

// Sink publishes events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// DLQ stores events that could not be delivered.
type DLQ interface {
	Store(ctx context.Context, e Event, attempts int, lastErr string) error
}

// Dispatcher broadcasts events to multiple sinks with retries.
type Dispatcher struct {
	sinks        []Sink
	maxAttempts  int
	initialDelay time.Duration
	dlq          DLQ
}

// RetryConfig bounds redelivery attempts.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// NewDispatcher creates a dispatcher from sinks and retry config.
func NewDispatcher(cfg Config, dlq DLQ, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{maxAttempts: 3, initialDelay: time.Second}
	if cfg.Retry.MaxAttempts > 0 {
		d.maxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialDelay > 0 {
		d.initialDelay = cfg.Retry.InitialDelay
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	d.dlq = dlq
	return d
}

// Emit sends an event using the global dispatcher if set.
func Emit(ctx context.Context, e Event) {
	if Default != nil {
		Default.Dispatch(ctx, e)
	}
}

// Dispatch sends the event to all sinks asynchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	for _, s := range d.sinks {
		sink := s
		go d.retrySend(ctx, sink, e)
	}
}

func (d *Dispatcher) retrySend(ctx context.Context, s Sink, e Event) {
	delay := d.initialDelay
	var err error
	for i := 1; i <= d.maxAttempts; i++ {
		if err = s.Emit(ctx, e); err == nil {
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
	if d.dlq != nil {
		_ = d.dlq.Store(ctx, e, d.maxAttempts, err.Error())
	}
}

// SQLDLQ stores undeliverable events in the control store.
type SQLDLQ struct {
	DB          *sql.DB
	Driver      string
	TablePrefix string
}

// Store inserts the failed event.
func (q *SQLDLQ) Store(ctx context.Context, e Event, attempts int, lastErr string) error {
	if q == nil || q.DB == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	prefix := q.TablePrefix
	if prefix == "" {
		prefix = "idxp_"
	}
	tbl := prefix + "events_failed"
	var stmt string
	if q.Driver == "postgres" {
		stmt = fmt.Sprintf("INSERT INTO %s (name, payload, attempts, last_error) VALUES ($1, $2, $3, $4)", tbl)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (name, payload, attempts, last_error) VALUES (?, ?, ?, ?)", tbl)
	}
	_, err = q.DB.ExecContext(ctx, stmt, e.Name, string(data), attempts, lastErr)
	return err
}
