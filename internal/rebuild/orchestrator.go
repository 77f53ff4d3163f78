package rebuild

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/baseline"
	"github.com/indexpilot/indexpilot/internal/config"
	"github.com/indexpilot/indexpilot/internal/events"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/metrics"
)

// Outcome summarizes one orchestration decision for an index.
type Outcome struct {
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Index      string `json:"index"`
	Action     string `json:"action"`
	HistoryID  int64  `json:"historyId,omitempty"`
	SizeBefore int64  `json:"sizeBefore,omitempty"`
	SizeAfter  int64  `json:"sizeAfter,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Actions reported in Outcome.
const (
	ActionRebuilt  = "rebuilt"
	ActionSkipped  = "skipped"
	ActionWouldRun = "would_rebuild"
	ActionFailed   = "failed"
)

// Orchestrator drives online rebuilds for indexes whose bloat ratio crossed
// the configured threshold.
type Orchestrator struct {
	History *HistoryRepo
	Markers *MarkerRepo
	Logger  *zap.SugaredLogger
	holder  string
}

// NewOrchestrator wires the orchestrator over the control store repos.
func NewOrchestrator(history *HistoryRepo, markers *MarkerRepo, logger *zap.SugaredLogger) *Orchestrator {
	host, _ := os.Hostname()
	if host == "" {
		host = "indexpilotd"
	}
	return &Orchestrator{History: history, Markers: markers, Logger: logger, holder: host}
}

// Evaluate walks the estimates for one target and rebuilds every index whose
// ratio meets or exceeds the scale factor. Each rebuild runs on its own
// goroutine so a slow index never blocks its siblings; the marker is what
// serializes work per index. Index failures do not stop the pass; each
// produces a failed outcome and the walk continues. A canceled context stops
// new rebuilds from starting while the ones in flight run to completion.
func (o *Orchestrator) Evaluate(ctx context.Context, h *targetdb.Handle, estimates []baseline.BloatEstimate, s config.Settings, dryRun bool) []Outcome {
	outcomes := make([]Outcome, 0, len(estimates))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, est := range estimates {
		if est.Ratio < s.RebuildScaleFactor {
			continue
		}
		if dryRun {
			outcomes = append(outcomes, Outcome{
				Schema: est.Schema, Table: est.Table, Index: est.Index,
				Action: ActionWouldRun, SizeBefore: est.SizeBytes,
			})
			continue
		}
		if ctx.Err() != nil {
			outcomes = append(outcomes, Outcome{
				Schema: est.Schema, Table: est.Table, Index: est.Index,
				Action: ActionSkipped, Detail: "cycle canceled",
			})
			continue
		}
		wg.Add(1)
		go func(est baseline.BloatEstimate) {
			defer wg.Done()
			out := o.rebuildOne(ctx, h, est, s)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}(est)
	}
	wg.Wait()
	return outcomes
}

// rebuildOne runs the full state machine for one index: marker acquire,
// history start, online rebuild, re-measure, optional analyze, history
// complete, marker release. The marker is removed on success and failure
// alike; the history record stays incomplete on failure.
func (o *Orchestrator) rebuildOne(ctx context.Context, h *targetdb.Handle, est baseline.BloatEstimate, s config.Settings) Outcome {
	target := h.Target
	m := Marker{TargetID: target.ID, Schema: est.Schema, Table: est.Table, Index: est.Index, Holder: o.holder}

	acquired, err := o.Markers.Acquire(ctx, m)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionSkipped, Detail: "cycle canceled"}
		}
		return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionFailed, Detail: err.Error()}
	}
	if !acquired {
		o.Logger.Infow("rebuild already in progress, skipping",
			"target", target.Name, "schema", est.Schema, "index", est.Index)
		return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionSkipped, Detail: "marker held"}
	}
	defer func() {
		if err := o.Markers.Release(context.WithoutCancel(ctx), m); err != nil {
			o.Logger.Errorw("release rebuild marker", "target", target.Name, "index", est.Index, "error", err)
		}
	}()

	rows, err := h.Engine.EstimatedRows(ctx, h.DB, est.Schema, est.Table)
	if err != nil {
		o.Logger.Warnw("estimate rows", "target", target.Name, "table", est.Table, "error", err)
	}
	histID, err := o.History.Start(ctx, Record{
		TargetID:      target.ID,
		Schema:        est.Schema,
		Table:         est.Table,
		Index:         est.Index,
		SizeBefore:    est.SizeBytes,
		EstimatedRows: rows,
	})
	if err != nil {
		return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionFailed, Detail: err.Error()}
	}

	metrics.RebuildsStarted.WithLabelValues(target.Name).Inc()
	events.Emit(ctx, events.New(events.EventRebuildStarted, events.RebuildData{
		Target: target.Name, Schema: est.Schema, Table: est.Table, Index: est.Index,
		HistoryID: histID, SizeBefore: est.SizeBytes,
	}))
	o.Logger.Infow("rebuilding index",
		"target", target.Name, "schema", est.Schema, "index", est.Index,
		"ratio", est.Ratio, "sizeBefore", est.SizeBytes)

	// The rebuild outlives the cycle context on purpose: an aborted online
	// rebuild leaves invalid artifacts behind, so only the timeout cancels it.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.RebuildTimeout)
	defer cancel()

	rebuildStart := time.Now()
	if err := h.Engine.Rebuild(runCtx, h.DB, est.Schema, est.Table, est.Index); err != nil {
		rerr := &apperr.RebuildError{Target: target.Name, Schema: est.Schema, Table: est.Table, Index: est.Index, Err: err}
		metrics.RebuildsFailed.WithLabelValues(target.Name).Inc()
		events.Emit(ctx, events.New(events.EventRebuildFailed, events.RebuildData{
			Target: target.Name, Schema: est.Schema, Table: est.Table, Index: est.Index,
			HistoryID: histID, SizeBefore: est.SizeBytes, Error: err.Error(),
		}))
		o.Logger.Errorw("rebuild failed", "target", target.Name, "index", est.Index, "error", rerr)
		return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionFailed, HistoryID: histID, SizeBefore: est.SizeBytes, Detail: rerr.Error()}
	}
	rebuildDur := time.Since(rebuildStart)

	sizeAfter, err := h.Engine.IndexSizeBytes(runCtx, h.DB, est.Schema, est.Table, est.Index)
	if err != nil {
		o.Logger.Errorw("re-measure after rebuild", "target", target.Name, "index", est.Index, "error", err)
		return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionFailed, HistoryID: histID, SizeBefore: est.SizeBytes, Detail: err.Error()}
	}

	var analyzeDur time.Duration
	if s.AnalyzeAfterRebuild {
		analyzeStart := time.Now()
		if err := h.Engine.Analyze(runCtx, h.DB, est.Schema, est.Table); err != nil {
			o.Logger.Warnw("analyze after rebuild", "target", target.Name, "table", est.Table, "error", err)
		} else {
			analyzeDur = time.Since(analyzeStart)
		}
	}

	// Recording belongs to the same detached unit as the rebuild itself: a
	// cancel that arrives mid-rebuild must not turn a finished rebuild into
	// a permanently incomplete record.
	if err := o.History.Complete(context.WithoutCancel(ctx), histID, sizeAfter, rebuildDur, analyzeDur); err != nil {
		o.Logger.Errorw("complete history record", "target", target.Name, "historyId", histID, "error", err)
		return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionFailed, HistoryID: histID, SizeBefore: est.SizeBytes, SizeAfter: sizeAfter, Detail: err.Error()}
	}

	metrics.RebuildDuration.WithLabelValues(target.Name).Observe(rebuildDur.Seconds())
	if reclaimed := est.SizeBytes - sizeAfter; reclaimed > 0 {
		metrics.ReclaimedBytes.WithLabelValues(target.Name).Add(float64(reclaimed))
	}
	ms := rebuildDur.Milliseconds()
	events.Emit(ctx, events.New(events.EventRebuildCompleted, events.RebuildData{
		Target: target.Name, Schema: est.Schema, Table: est.Table, Index: est.Index,
		HistoryID: histID, SizeBefore: est.SizeBytes, SizeAfter: &sizeAfter, DurationMS: &ms,
	}))
	o.Logger.Infow("rebuild completed",
		"target", target.Name, "schema", est.Schema, "index", est.Index,
		"sizeBefore", est.SizeBytes, "sizeAfter", sizeAfter, "durationMs", ms)
	return Outcome{Schema: est.Schema, Table: est.Table, Index: est.Index, Action: ActionRebuilt, HistoryID: histID, SizeBefore: est.SizeBytes, SizeAfter: sizeAfter}
}
