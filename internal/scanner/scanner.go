package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/baseline"
	"github.com/indexpilot/indexpilot/internal/config"
	"github.com/indexpilot/indexpilot/internal/events"
	"github.com/indexpilot/indexpilot/internal/inventory"
	"github.com/indexpilot/indexpilot/internal/rebuild"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/metrics"
)

// ErrCycleRunning is returned when a cycle is requested while one is active.
var ErrCycleRunning = errors.New("a maintenance cycle is already running")

// CycleSummary aggregates what one maintenance cycle did.
type CycleSummary struct {
	StartedAt       time.Time         `json:"startedAt"`
	DurationMS      int64             `json:"durationMs"`
	DryRun          bool              `json:"dryRun"`
	TargetsScanned  int               `json:"targetsScanned"`
	TargetsSkipped  map[string]string `json:"targetsSkipped,omitempty"`
	IndexesObserved int               `json:"indexesObserved"`
	IndexesPruned   int               `json:"indexesPruned"`
	RebuildsStarted int               `json:"rebuildsStarted"`
	RebuildsFailed  int               `json:"rebuildsFailed"`
	WouldRebuild    int               `json:"wouldRebuild,omitempty"`
}

// Service runs the periodic scan-estimate-rebuild cycle over every enabled
// target.
type Service struct {
	Targets      *targetdb.Repo
	Connector    *targetdb.Connector
	Observations *baseline.Repo
	Estimator    *baseline.Estimator
	Params       *config.ParamRepo
	Orchestrator *rebuild.Orchestrator
	Logger       *zap.SugaredLogger

	mu      sync.Mutex
	running bool
}

type targetResult struct {
	name     string
	observed int
	pruned   int
	outcomes []rebuild.Outcome
	skipErr  error
}

// RunCycle executes one full maintenance cycle. Targets are processed
// concurrently up to the configured worker count; a failing target is skipped
// for the cycle and never aborts the others. With dryRun set, the scan and
// estimates run but no rebuild is issued.
func (s *Service) RunCycle(ctx context.Context, dryRun bool) (CycleSummary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return CycleSummary{}, ErrCycleRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	summary := CycleSummary{StartedAt: start.UTC(), DryRun: dryRun, TargetsSkipped: map[string]string{}}

	settings, err := s.Params.Load(ctx)
	if err != nil {
		s.Logger.Warnw("load cycle settings, using defaults", "error", err)
		settings = config.DefaultSettings()
	}

	targets, err := s.Targets.ListEnabled(ctx)
	if err != nil {
		return summary, err
	}

	sem := make(chan struct{}, settings.CycleWorkers)
	results := make([]targetResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t targetdb.Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.scanTarget(ctx, t, settings, dryRun)
		}(i, t)
	}
	wg.Wait()

	for _, res := range results {
		if res.skipErr != nil {
			reason := skipReason(res.skipErr)
			summary.TargetsSkipped[res.name] = res.skipErr.Error()
			metrics.TargetsSkipped.WithLabelValues(reason).Inc()
			s.Logger.Warnw("target skipped", "target", res.name, "reason", reason, "error", res.skipErr)
			continue
		}
		summary.TargetsScanned++
		summary.IndexesObserved += res.observed
		summary.IndexesPruned += res.pruned
		metrics.TargetsScanned.Inc()
		metrics.IndexesObserved.WithLabelValues(res.name).Set(float64(res.observed))
		tallyOutcomes(&summary, res.outcomes)
	}

	summary.DurationMS = time.Since(start).Milliseconds()
	metrics.CyclesTotal.WithLabelValues(boolLabel(dryRun)).Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	events.Emit(ctx, events.New(events.EventCycleCompleted, summary))
	s.Logger.Infow("cycle completed",
		"targetsScanned", summary.TargetsScanned,
		"targetsSkipped", len(summary.TargetsSkipped),
		"indexesObserved", summary.IndexesObserved,
		"rebuildsStarted", summary.RebuildsStarted,
		"rebuildsFailed", summary.RebuildsFailed,
		"durationMs", summary.DurationMS,
		"dryRun", dryRun)
	return summary, nil
}

// scanTarget handles one target for the cycle: connect, inventory, baseline
// upsert, prune, then orchestrate rebuilds over the fresh estimates.
func (s *Service) scanTarget(ctx context.Context, t targetdb.Target, settings config.Settings, dryRun bool) targetResult {
	res := targetResult{name: t.Name}
	h, err := s.Connector.ConnectTarget(ctx, t)
	if err != nil {
		res.skipErr = err
		return res
	}
	defer func() {
		if err := h.Close(); err != nil {
			s.Logger.Warnw("close target connection", "target", t.Name, "error", err)
		}
	}()

	indexes, err := h.Engine.ListIndexes(ctx, h.DB, inventory.Filter{})
	if err != nil {
		res.skipErr = err
		return res
	}

	seen := make(map[baseline.Identity]struct{}, len(indexes))
	for _, ix := range indexes {
		if ix.InProgress {
			continue
		}
		id := baseline.Identity{Schema: ix.Schema, Table: ix.Table, Index: ix.Name}
		seen[id] = struct{}{}
		obs, err := s.Observations.Upsert(ctx, t.ID, id, ix.SizeBytes)
		if err != nil {
			res.skipErr = err
			return res
		}
		metrics.BloatRatio.WithLabelValues(t.Name, ix.Schema, ix.Name).Set(obs.BestRatio)
		res.observed++
	}

	pruned, err := s.Observations.PruneMissing(ctx, t.ID, seen)
	if err != nil {
		res.skipErr = err
		return res
	}
	res.pruned = pruned

	estimates, err := s.Estimator.EstimateBloat(ctx, t.ID)
	if err != nil {
		res.skipErr = err
		return res
	}
	res.outcomes = s.Orchestrator.Evaluate(ctx, h, estimates, settings, dryRun)
	return res
}

// tallyOutcomes folds orchestration outcomes into the cycle summary. Dry-run
// candidates are counted apart from real rebuilds: nothing was issued.
func tallyOutcomes(summary *CycleSummary, outs []rebuild.Outcome) {
	for _, out := range outs {
		switch out.Action {
		case rebuild.ActionRebuilt:
			summary.RebuildsStarted++
		case rebuild.ActionWouldRun:
			summary.WouldRebuild++
		case rebuild.ActionFailed:
			summary.RebuildsFailed++
		}
	}
}

func skipReason(err error) string {
	var ce *apperr.ConnectionError
	if errors.As(err, &ce) {
		return string(ce.Reason)
	}
	return "scan_error"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
