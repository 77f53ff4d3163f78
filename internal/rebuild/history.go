package rebuild

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
)

// Record is one rebuild attempt. SizeAfter, RebuildMS and AnalyzeMS are NULL
// from creation until completion and are set together, exactly once, by the
// same call that started the rebuild. A record alone never proves a rebuild
// finished or died; liveness comes from the marker.
type Record struct {
	ID            int64         `db:"id"`
	TargetID      int64         `db:"target_id"`
	Schema        string        `db:"schema_name"`
	Table         string        `db:"table_name"`
	Index         string        `db:"index_name"`
	SizeBefore    int64         `db:"size_before"`
	SizeAfter     sql.NullInt64 `db:"size_after"`
	EstimatedRows int64         `db:"estimated_rows"`
	RebuildMS     sql.NullInt64 `db:"rebuild_ms"`
	AnalyzeMS     sql.NullInt64 `db:"analyze_ms"`
	RecordedAt    time.Time     `db:"recorded_at"`
}

// HistoryRepo manages rebuild history records.
type HistoryRepo struct {
	DB          *sql.DB
	Dialect     ormdriver.Dialect
	Driver      string
	TablePrefix string
}

func (r *HistoryRepo) prefix() string {
	if r.TablePrefix != "" {
		return r.TablePrefix
	}
	return "idxp_"
}

func (r *HistoryRepo) table() string {
	return r.prefix() + "rebuild_history"
}

var histColumns = []string{"id", "target_id", "schema_name", "table_name", "index_name", "size_before", "size_after", "estimated_rows", "rebuild_ms", "analyze_ms", "recorded_at"}

// Start inserts an incomplete record for a rebuild that is about to run and
// returns its identity for the completing update.
func (r *HistoryRepo) Start(ctx context.Context, rec Record) (int64, error) {
	if r == nil || r.DB == nil {
		return 0, fmt.Errorf("repo not initialized")
	}
	q := query.New(r.DB, r.table(), r.Dialect).WithContext(ctx)
	id, err := q.InsertGetId(map[string]any{
		"target_id":      rec.TargetID,
		"schema_name":    rec.Schema,
		"table_name":     rec.Table,
		"index_name":     rec.Index,
		"size_before":    rec.SizeBefore,
		"estimated_rows": rec.EstimatedRows,
		"recorded_at":    time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Complete fills in the completion fields of the record by identity, in one
// atomic update, and only if they are still NULL. It is an error for the
// record to be already completed or missing.
func (r *HistoryRepo) Complete(ctx context.Context, id int64, sizeAfter int64, rebuildDur, analyzeDur time.Duration) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("id", id).
		WhereRaw("size_after IS NULL", nil).
		WithContext(ctx)
	res, err := q.Update(map[string]any{
		"size_after": sizeAfter,
		"rebuild_ms": rebuildDur.Milliseconds(),
		"analyze_ms": analyzeDur.Milliseconds(),
	})
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("history record %d missing or already completed", id)
	}
	return nil
}

// ListByTarget returns history for one target, newest first.
func (r *HistoryRepo) ListByTarget(ctx context.Context, targetID int64, limit int) ([]Record, error) {
	if r == nil || r.DB == nil {
		return nil, fmt.Errorf("repo not initialized")
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Select(histColumns...).
		Where("target_id", targetID).
		OrderBy("recorded_at", "desc").
		WithContext(ctx)
	var res []Record
	if err := q.Get(&res); err != nil {
		return nil, err
	}
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ReportRow is one row of the derived history report. Pointer fields stay nil
// for unfinished rebuilds, mirroring the NULLs underneath.
type ReportRow struct {
	Record
	DerivedRatio   *float64 `json:"derivedRatio,omitempty"`
	ReclaimedBytes *int64   `json:"reclaimedBytes,omitempty"`
}

// Report joins history with the computed shrink ratio per record.
func (r *HistoryRepo) Report(ctx context.Context, targetID int64, limit int) ([]ReportRow, error) {
	recs, err := r.ListByTarget(ctx, targetID, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]ReportRow, 0, len(recs))
	for _, rec := range recs {
		row := ReportRow{Record: rec}
		if rec.SizeAfter.Valid && rec.SizeAfter.Int64 > 0 {
			ratio := float64(rec.SizeBefore) / float64(rec.SizeAfter.Int64)
			reclaimed := rec.SizeBefore - rec.SizeAfter.Int64
			row.DerivedRatio = &ratio
			row.ReclaimedBytes = &reclaimed
		}
		rows = append(rows, row)
	}
	return rows, nil
}
