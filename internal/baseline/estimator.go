package baseline

import (
	"context"

	"github.com/indexpilot/indexpilot/internal/inventory"
	"github.com/indexpilot/indexpilot/internal/targetdb"
)

// BloatEstimate is the derived health of one observed index. A row exists
// only when a baseline exists; "never measured" is absence, not zero.
type BloatEstimate struct {
	Schema     string  `json:"schema"`
	Table      string  `json:"table"`
	Index      string  `json:"index"`
	SizeBytes  int64   `json:"sizeBytes"`
	Ratio      float64 `json:"ratio"`
	BloatBytes int64   `json:"estimatedBloatBytes"`
}

// Estimator combines stored observations into bloat estimates.
type Estimator struct {
	Obs *Repo
}

// EstimateBloat returns one estimate per observed index of the target.
// bloat = size − size/ratio: the bytes above what the best-known baseline
// predicts for the current tuple count.
func (e *Estimator) EstimateBloat(ctx context.Context, targetID int64) ([]BloatEstimate, error) {
	obs, err := e.Obs.ListByTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	res := make([]BloatEstimate, 0, len(obs))
	for _, o := range obs {
		if o.BestSizeBytes <= 0 || o.BestRatio <= 0 {
			continue
		}
		bloat := o.SizeBytes - int64(float64(o.SizeBytes)/o.BestRatio)
		res = append(res, BloatEstimate{
			Schema:     o.Schema,
			Table:      o.Table,
			Index:      o.Index,
			SizeBytes:  o.SizeBytes,
			Ratio:      o.BestRatio,
			BloatBytes: bloat,
		})
	}
	return res, nil
}

// ForcePopulate seeds baselines for every current index of the target in one
// pass. Indexes mid-rebuild are skipped; their settled replacement is adopted
// on a later scan.
func (e *Estimator) ForcePopulate(ctx context.Context, h *targetdb.Handle, f inventory.Filter) (int, error) {
	indexes, err := h.Engine.ListIndexes(ctx, h.DB, f)
	if err != nil {
		return 0, err
	}
	seeded := 0
	for _, ix := range indexes {
		if ix.InProgress {
			continue
		}
		id := Identity{Schema: ix.Schema, Table: ix.Table, Index: ix.Name}
		if _, err := e.Obs.Seed(ctx, h.Target.ID, id, ix.SizeBytes); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
