package baseline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
)

// Observation is the stored best-known state of one remote index.
type Observation struct {
	ID             int64     `db:"id"`
	TargetID       int64     `db:"target_id"`
	Schema         string    `db:"schema_name"`
	Table          string    `db:"table_name"`
	Index          string    `db:"index_name"`
	SizeBytes      int64     `db:"size_bytes"`
	BestSizeBytes  int64     `db:"best_size_bytes"`
	BestRatio      float64   `db:"best_ratio"`
	LastObservedAt time.Time `db:"last_observed_at"`
}

// Identity keys one index within a target.
type Identity struct {
	Schema string
	Table  string
	Index  string
}

// Repo manages index observations in the control store.
type Repo struct {
	DB          *sql.DB
	Dialect     ormdriver.Dialect
	Driver      string
	TablePrefix string
}

func (r *Repo) prefix() string {
	if r.TablePrefix != "" {
		return r.TablePrefix
	}
	return "idxp_"
}

func (r *Repo) table() string {
	return r.prefix() + "index_observations"
}

var obsColumns = []string{"id", "target_id", "schema_name", "table_name", "index_name", "size_bytes", "best_size_bytes", "best_ratio", "last_observed_at"}

// ListByTarget returns all observations for a target.
func (r *Repo) ListByTarget(ctx context.Context, targetID int64) ([]Observation, error) {
	if r == nil || r.DB == nil {
		return nil, fmt.Errorf("repo not initialized")
	}
	var res []Observation
	q := query.New(r.DB, r.table(), r.Dialect).
		Select(obsColumns...).
		Where("target_id", targetID).
		OrderBy("schema_name", "asc").
		OrderBy("table_name", "asc").
		OrderBy("index_name", "asc").
		WithContext(ctx)
	if err := q.Get(&res); err != nil {
		return nil, err
	}
	return res, nil
}

// Get returns the observation for one index, or found=false.
func (r *Repo) Get(ctx context.Context, targetID int64, id Identity) (Observation, bool, error) {
	if r == nil || r.DB == nil {
		return Observation{}, false, fmt.Errorf("repo not initialized")
	}
	var res []Observation
	q := query.New(r.DB, r.table(), r.Dialect).
		Select(obsColumns...).
		Where("target_id", targetID).
		Where("schema_name", id.Schema).
		Where("table_name", id.Table).
		Where("index_name", id.Index).
		WithContext(ctx)
	if err := q.Get(&res); err != nil {
		return Observation{}, false, err
	}
	if len(res) == 0 {
		return Observation{}, false, nil
	}
	return res[0], true, nil
}

// Upsert records a sighting of an index. The first sighting seeds the
// baseline at the current size with ratio 1.0. Later sightings recompute the
// ratio against the smallest size ever seen; a healthy rebuild only shrinks,
// so a smaller current size lowers the baseline.
func (r *Repo) Upsert(ctx context.Context, targetID int64, id Identity, sizeBytes int64) (Observation, error) {
	existing, found, err := r.Get(ctx, targetID, id)
	if err != nil {
		return Observation{}, err
	}
	now := time.Now().UTC()
	if !found {
		obs := Observation{
			TargetID:       targetID,
			Schema:         id.Schema,
			Table:          id.Table,
			Index:          id.Index,
			SizeBytes:      sizeBytes,
			BestSizeBytes:  sizeBytes,
			BestRatio:      1.0,
			LastObservedAt: now,
		}
		q := query.New(r.DB, r.table(), r.Dialect).WithContext(ctx)
		obsID, err := q.InsertGetId(map[string]any{
			"target_id":        targetID,
			"schema_name":      id.Schema,
			"table_name":       id.Table,
			"index_name":       id.Index,
			"size_bytes":       sizeBytes,
			"best_size_bytes":  sizeBytes,
			"best_ratio":       1.0,
			"last_observed_at": now,
		})
		if err != nil {
			return Observation{}, err
		}
		obs.ID = obsID
		return obs, nil
	}

	best := existing.BestSizeBytes
	if sizeBytes < best || best <= 0 {
		best = sizeBytes
	}
	ratio := 1.0
	if best > 0 {
		ratio = float64(sizeBytes) / float64(best)
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("id", existing.ID).
		WithContext(ctx)
	if _, err := q.Update(map[string]any{
		"size_bytes":       sizeBytes,
		"best_size_bytes":  best,
		"best_ratio":       ratio,
		"last_observed_at": now,
	}); err != nil {
		return Observation{}, err
	}
	existing.SizeBytes = sizeBytes
	existing.BestSizeBytes = best
	existing.BestRatio = ratio
	existing.LastObservedAt = now
	return existing, nil
}

// Seed forcibly adopts the current size as the baseline (ratio 1.0),
// creating the observation if needed. Used for cold-start adoption.
func (r *Repo) Seed(ctx context.Context, targetID int64, id Identity, sizeBytes int64) (Observation, error) {
	existing, found, err := r.Get(ctx, targetID, id)
	if err != nil {
		return Observation{}, err
	}
	now := time.Now().UTC()
	if !found {
		return r.Upsert(ctx, targetID, id, sizeBytes)
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("id", existing.ID).
		WithContext(ctx)
	if _, err := q.Update(map[string]any{
		"size_bytes":       sizeBytes,
		"best_size_bytes":  sizeBytes,
		"best_ratio":       1.0,
		"last_observed_at": now,
	}); err != nil {
		return Observation{}, err
	}
	existing.SizeBytes = sizeBytes
	existing.BestSizeBytes = sizeBytes
	existing.BestRatio = 1.0
	existing.LastObservedAt = now
	return existing, nil
}

// PruneMissing deletes observations for indexes that no longer exist on the
// target. seen holds every identity reported by the latest scan.
func (r *Repo) PruneMissing(ctx context.Context, targetID int64, seen map[Identity]struct{}) (int, error) {
	existing, err := r.ListByTarget(ctx, targetID)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, obs := range existing {
		id := Identity{Schema: obs.Schema, Table: obs.Table, Index: obs.Index}
		if _, ok := seen[id]; ok {
			continue
		}
		q := query.New(r.DB, r.table(), r.Dialect).
			Where("id", obs.ID).
			WithContext(ctx)
		if _, err := q.Delete(); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// Cleanup removes every observation for a target. Explicit operator action;
// never called by the scan path.
func (r *Repo) Cleanup(ctx context.Context, targetID int64) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	q := query.New(r.DB, r.table(), r.Dialect).
		Where("target_id", targetID).
		WithContext(ctx)
	_, err := q.Delete()
	return err
}
