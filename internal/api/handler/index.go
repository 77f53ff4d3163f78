package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/indexpilot/indexpilot/internal/api/schema"
	"github.com/indexpilot/indexpilot/internal/baseline"
	"github.com/indexpilot/indexpilot/internal/inventory"
	"github.com/indexpilot/indexpilot/internal/rebuild"
	"github.com/indexpilot/indexpilot/internal/targetdb"
)

// IndexHandler exposes observations, estimates and rebuild history.
type IndexHandler struct {
	Targets      *targetdb.Repo
	Connector    *targetdb.Connector
	Observations *baseline.Repo
	Estimator    *baseline.Estimator
	History      *rebuild.HistoryRepo
	Markers      *rebuild.MarkerRepo
}

type listObservationsOutput struct{ Body []schema.Observation }

type listEstimatesOutput struct{ Body []schema.Estimate }

type historyInput struct {
	ID    int64 `path:"id"`
	Limit int   `query:"limit"`
}

type historyOutput struct{ Body []schema.HistoryRecord }

type listMarkersOutput struct{ Body []schema.Marker }

type seedInput struct {
	ID   int64 `path:"id"`
	Body struct {
		Schema string `json:"schema,omitempty"`
		Table  string `json:"table,omitempty"`
		Index  string `json:"index,omitempty"`
	}
}

type seedOutput struct {
	Body struct {
		Seeded int `json:"seeded"`
	}
}

// RegisterIndexes registers observation and history endpoints.
func RegisterIndexes(api huma.API, h *IndexHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "listObservations",
		Method:      http.MethodGet,
		Path:        "/v1/targets/{id}/observations",
		Summary:     "List stored index observations",
		Tags:        []string{"Index"},
	}, h.observations)
	huma.Register(api, huma.Operation{
		OperationID: "listEstimates",
		Method:      http.MethodGet,
		Path:        "/v1/targets/{id}/estimates",
		Summary:     "Estimate index bloat from stored observations",
		Tags:        []string{"Index"},
	}, h.estimates)
	huma.Register(api, huma.Operation{
		OperationID: "listHistory",
		Method:      http.MethodGet,
		Path:        "/v1/targets/{id}/history",
		Summary:     "List rebuild history with derived savings",
		Tags:        []string{"Index"},
	}, h.history)
	huma.Register(api, huma.Operation{
		OperationID: "listMarkers",
		Method:      http.MethodGet,
		Path:        "/v1/markers",
		Summary:     "List live rebuild markers",
		Tags:        []string{"Index"},
	}, h.markers)
	huma.Register(api, huma.Operation{
		OperationID:   "cleanupObservations",
		Method:        http.MethodDelete,
		Path:          "/v1/targets/{id}/observations",
		Summary:       "Drop every stored observation for a target",
		Tags:          []string{"Index"},
		DefaultStatus: http.StatusNoContent,
	}, h.cleanup)
	huma.Register(api, huma.Operation{
		OperationID:   "seedBaselines",
		Method:        http.MethodPost,
		Path:          "/v1/targets/{id}/seed-baselines",
		Summary:       "Adopt current index sizes as healthy baselines",
		Tags:          []string{"Index"},
		DefaultStatus: http.StatusAccepted,
	}, h.seed)
}

type targetPathParam struct {
	ID int64 `path:"id"`
}

func (h *IndexHandler) observations(ctx context.Context, in *targetPathParam) (*listObservationsOutput, error) {
	obs, err := h.Observations.ListByTarget(ctx, in.ID)
	if err != nil {
		return nil, mapError(err)
	}
	res := make([]schema.Observation, len(obs))
	for i, o := range obs {
		res[i] = schema.Observation{
			Schema:         o.Schema,
			Table:          o.Table,
			Index:          o.Index,
			SizeBytes:      o.SizeBytes,
			BestSizeBytes:  o.BestSizeBytes,
			BestRatio:      o.BestRatio,
			LastObservedAt: o.LastObservedAt,
		}
	}
	return &listObservationsOutput{Body: res}, nil
}

func (h *IndexHandler) estimates(ctx context.Context, in *targetPathParam) (*listEstimatesOutput, error) {
	ests, err := h.Estimator.EstimateBloat(ctx, in.ID)
	if err != nil {
		return nil, mapError(err)
	}
	res := make([]schema.Estimate, len(ests))
	for i, e := range ests {
		res[i] = schema.Estimate{
			Schema: e.Schema, Table: e.Table, Index: e.Index,
			SizeBytes: e.SizeBytes, Ratio: e.Ratio, BloatBytes: e.BloatBytes,
		}
	}
	return &listEstimatesOutput{Body: res}, nil
}

func (h *IndexHandler) history(ctx context.Context, in *historyInput) (*historyOutput, error) {
	rows, err := h.History.Report(ctx, in.ID, in.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	res := make([]schema.HistoryRecord, len(rows))
	for i, row := range rows {
		rec := schema.HistoryRecord{
			ID:             row.ID,
			Schema:         row.Schema,
			Table:          row.Table,
			Index:          row.Index,
			SizeBefore:     row.SizeBefore,
			EstimatedRows:  row.EstimatedRows,
			RecordedAt:     row.RecordedAt,
			DerivedRatio:   row.DerivedRatio,
			ReclaimedBytes: row.ReclaimedBytes,
		}
		if row.SizeAfter.Valid {
			v := row.SizeAfter.Int64
			rec.SizeAfter = &v
		}
		if row.RebuildMS.Valid {
			v := row.RebuildMS.Int64
			rec.RebuildMS = &v
		}
		if row.AnalyzeMS.Valid {
			v := row.AnalyzeMS.Int64
			rec.AnalyzeMS = &v
		}
		res[i] = rec
	}
	return &historyOutput{Body: res}, nil
}

func (h *IndexHandler) markers(ctx context.Context, _ *struct{}) (*listMarkersOutput, error) {
	ms, err := h.Markers.ListAll(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	res := make([]schema.Marker, len(ms))
	for i, m := range ms {
		res[i] = schema.Marker{
			TargetID: m.TargetID, Schema: m.Schema, Table: m.Table,
			Index: m.Index, Holder: m.Holder, AcquiredAt: m.AcquiredAt,
		}
	}
	return &listMarkersOutput{Body: res}, nil
}

func (h *IndexHandler) cleanup(ctx context.Context, in *targetPathParam) (*struct{}, error) {
	if _, err := h.Targets.Get(ctx, in.ID); err != nil {
		return nil, huma.Error404NotFound("target not found")
	}
	if err := h.Observations.Cleanup(ctx, in.ID); err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

func (h *IndexHandler) seed(ctx context.Context, in *seedInput) (*seedOutput, error) {
	t, err := h.Targets.Get(ctx, in.ID)
	if err != nil {
		return nil, huma.Error404NotFound("target not found")
	}
	conn, err := h.Connector.ConnectTarget(ctx, t)
	if err != nil {
		return nil, mapError(err)
	}
	defer conn.Close()
	f := inventory.Filter{Schema: in.Body.Schema, Table: in.Body.Table, Index: in.Body.Index}
	seeded, err := h.Estimator.ForcePopulate(ctx, conn, f)
	if err != nil {
		return nil, mapError(err)
	}
	out := &seedOutput{}
	out.Body.Seeded = seeded
	return out, nil
}
