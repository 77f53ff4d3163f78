package handler

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/indexpilot/indexpilot/internal/api/schema"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/migrator"
)

// AdminHandler exposes install inspection and uninstall. GET teardown
// previews the SQL and leftover artifacts; POST executes the down
// migration. Target-side objects are only enumerated, never dropped.
type AdminHandler struct {
	DB        *sql.DB
	Targets   *targetdb.Repo
	Connector *targetdb.Connector
	Migrator  *migrator.Migrator
}

type versionOutput struct {
	Body struct {
		Current int `json:"current"`
		Latest  int `json:"latest"`
	}
}

type teardownOutput struct {
	Body struct {
		Statements []string                     `json:"statements"`
		Artifacts  map[string][]schema.Artifact `json:"artifacts,omitempty"`
	}
}

type artifactsOutput struct{ Body []schema.Artifact }

// RegisterAdmin registers admin endpoints.
func RegisterAdmin(api huma.API, h *AdminHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "schemaVersion",
		Method:      http.MethodGet,
		Path:        "/v1/admin/schema-version",
		Summary:     "Report control store schema version",
		Tags:        []string{"Admin"},
	}, h.version)
	huma.Register(api, huma.Operation{
		OperationID: "previewTeardown",
		Method:      http.MethodGet,
		Path:        "/v1/admin/teardown",
		Summary:     "Preview the SQL and leftovers an uninstall would touch",
		Tags:        []string{"Admin"},
	}, h.teardown)
	huma.Register(api, huma.Operation{
		OperationID: "executeTeardown",
		Method:      http.MethodPost,
		Path:        "/v1/admin/teardown",
		Summary:     "Drop every control store table",
		Tags:        []string{"Admin"},
	}, h.executeTeardown)
	huma.Register(api, huma.Operation{
		OperationID: "listRebuildArtifacts",
		Method:      http.MethodGet,
		Path:        "/v1/targets/{id}/artifacts",
		Summary:     "List leftover objects from interrupted rebuilds",
		Tags:        []string{"Admin"},
	}, h.artifacts)
}

func (h *AdminHandler) version(ctx context.Context, _ *struct{}) (*versionOutput, error) {
	cur, err := h.Migrator.Current(ctx, h.DB)
	if err != nil {
		return nil, mapError(err)
	}
	out := &versionOutput{}
	out.Body.Current = cur
	out.Body.Latest = h.Migrator.Latest()
	return out, nil
}

func (h *AdminHandler) teardown(ctx context.Context, _ *struct{}) (*teardownOutput, error) {
	out := &teardownOutput{}
	out.Body.Statements = h.Migrator.SQLForRange(h.Migrator.Latest(), 0)

	targets, err := h.Targets.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	artifacts := map[string][]schema.Artifact{}
	for _, t := range targets {
		if !t.Enabled {
			continue
		}
		conn, err := h.Connector.ConnectTarget(ctx, t)
		if err != nil {
			continue
		}
		arts, err := conn.Engine.ListRebuildArtifacts(ctx, conn.DB)
		_ = conn.Close()
		if err != nil || len(arts) == 0 {
			continue
		}
		rows := make([]schema.Artifact, len(arts))
		for i, a := range arts {
			rows[i] = schema.Artifact{Schema: a.Schema, Name: a.Name, Kind: a.Kind, Detail: a.Detail}
		}
		artifacts[t.Name] = rows
	}
	if len(artifacts) > 0 {
		out.Body.Artifacts = artifacts
	}
	return out, nil
}

type executeTeardownInput struct {
	Body struct {
		Confirm bool `json:"confirm"`
	}
}

type executeTeardownOutput struct {
	Body struct {
		Dropped bool `json:"dropped"`
	}
}

func (h *AdminHandler) executeTeardown(ctx context.Context, in *executeTeardownInput) (*executeTeardownOutput, error) {
	if !in.Body.Confirm {
		return nil, huma.Error422UnprocessableEntity("set confirm=true to drop the control store")
	}
	if err := h.Migrator.Down(ctx, h.DB, 0); err != nil {
		return nil, mapError(err)
	}
	out := &executeTeardownOutput{}
	out.Body.Dropped = true
	return out, nil
}

func (h *AdminHandler) artifacts(ctx context.Context, in *targetPathParam) (*artifactsOutput, error) {
	t, err := h.Targets.Get(ctx, in.ID)
	if err != nil {
		return nil, huma.Error404NotFound("target not found")
	}
	conn, err := h.Connector.ConnectTarget(ctx, t)
	if err != nil {
		return nil, mapError(err)
	}
	defer conn.Close()
	arts, err := conn.Engine.ListRebuildArtifacts(ctx, conn.DB)
	if err != nil {
		return nil, mapError(err)
	}
	res := make([]schema.Artifact, len(arts))
	for i, a := range arts {
		res[i] = schema.Artifact{Schema: a.Schema, Name: a.Name, Kind: a.Kind, Detail: a.Detail}
	}
	return &artifactsOutput{Body: res}, nil
}
