package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/indexpilot/indexpilot/internal/api/schema"
	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/inventory"
	"github.com/indexpilot/indexpilot/internal/rebuild"
	"github.com/indexpilot/indexpilot/internal/secaudit"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/crypto"
)

// TargetHandler manages target registrations via REST.
type TargetHandler struct {
	Repo      *targetdb.Repo
	Connector *targetdb.Connector
	Markers   *rebuild.MarkerRepo
}

type createTargetInput struct{ Body schema.CreateTarget }
type createTargetOutput struct{ Body schema.Target }

type listTargetsOutput struct{ Body []schema.Target }

type targetIDParam struct {
	ID int64 `path:"id"`
}

type targetOutput struct{ Body schema.Target }

type auditSetupOutput struct{ Body []schema.Requirement }

type permissionsOutput struct{ Body []schema.PermissionCheck }

// RegisterTargets registers target endpoints.
func RegisterTargets(api huma.API, h *TargetHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "listTargets",
		Method:      http.MethodGet,
		Path:        "/v1/targets",
		Summary:     "List registered targets",
		Tags:        []string{"Target"},
	}, h.list)
	huma.Register(api, huma.Operation{
		OperationID:   "createTarget",
		Method:        http.MethodPost,
		Path:          "/v1/targets",
		Summary:       "Register a target database",
		Tags:          []string{"Target"},
		DefaultStatus: http.StatusCreated,
	}, h.create)
	huma.Register(api, huma.Operation{
		OperationID: "getTarget",
		Method:      http.MethodGet,
		Path:        "/v1/targets/{id}",
		Summary:     "Get a target",
		Tags:        []string{"Target"},
	}, h.get)
	huma.Register(api, huma.Operation{
		OperationID:   "deleteTarget",
		Method:        http.MethodDelete,
		Path:          "/v1/targets/{id}",
		Summary:       "Delete a target registration",
		Tags:          []string{"Target"},
		DefaultStatus: http.StatusNoContent,
	}, h.delete)
	huma.Register(api, huma.Operation{
		OperationID: "enableTarget",
		Method:      http.MethodPost,
		Path:        "/v1/targets/{id}/enable",
		Summary:     "Enable a target",
		Tags:        []string{"Target"},
	}, h.enable)
	huma.Register(api, huma.Operation{
		OperationID: "disableTarget",
		Method:      http.MethodPost,
		Path:        "/v1/targets/{id}/disable",
		Summary:     "Disable a target",
		Tags:        []string{"Target"},
	}, h.disable)
	huma.Register(api, huma.Operation{
		OperationID: "auditTargetSetup",
		Method:      http.MethodGet,
		Path:        "/v1/targets/{id}/audit-setup",
		Summary:     "Audit the connection setup of a target",
		Tags:        []string{"Target"},
	}, h.auditSetup)
	huma.Register(api, huma.Operation{
		OperationID: "checkTargetPermissions",
		Method:      http.MethodGet,
		Path:        "/v1/targets/{id}/permissions",
		Summary:     "Probe the grants held on a target",
		Tags:        []string{"Target"},
	}, h.permissions)
}

func (h *TargetHandler) create(ctx context.Context, in *createTargetInput) (*createTargetOutput, error) {
	if err := secaudit.ValidateIdentifier("name", in.Body.Name); err != nil {
		return nil, mapError(err)
	}
	if _, err := inventory.ForDriver(in.Body.Driver); err != nil {
		return nil, mapError(&apperr.ValidationError{Field: "driver", Value: in.Body.Driver, Msg: "unsupported driver"})
	}
	enc, err := crypto.Encrypt([]byte(in.Body.DSN))
	if err != nil {
		return nil, mapError(err)
	}
	id, err := h.Repo.Create(ctx, targetdb.Target{
		Name:    in.Body.Name,
		Driver:  in.Body.Driver,
		DSNEnc:  enc,
		Enabled: in.Body.Enabled,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &createTargetOutput{Body: schema.Target{
		ID: id, Name: in.Body.Name, Driver: in.Body.Driver, Enabled: in.Body.Enabled,
	}}, nil
}

func (h *TargetHandler) list(ctx context.Context, _ *struct{}) (*listTargetsOutput, error) {
	targets, err := h.Repo.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	res := make([]schema.Target, len(targets))
	for i, t := range targets {
		res[i] = toSchemaTarget(t)
	}
	return &listTargetsOutput{Body: res}, nil
}

func (h *TargetHandler) get(ctx context.Context, in *targetIDParam) (*targetOutput, error) {
	t, err := h.Repo.Get(ctx, in.ID)
	if err != nil {
		return nil, huma.Error404NotFound("target not found")
	}
	return &targetOutput{Body: toSchemaTarget(t)}, nil
}

func (h *TargetHandler) delete(ctx context.Context, in *targetIDParam) (*struct{}, error) {
	if err := h.Repo.Delete(ctx, in.ID); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

func (h *TargetHandler) enable(ctx context.Context, in *targetIDParam) (*targetOutput, error) {
	return h.setEnabled(ctx, in.ID, true)
}

func (h *TargetHandler) disable(ctx context.Context, in *targetIDParam) (*targetOutput, error) {
	return h.setEnabled(ctx, in.ID, false)
}

func (h *TargetHandler) setEnabled(ctx context.Context, id int64, enabled bool) (*targetOutput, error) {
	if err := h.Repo.SetEnabled(ctx, id, enabled); err != nil {
		return nil, mapError(err)
	}
	t, err := h.Repo.Get(ctx, id)
	if err != nil {
		return nil, huma.Error404NotFound("target not found")
	}
	return &targetOutput{Body: toSchemaTarget(t)}, nil
}

func (h *TargetHandler) auditSetup(ctx context.Context, in *targetIDParam) (*auditSetupOutput, error) {
	t, err := h.Repo.Get(ctx, in.ID)
	if err != nil {
		return nil, huma.Error404NotFound("target not found")
	}
	reqs := h.Connector.AuditSetup(ctx, t.Name)
	res := make([]schema.Requirement, len(reqs))
	for i, r := range reqs {
		res[i] = schema.Requirement{Name: r.Name, Status: string(r.Status), Detail: r.Detail}
	}
	return &auditSetupOutput{Body: res}, nil
}

func (h *TargetHandler) permissions(ctx context.Context, in *targetIDParam) (*permissionsOutput, error) {
	t, err := h.Repo.Get(ctx, in.ID)
	if err != nil {
		return nil, huma.Error404NotFound("target not found")
	}
	conn, err := h.Connector.ConnectTarget(ctx, t)
	if err != nil {
		return nil, mapError(err)
	}
	defer conn.Close()
	probes := conn.Engine.PermissionProbes(conn.DB)
	if h.Markers != nil {
		probes = append(probes, h.Markers.ControlProbes()...)
	}
	caps := secaudit.RunProbes(ctx, probes)
	res := make([]schema.PermissionCheck, len(caps))
	for i, c := range caps {
		res[i] = schema.PermissionCheck{Name: c.Name, Status: string(c.Status), Detail: c.Detail}
	}
	return &permissionsOutput{Body: res}, nil
}

func toSchemaTarget(t targetdb.Target) schema.Target {
	return schema.Target{ID: t.ID, Name: t.Name, Driver: t.Driver, Enabled: t.Enabled, CreatedAt: t.CreatedAt}
}
