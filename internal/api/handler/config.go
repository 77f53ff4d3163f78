package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/indexpilot/indexpilot/internal/api/schema"
	"github.com/indexpilot/indexpilot/internal/config"
)

// ConfigHandler manages stored configuration parameters.
type ConfigHandler struct {
	Params *config.ParamRepo
}

type listParamsOutput struct{ Body []schema.Param }

type getParamInput struct {
	Name string `path:"name"`
}

type paramOutput struct{ Body schema.Param }

type updateParamInput struct {
	Name string `path:"name"`
	Body schema.UpdateParam
}

// RegisterConfig registers configuration endpoints.
func RegisterConfig(api huma.API, h *ConfigHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "listParams",
		Method:      http.MethodGet,
		Path:        "/v1/config",
		Summary:     "List configuration parameters",
		Tags:        []string{"Config"},
	}, h.list)
	huma.Register(api, huma.Operation{
		OperationID: "getParam",
		Method:      http.MethodGet,
		Path:        "/v1/config/{name}",
		Summary:     "Get one configuration parameter",
		Tags:        []string{"Config"},
	}, h.get)
	huma.Register(api, huma.Operation{
		OperationID: "updateParam",
		Method:      http.MethodPut,
		Path:        "/v1/config/{name}",
		Summary:     "Update a configuration parameter",
		Tags:        []string{"Config"},
	}, h.update)
}

func (h *ConfigHandler) list(ctx context.Context, _ *struct{}) (*listParamsOutput, error) {
	params, err := h.Params.All(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	res := make([]schema.Param, len(params))
	for i, p := range params {
		res[i] = toSchemaParam(p)
	}
	return &listParamsOutput{Body: res}, nil
}

func (h *ConfigHandler) get(ctx context.Context, in *getParamInput) (*paramOutput, error) {
	p, err := h.Params.Get(ctx, in.Name)
	if err != nil {
		return nil, huma.Error404NotFound("parameter not found")
	}
	return &paramOutput{Body: toSchemaParam(p)}, nil
}

func (h *ConfigHandler) update(ctx context.Context, in *updateParamInput) (*paramOutput, error) {
	if err := h.Params.Set(ctx, in.Name, in.Body.Value, in.Body.Comment); err != nil {
		return nil, mapError(err)
	}
	p, err := h.Params.Get(ctx, in.Name)
	if err != nil {
		return nil, mapError(err)
	}
	return &paramOutput{Body: toSchemaParam(p)}, nil
}

func toSchemaParam(p config.Param) schema.Param {
	return schema.Param{
		Name:      p.Name,
		Value:     p.Value,
		ValueType: p.ValueType,
		Comment:   p.Comment,
		UpdatedAt: p.UpdatedAt,
	}
}
