package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/indexpilot/indexpilot/internal/scanner"
)

// CycleHandler triggers maintenance cycles on demand.
type CycleHandler struct {
	Scanner *scanner.Service
}

type runCycleInput struct {
	DryRun bool `query:"dryRun"`
}

type runCycleOutput struct{ Body scanner.CycleSummary }

// RegisterCycle registers the cycle trigger endpoint.
func RegisterCycle(api huma.API, h *CycleHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "runCycle",
		Method:        http.MethodPost,
		Path:          "/v1/cycles",
		Summary:       "Run one maintenance cycle now",
		Tags:          []string{"Cycle"},
		DefaultStatus: http.StatusAccepted,
	}, h.run)
}

func (h *CycleHandler) run(ctx context.Context, in *runCycleInput) (*runCycleOutput, error) {
	summary, err := h.Scanner.RunCycle(ctx, in.DryRun)
	if err != nil {
		if errors.Is(err, scanner.ErrCycleRunning) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, mapError(err)
	}
	return &runCycleOutput{Body: summary}, nil
}
