package handler

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/indexpilot/indexpilot/internal/apperr"
)

// mapError converts domain errors into HTTP status errors. Unclassified
// errors pass through and surface as 500s.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return huma.Error422UnprocessableEntity(ve.Error())
	}
	var ce *apperr.ConnectionError
	if errors.As(err, &ce) {
		switch ce.Reason {
		case apperr.ReasonUnregistered:
			return huma.Error404NotFound(ce.Error())
		case apperr.ReasonDisabled:
			return huma.Error409Conflict(ce.Error())
		default:
			return huma.Error502BadGateway(ce.Error())
		}
	}
	var pe *apperr.PermissionError
	if errors.As(err, &pe) {
		return huma.Error403Forbidden(pe.Error())
	}
	return err
}
