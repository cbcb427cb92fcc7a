package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
)

// Problem types (RFC 7807)
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInsufficient = "/errors/insufficient-data"
	TypeInvalidGrid  = "/errors/invalid-grid"
	TypeTimeout      = "/errors/timeout"
	TypeInternal     = "/errors/internal"
)

// FieldError is one failed request field
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value string `json:"value,omitempty"`
}

// Problem is an RFC 7807 problem details body
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"trace_id,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
	Details  any          `json:"details,omitempty"`
}

// Render implements render.Renderer
func (p *Problem) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, p.Status)
	return nil
}

func newProblem(r *http.Request, status int, typ, title, detail string) *Problem {
	return &Problem{
		Type:     typ,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  middleware.GetReqID(r.Context()),
	}
}

// writeProblem renders p with its status
func writeProblem(w http.ResponseWriter, r *http.Request, p *Problem) {
	if err := render.Render(w, r, p); err != nil {
		log.Error().Err(err).Msg("render problem")
	}
}

// writeError maps an error from the pipeline onto a problem response
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeProblem(w, r, errorToProblem(r, err))
}

func errorToProblem(r *http.Request, err error) *Problem {
	var (
		insufficient *model.InsufficientDataError
		invalidGrid  *model.InvalidGridError
		fieldErrs    validator.ValidationErrors
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newProblem(r, http.StatusGatewayTimeout, TypeTimeout, "Request Timeout", err.Error())
	case errors.Is(err, pipeline.ErrCurveNotFound):
		return newProblem(r, http.StatusNotFound, TypeNotFound, "Curve Not Found", err.Error())
	case errors.As(err, &fieldErrs):
		p := newProblem(r, http.StatusBadRequest, TypeValidation, "Validation Failed", "request fields failed validation")
		for _, fe := range fieldErrs {
			p.Errors = append(p.Errors, FieldError{Field: fe.Field(), Rule: fe.Tag(), Value: fe.Param()})
		}
		return p
	case errors.As(err, &insufficient):
		return newProblem(r, http.StatusUnprocessableEntity, TypeInsufficient, "Insufficient Data", err.Error())
	case errors.As(err, &invalidGrid):
		return newProblem(r, http.StatusUnprocessableEntity, TypeInvalidGrid, "Invalid Grid", err.Error())
	}

	log.Error().Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")
	return newProblem(r, http.StatusInternalServerError, TypeInternal, "Internal Server Error", "an unexpected error occurred")
}
