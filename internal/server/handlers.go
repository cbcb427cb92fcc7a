package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/ingest"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
	"github.com/ppiankov/rolcurve/internal/pricing"
)

// QuoteRequest asks for the premium of one layer
type QuoteRequest struct {
	Attachment float64 `json:"attachment" validate:"gte=0"`
	Limit      float64 `json:"limit" validate:"gt=0"`
	Industry   string  `json:"industry"`
	Size       float64 `json:"size" validate:"omitempty,gt=0"` // Defaults to 1
}

// QuoteResponse is a priced layer
type QuoteResponse struct {
	Client     string        `json:"client"`
	LOB        string        `json:"lob"`
	Attachment float64       `json:"attachment"`
	Limit      float64       `json:"limit"`
	Quote      pricing.Quote `json:"quote"`
}

// PolicyInput is one policy row posted for fitting
type PolicyInput struct {
	ID         string  `json:"id" validate:"required"`
	Country    string  `json:"country"`
	Attachment float64 `json:"attachment"`
	Limit      float64 `json:"limit"`
	Industry   string  `json:"industry"`
	Size       float64 `json:"size"`
	Premium    float64 `json:"premium"`
	Exposure   float64 `json:"exposure"`
}

// FitRequest is a portfolio to fit for the client and LOB in the path
type FitRequest struct {
	Policies []PolicyInput `json:"policies" validate:"required,min=1,dive"`
}

// FitResponse returns the fitted curve with validation counts
type FitResponse struct {
	Curve    *curve.RolCurve `json:"curve"`
	Accepted int             `json:"accepted"`
	Rejected int             `json:"rejected"`
}

func (s *Server) handleGetCurve(w http.ResponseWriter, r *http.Request) {
	rc, err := s.pipeline.Curve(r.Context(), groupKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, rc)
}

// PointsResponse is the curve evaluated along its grid
type PointsResponse struct {
	Client string        `json:"client"`
	LOB    string        `json:"lob"`
	Points []curve.Point `json:"points"`
}

const maxSamplePoints = 1000

// handlePoints returns the curve at its split points, or at n evenly spaced
// exposures when ?n= is given
func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 2 || v > maxSamplePoints {
			writeProblem(w, r, newProblem(r, http.StatusBadRequest, TypeValidation, "Bad Request",
				fmt.Sprintf("n must be an integer between 2 and %d", maxSamplePoints)))
			return
		}
		n = v
	}

	key := groupKey(r)
	rc, err := s.pipeline.Curve(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pts := rc.Points()
	if n > 0 {
		pts = rc.Sample(n)
	}
	render.JSON(w, r, PointsResponse{Client: key.Client, LOB: key.LOB, Points: pts})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := s.decode(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}

	key := groupKey(r)
	rc, err := s.pipeline.Curve(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size := req.Size
	if size == 0 {
		size = 1
	}
	q, err := pricing.New(rc, "").Predict(req.Attachment, req.Attachment+req.Limit, req.Industry, size)
	if err != nil {
		writeProblem(w, r, newProblem(r, http.StatusBadRequest, TypeValidation, "Invalid Layer", err.Error()))
		return
	}
	s.metrics.ObserveQuote(key.LOB, q.Extrapolated)

	render.JSON(w, r, QuoteResponse{
		Client:     key.Client,
		LOB:        key.LOB,
		Attachment: req.Attachment,
		Limit:      req.Limit,
		Quote:      q,
	})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if err := s.decode(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}

	key := groupKey(r)
	batch := &ingest.Batch{Source: "api", Policies: make([]model.Policy, len(req.Policies))}
	for i, in := range req.Policies {
		exposure := in.Exposure
		if exposure == 0 {
			exposure = in.Limit
		}
		size := in.Size
		if size == 0 {
			size = 1
		}
		batch.Policies[i] = model.Policy{
			ID:         in.ID,
			Client:     key.Client,
			LOB:        key.LOB,
			Country:    in.Country,
			Attachment: in.Attachment,
			Limit:      in.Limit,
			Industry:   in.Industry,
			Size:       size,
			Premium:    in.Premium,
			Exposure:   exposure,
		}
	}

	input, err := s.pipeline.ValidateBatch(batch)
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) && input != nil {
			p := newProblem(r, http.StatusUnprocessableEntity, TypeValidation, "Validation Failed", err.Error())
			p.Details = input.Validation
			writeProblem(w, r, p)
			return
		}
		writeError(w, r, err)
		return
	}

	rc, err := s.pipeline.FitGroup(r.Context(), key, input.Policies)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, FitResponse{
		Curve:    rc,
		Accepted: len(input.Policies),
		Rejected: len(batch.Policies) - len(input.Policies),
	})
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		writeError(w, r, err)
		return
	}
	writeProblem(w, r, newProblem(r, http.StatusBadRequest, TypeValidation, "Invalid Request",
		fmt.Sprintf("decode body: %v", err)))
}
