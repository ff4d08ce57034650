package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/GoCodeAlone/servicetree"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const maxRequestBytes = 1 << 20

// PredictRequest is the body of a predict call.
type PredictRequest struct {
	Query string `json:"query" validate:"required"`
	TopK  *int   `json:"top_k,omitempty" validate:"omitempty,min=1,max=1000"`
}

// PredictResponse lists categories with their probabilities, most probable
// first.
type PredictResponse struct {
	Query  string    `json:"query"`
	Cats   []string  `json:"cats"`
	Probas []float64 `json:"probas"`
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	defer func() {
		latency := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObservePrediction(ww.Status(), latency)
		}
		s.logger.Debug("Predict request finished", "node", NodeName, "status", ww.Status(), "latency", latency)
	}()

	if !s.IsReady() {
		s.RespondError(ww, r, servicetree.NotReadyError(s.State()))
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.RespondError(ww, r, s.BuildError(http.StatusTooManyRequests, servicetree.HTTPMessageTooManyRequests,
			"Rate limit exceeded", "too many predict requests, retry later"))
		return
	}

	req, err := decodePredictRequest(r)
	if err != nil {
		s.RespondError(ww, r, s.BuildError(http.StatusUnprocessableEntity, servicetree.HTTPMessageUnprocessableEntity,
			"Invalid request", err.Error()))
		return
	}
	topK := s.cfg.TopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	classifier := s.currentClassifier()
	if classifier == nil {
		s.RespondError(ww, r, servicetree.NotReadyError(s.State()))
		return
	}
	inferStart := time.Now()
	preds, err := classifier.Predict(r.Context(), req.Query, topK)
	if err != nil {
		s.RespondError(ww, r, fmt.Errorf("predicting: %w", err))
		return
	}
	s.logger.Info("Prediction served", "node", NodeName, "topK", topK, "inference", time.Since(inferStart))

	resp := PredictResponse{
		Query:  req.Query,
		Cats:   make([]string, len(preds)),
		Probas: make([]float64, len(preds)),
	}
	for i, p := range preds {
		resp.Cats[i] = p.Category
		resp.Probas[i] = p.Probability
	}
	servicetree.WriteJSON(ww, http.StatusOK, resp)
}

func decodePredictRequest(r *http.Request) (PredictRequest, error) {
	var req PredictRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("malformed body: %w", err)
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return req, err
		}
		problems := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
		}
		return req, errors.New(strings.Join(problems, "; "))
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, errors.New("query: must not be blank")
	}
	return req, nil
}

