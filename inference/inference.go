// Package inference ranks categories for a text query.
package inference

import (
	"context"
	"errors"
)

// Static errors for inference
var (
	ErrInvalidModel = errors.New("invalid model artifact")
	ErrEmptyQuery   = errors.New("query cannot be empty")
	ErrInvalidTopK  = errors.New("top_k must be positive")
	ErrNoDocuments  = errors.New("training requires at least one document")
)

// Prediction is one ranked category.
type Prediction struct {
	Category    string  `json:"category"`
	Probability float64 `json:"probability"`
}

// Classifier ranks categories for a query, most probable first. At most
// topK predictions are returned.
type Classifier interface {
	Predict(ctx context.Context, query string, topK int) ([]Prediction, error)
}
