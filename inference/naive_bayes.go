package inference

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"unicode"
)

// Model is the serialized form of a multinomial naive Bayes classifier.
type Model struct {
	Classes        []string       `json:"classes"`
	ClassLogPrior  []float64      `json:"class_log_prior"`
	FeatureLogProb [][]float64    `json:"feature_log_prob"`
	Vocabulary     map[string]int `json:"vocabulary"`
}

// Validate checks that the model dimensions agree.
func (m *Model) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidModel)
	}
	if len(m.ClassLogPrior) != len(m.Classes) {
		return fmt.Errorf("%w: %d priors for %d classes", ErrInvalidModel, len(m.ClassLogPrior), len(m.Classes))
	}
	if len(m.FeatureLogProb) != len(m.Classes) {
		return fmt.Errorf("%w: %d feature rows for %d classes", ErrInvalidModel, len(m.FeatureLogProb), len(m.Classes))
	}
	size := len(m.Vocabulary)
	for i, row := range m.FeatureLogProb {
		if len(row) != size {
			return fmt.Errorf("%w: class %q has %d features, vocabulary has %d", ErrInvalidModel, m.Classes[i], len(row), size)
		}
	}
	for term, idx := range m.Vocabulary {
		if idx < 0 || idx >= size {
			return fmt.Errorf("%w: term %q has index %d outside [0,%d)", ErrInvalidModel, term, idx, size)
		}
	}
	return nil
}

// NaiveBayes is a multinomial naive Bayes text classifier. It is safe for
// concurrent use.
type NaiveBayes struct {
	model Model
}

// NewNaiveBayes validates m and returns a classifier over it.
func NewNaiveBayes(m Model) (*NaiveBayes, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &NaiveBayes{model: m}, nil
}

// LoadFile reads a JSON model artifact.
func LoadFile(path string) (*NaiveBayes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	return NewNaiveBayes(m)
}

// Classes returns the category names.
func (nb *NaiveBayes) Classes() []string {
	return slices.Clone(nb.model.Classes)
}

// Predict returns the topK most probable categories for query. Terms
// missing from the vocabulary are ignored; a query with no known terms
// ranks by the class priors.
func (nb *NaiveBayes) Predict(ctx context.Context, query string, topK int) ([]Prediction, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[int]float64)
	for _, term := range Tokenize(query) {
		if idx, ok := nb.model.Vocabulary[term]; ok {
			counts[idx]++
		}
	}

	scores := make([]float64, len(nb.model.Classes))
	for c := range scores {
		score := nb.model.ClassLogPrior[c]
		row := nb.model.FeatureLogProb[c]
		for idx, n := range counts {
			score += n * row[idx]
		}
		scores[c] = score
	}

	probs := softmax(scores)
	preds := make([]Prediction, len(probs))
	for c, p := range probs {
		preds[c] = Prediction{Category: nb.model.Classes[c], Probability: p}
	}
	slices.SortStableFunc(preds, func(a, b Prediction) int {
		return cmp.Compare(b.Probability, a.Probability)
	})
	return preds[:min(topK, len(preds))], nil
}

func softmax(scores []float64) []float64 {
	maxScore := slices.Max(scores)
	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Tokenize lower-cases text and splits it on anything that is not a
// letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Document is a labelled training example.
type Document struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Train fits a model with additive smoothing alpha. Classes and vocabulary
// are ordered by first appearance.
func Train(docs []Document, alpha float64) (Model, error) {
	if len(docs) == 0 {
		return Model{}, ErrNoDocuments
	}
	if alpha <= 0 {
		alpha = 1
	}

	m := Model{Vocabulary: make(map[string]int)}
	classIdx := make(map[string]int)
	var docCounts []float64
	var termCounts []map[int]float64
	for _, doc := range docs {
		c, ok := classIdx[doc.Category]
		if !ok {
			c = len(m.Classes)
			classIdx[doc.Category] = c
			m.Classes = append(m.Classes, doc.Category)
			docCounts = append(docCounts, 0)
			termCounts = append(termCounts, make(map[int]float64))
		}
		docCounts[c]++
		for _, term := range Tokenize(doc.Text) {
			idx, ok := m.Vocabulary[term]
			if !ok {
				idx = len(m.Vocabulary)
				m.Vocabulary[term] = idx
			}
			termCounts[c][idx]++
		}
	}

	size := len(m.Vocabulary)
	total := float64(len(docs))
	m.ClassLogPrior = make([]float64, len(m.Classes))
	m.FeatureLogProb = make([][]float64, len(m.Classes))
	for c := range m.Classes {
		m.ClassLogPrior[c] = math.Log(docCounts[c] / total)
		var classTotal float64
		for _, n := range termCounts[c] {
			classTotal += n
		}
		denom := math.Log(classTotal + alpha*float64(size))
		row := make([]float64, size)
		for idx := range row {
			row[idx] = math.Log(termCounts[c][idx]+alpha) - denom
		}
		m.FeatureLogProb[c] = row
	}
	return m, nil
}

// Save writes m as a JSON artifact.
func (m Model) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing model %s: %w", path, err)
	}
	return nil
}
