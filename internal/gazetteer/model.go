package gazetteer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// modelVersion is folded into training fingerprints so stored settings from an
// older feature layout are never reused
const modelVersion = "pair-logit-v1"

// Model is a logistic pair classifier over record similarity features
type Model struct {
	Bias    float64
	Weights Features
	Trained bool
}

// DefaultModel returns hand-tuned weights used when there is not enough
// labelled data to train. Identical records score above 0.99 and records
// sharing only a name stay below the gazetteer threshold.
func DefaultModel() *Model {
	return &Model{
		Bias: -10.0,
		Weights: Features{
			3.0, // name jaro-winkler
			2.5, // name jaccard
			1.5, // name levenshtein
			3.0, // address jaro-winkler
			3.5, // address jaccard
			2.0, // address levenshtein
		},
	}
}

// ModelFromMap overrides the default weights with the given values. The key
// "bias" sets the intercept, other keys must be feature names.
func ModelFromMap(values map[string]float64) (*Model, error) {
	m := DefaultModel()
	for key, value := range values {
		if key == "bias" {
			m.Bias = value
			continue
		}
		idx := featureIndex(key)
		if idx < 0 {
			return nil, Error.New("unknown model weight %q", key)
		}
		m.Weights[idx] = value
	}
	return m, nil
}

func featureIndex(name string) int {
	for i, n := range FeatureNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy of the model
func (m *Model) Clone() *Model {
	c := *m
	return &c
}

// Probability is the match probability for a feature vector
func (m *Model) Probability(f Features) float64 {
	z := m.Bias
	for i := range f {
		z += m.Weights[i] * f[i]
	}
	return sigmoid(z)
}

// Score is the match probability of two records. Records in different
// countries never match.
func (m *Model) Score(a, b Record) float64 {
	if a.CountryCode != b.CountryCode {
		return 0
	}
	return m.Probability(ComputeFeatures(a, b))
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// MarshalJSON stores weights by feature name so the layout survives reordering
func (m *Model) MarshalJSON() ([]byte, error) {
	weights := make(map[string]float64, numFeatures)
	for i, name := range FeatureNames {
		weights[name] = m.Weights[i]
	}
	return json.Marshal(struct {
		Version string             `json:"version"`
		Bias    float64            `json:"bias"`
		Weights map[string]float64 `json:"weights"`
		Trained bool               `json:"trained"`
	}{modelVersion, m.Bias, weights, m.Trained})
}

// UnmarshalJSON restores a model written by MarshalJSON
func (m *Model) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version string             `json:"version"`
		Bias    float64            `json:"bias"`
		Weights map[string]float64 `json:"weights"`
		Trained bool               `json:"trained"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Version != modelVersion {
		return Error.New("model version %q does not match %q", raw.Version, modelVersion)
	}

	m.Bias = raw.Bias
	m.Trained = raw.Trained
	for i, name := range FeatureNames {
		w, ok := raw.Weights[name]
		if !ok {
			return Error.New("stored model lacks weight %q", name)
		}
		m.Weights[i] = w
	}
	return nil
}

// TrainingPair is a labelled record pair
type TrainingPair struct {
	A     Record
	B     Record
	Match bool
}

// TrainOptions controls gradient descent
type TrainOptions struct {
	Epochs       int
	LearningRate float64
	L2           float64
	MinPositive  int
	MinNegative  int
}

// DefaultTrainOptions are the options used by the cache
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Epochs:       400,
		LearningRate: 0.5,
		L2:           0.001,
		MinPositive:  5,
		MinNegative:  5,
	}
}

// Train fits a logistic model to the labelled pairs starting from base. With
// too few examples of either class it returns a copy of base unchanged.
// Positive and negative examples carry equal total weight.
func Train(base *Model, pairs []TrainingPair, opts TrainOptions) *Model {
	model := base.Clone()
	model.Trained = false

	var positives, negatives []Features
	for _, p := range pairs {
		f := ComputeFeatures(p.A, p.B)
		if p.Match {
			positives = append(positives, f)
		} else {
			negatives = append(negatives, f)
		}
	}

	if len(positives) < opts.MinPositive || len(negatives) < opts.MinNegative {
		return model
	}

	posWeight := 0.5 / float64(len(positives))
	negWeight := 0.5 / float64(len(negatives))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		var gradBias float64
		var grad Features

		accumulate := func(samples []Features, label, weight float64) {
			for _, f := range samples {
				diff := (model.Probability(f) - label) * weight
				gradBias += diff
				for i := range f {
					grad[i] += diff * f[i]
				}
			}
		}
		accumulate(positives, 1.0, posWeight)
		accumulate(negatives, 0.0, negWeight)

		model.Bias -= opts.LearningRate * gradBias
		for i := range model.Weights {
			model.Weights[i] -= opts.LearningRate * (grad[i] + opts.L2*model.Weights[i])
		}
	}

	model.Trained = true
	return model
}

// Fingerprint identifies a training input: the base model and the labelled
// pairs in canonical order
func Fingerprint(base *Model, pairs []TrainingPair) string {
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, fmt.Sprintf("%s|%s|%s|%s|%t",
			p.A.Name, p.A.Address, p.B.Name, p.B.Address, p.Match))
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(modelVersion))
	h.Write([]byte(strconv.FormatFloat(base.Bias, 'g', -1, 64)))
	for _, w := range base.Weights {
		h.Write([]byte(strconv.FormatFloat(w, 'g', -1, 64)))
	}
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
