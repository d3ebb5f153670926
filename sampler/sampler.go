// Package sampler picks the next token from the logits a language model
// program produces.
//
// It implements temperature scaling followed by nucleus (top-p) sampling,
// with greedy decoding when the temperature is zero.
package sampler

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/amikos-tech/pure-executorch/et"
)

const (
	// DefaultTemperature is used when WithTemperature is not given.
	DefaultTemperature float32 = 0.7
	// DefaultTopP is used when WithTopP is not given.
	DefaultTopP float32 = 0.9
)

// Option configures a Sampler.
type Option func(*Sampler) error

// WithTemperature scales logits before sampling. 0 selects greedy decoding.
func WithTemperature(temperature float32) Option {
	return func(s *Sampler) error {
		if temperature < 0 || math.IsNaN(float64(temperature)) || math.IsInf(float64(temperature), 0) {
			return fmt.Errorf("temperature must be a finite non-negative number, got %v", temperature)
		}
		s.temperature = temperature
		return nil
	}
}

// WithTopP sets the nucleus probability mass. Values outside (0, 1) sample
// from the full distribution.
func WithTopP(topP float32) Option {
	return func(s *Sampler) error {
		if math.IsNaN(float64(topP)) {
			return fmt.Errorf("top-p must be a number")
		}
		s.topP = topP
		return nil
	}
}

// WithSeed seeds the random source. The default seed is 0, so sampling is
// reproducible unless a seed is given.
func WithSeed(seed int64) Option {
	return func(s *Sampler) error {
		s.seed = seed
		return nil
	}
}

// Sampler samples token ids from logits over a fixed vocabulary.
// It is safe for concurrent use; calls are serialized on the random source.
type Sampler struct {
	vocabSize   int
	temperature float32
	topP        float32
	seed        int64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Sampler for a vocabulary of vocabSize tokens.
func New(vocabSize int, opts ...Option) (*Sampler, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("vocab size must be positive, got %d", vocabSize)
	}
	s := &Sampler{
		vocabSize:   vocabSize,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.rng = rand.New(rand.NewSource(s.seed)) //nolint:gosec // reproducible sampling, not security sensitive
	return s, nil
}

// VocabSize returns the vocabulary size the sampler was built for.
func (s *Sampler) VocabSize() int {
	return s.vocabSize
}

// Sample picks a token from the last sequence position of logits.
//
// logits must be a Float32 or Float16 tensor of shape [1, seq, vocab] with
// seq >= 1 and vocab equal to VocabSize.
func (s *Sampler) Sample(logits *et.Tensor) (int32, error) {
	if logits == nil {
		return 0, &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "sample", Msg: "tensor is nil"}
	}
	shape := logits.Shape()
	if len(shape) != 3 {
		return 0, &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "sample", Msg: fmt.Sprintf("expected a 3D tensor, got shape %v", shape)}
	}
	if shape[0] != 1 {
		return 0, &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "sample", Msg: fmt.Sprintf("batch size must be 1, got %d", shape[0])}
	}
	if shape[1] < 1 {
		return 0, &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "sample", Msg: "sequence length must be at least 1"}
	}
	if shape[2] != int64(s.vocabSize) {
		return 0, &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "sample", Msg: fmt.Sprintf("vocab size mismatch: tensor has %d, sampler expects %d", shape[2], s.vocabSize)}
	}

	values, err := et.Float32Values(logits)
	if err != nil {
		return 0, err
	}
	last := values[len(values)-s.vocabSize:]
	return s.SampleLogits(last)
}

// SampleLogits picks a token from one row of vocab logits. The slice is not modified.
func (s *Sampler) SampleLogits(logits []float32) (int32, error) {
	if len(logits) != s.vocabSize {
		return 0, &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "sample", Msg: fmt.Sprintf("expected %d logits, got %d", s.vocabSize, len(logits))}
	}

	if s.temperature == 0 {
		return argmax(logits), nil
	}

	probs := make([]float32, len(logits))
	for i, v := range logits {
		probs[i] = v / s.temperature
	}
	softmax(probs)

	s.mu.Lock()
	coin := s.rng.Float32()
	s.mu.Unlock()

	if s.topP <= 0 || s.topP >= 1 {
		return sampleMultinomial(probs, coin), nil
	}
	return sampleTopP(probs, s.topP, coin), nil
}

func argmax(values []float32) int32 {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return int32(best) //nolint:gosec // bounded by vocab size
}

// softmax normalizes values in place.
func softmax(values []float32) {
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range values {
		values[i] = float32(math.Exp(float64(v - maxVal)))
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
}

func sampleMultinomial(probs []float32, coin float32) int32 {
	var cdf float32
	for i, p := range probs {
		cdf += p
		if coin < cdf {
			return int32(i) //nolint:gosec // bounded by vocab size
		}
	}
	return int32(len(probs) - 1) //nolint:gosec // rounding fallback
}

type indexedProb struct {
	index int
	prob  float32
}

// sampleTopP samples from the smallest set of tokens whose cumulative
// probability exceeds topP.
func sampleTopP(probs []float32, topP float32, coin float32) int32 {
	// Tokens below this cannot be part of the nucleus, so skip sorting them.
	cutoff := (1 - topP) / float32(len(probs)-1)
	if len(probs) == 1 {
		cutoff = 0
	}

	candidates := make([]indexedProb, 0, len(probs))
	for i, p := range probs {
		if p >= cutoff {
			candidates = append(candidates, indexedProb{index: i, prob: p})
		}
	}
	if len(candidates) == 0 {
		return argmax(probs)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].prob > candidates[j].prob })

	last := len(candidates) - 1
	var cumulative float32
	for i, c := range candidates {
		cumulative += c.prob
		if cumulative > topP {
			last = i
			break
		}
	}

	r := coin * cumulative
	var cdf float32
	for i := 0; i <= last; i++ {
		cdf += candidates[i].prob
		if r < cdf {
			return int32(candidates[i].index) //nolint:gosec // bounded by vocab size
		}
	}
	return int32(candidates[last].index) //nolint:gosec // rounding fallback
}
