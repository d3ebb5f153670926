// Package tokenizer converts between text and the token ids a language model
// program consumes.
//
// Two backends are provided: tiktoken BPE encodings (LoadTikToken) and
// HuggingFace tokenizer.json files (LoadHuggingFace). Both load on a worker
// goroutine and hand back an et.Future.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/amikos-tech/pure-executorch/et"
)

const (
	// DefaultBosToken is the beginning-of-sequence id used when none is configured.
	DefaultBosToken int64 = 1
	// DefaultEosToken is the end-of-sequence id used when none is configured.
	DefaultEosToken int64 = 2
)

// Tokenizer encodes text into token ids and decodes ids back, one token at a time.
type Tokenizer interface {
	// Encode tokenizes text, prepending bos BOS tokens and appending eos EOS tokens.
	Encode(text string, bos, eos int) ([]int64, error)
	// Decode returns the text of token. prev is the token generated before it.
	Decode(prev, token int64) (string, error)
	VocabSize() int
	BosToken() int64
	EosToken() int64
	Close() error
}

// Option configures a tokenizer load.
type Option func(*config) error

type config struct {
	vocabSize   int
	bosToken    int64
	eosToken    int64
	hasBos      bool
	hasEos      bool
	libraryPath string
}

// WithVocabSize overrides the vocabulary size reported by the tokenizer.
func WithVocabSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("vocab size must be positive, got %d", n)
		}
		c.vocabSize = n
		return nil
	}
}

// WithBosToken sets the beginning-of-sequence token id.
func WithBosToken(id int64) Option {
	return func(c *config) error {
		if id < 0 {
			return fmt.Errorf("BOS token id must be non-negative, got %d", id)
		}
		c.bosToken = id
		c.hasBos = true
		return nil
	}
}

// WithEosToken sets the end-of-sequence token id.
func WithEosToken(id int64) Option {
	return func(c *config) error {
		if id < 0 {
			return fmt.Errorf("EOS token id must be non-negative, got %d", id)
		}
		c.eosToken = id
		c.hasEos = true
		return nil
	}
}

// WithLibraryPath points the HuggingFace backend at a specific tokenizers shared library.
func WithLibraryPath(path string) Option {
	return func(c *config) error {
		if path == "" {
			return fmt.Errorf("tokenizer library path cannot be empty")
		}
		c.libraryPath = path
		return nil
	}
}

func resolveConfig(opts []Option) (config, error) {
	var cfg config
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return config{}, err
		}
	}
	return cfg, nil
}

// codec is what a backend contributes; special tokens are handled by tokenizer.
type codec interface {
	encode(text string) ([]int64, error)
	decode(prev, token int64) (string, error)
	close() error
}

type tokenizer struct {
	mu        sync.RWMutex
	codec     codec
	vocabSize int
	bos       int64
	eos       int64
}

var _ Tokenizer = (*tokenizer)(nil)

func (t *tokenizer) Encode(text string, bos, eos int) ([]int64, error) {
	if bos < 0 || eos < 0 {
		return nil, &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "encode", Msg: fmt.Sprintf("BOS and EOS counts must be non-negative, got %d and %d", bos, eos)}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.codec == nil {
		return nil, errDisposed("encode")
	}

	body, err := t.codec.encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode text: %w", err)
	}

	ids := make([]int64, 0, bos+len(body)+eos)
	for i := 0; i < bos; i++ {
		ids = append(ids, t.bos)
	}
	ids = append(ids, body...)
	for i := 0; i < eos; i++ {
		ids = append(ids, t.eos)
	}
	return ids, nil
}

func (t *tokenizer) Decode(prev, token int64) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.codec == nil {
		return "", errDisposed("decode")
	}
	if token < 0 || token >= int64(t.vocabSize) {
		return "", &et.Error{Code: et.ErrorCodeInvalidArgument, Op: "decode", Msg: fmt.Sprintf("token %d is outside the vocabulary of %d", token, t.vocabSize)}
	}

	text, err := t.codec.decode(prev, token)
	if err != nil {
		return "", fmt.Errorf("failed to decode token %d: %w", token, err)
	}
	return text, nil
}

func (t *tokenizer) VocabSize() int {
	return t.vocabSize
}

func (t *tokenizer) BosToken() int64 {
	return t.bos
}

func (t *tokenizer) EosToken() int64 {
	return t.eos
}

// Close releases the backend. It is safe to call more than once.
func (t *tokenizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.codec == nil {
		return nil
	}
	err := t.codec.close()
	t.codec = nil
	return err
}

func errDisposed(op string) error {
	return &et.Error{Code: et.ErrorCodeInvalidState, Op: op, Msg: "tokenizer is disposed"}
}
