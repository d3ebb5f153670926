package tokenizer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"k8s.io/klog/v2"

	"github.com/amikos-tech/pure-executorch/et"
)

const endOfText = "<|endoftext|>"

// Vocabulary sizes of the built-in encodings, special tokens included.
var tiktokenVocabSizes = map[string]int{
	"cl100k_base": 100277,
	"p50k_base":   50281,
	"r50k_base":   50257,
}

type tiktokenCodec struct {
	encoding *tiktoken.Tiktoken
}

func (c *tiktokenCodec) encode(text string) ([]int64, error) {
	tokens := c.encoding.Encode(text, nil, nil)
	ids := make([]int64, len(tokens))
	for i, tok := range tokens {
		ids[i] = int64(tok)
	}
	return ids, nil
}

func (c *tiktokenCodec) decode(_, token int64) (string, error) {
	return c.encoding.Decode([]int{int(token)}), nil
}

func (c *tiktokenCodec) close() error {
	c.encoding = nil
	return nil
}

// LoadTikToken loads a tiktoken encoding such as "cl100k_base".
//
// BOS and EOS default to the encoding's <|endoftext|> token, and the vocabulary
// size defaults to the encoding's size when it is known. Encodings without a
// known size require WithVocabSize.
func LoadTikToken(ctx context.Context, encoding string, opts ...Option) *et.Future[Tokenizer] {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return et.Failed[Tokenizer](err)
	}
	if encoding == "" {
		return et.Failed[Tokenizer](fmt.Errorf("tiktoken encoding name cannot be empty"))
	}

	return et.Go(func() (Tokenizer, error) {
		log := klog.FromContext(ctx)
		startedAt := time.Now()

		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
		}

		vocabSize := cfg.vocabSize
		if vocabSize == 0 {
			known, ok := tiktokenVocabSizes[encoding]
			if !ok {
				return nil, fmt.Errorf("vocab size of tiktoken encoding %q is unknown; set it with WithVocabSize", encoding)
			}
			vocabSize = known
		}

		special := int64(-1)
		if ids := enc.Encode(endOfText, []string{endOfText}, nil); len(ids) == 1 {
			special = int64(ids[0])
		}

		bos, eos := cfg.bosToken, cfg.eosToken
		if !cfg.hasBos {
			bos = special
		}
		if !cfg.hasEos {
			eos = special
		}
		if bos < 0 || eos < 0 {
			return nil, fmt.Errorf("tiktoken encoding %q has no %s token; set BOS and EOS explicitly", encoding, endOfText)
		}

		log.V(2).Info("loaded tokenizer", "backend", "tiktoken", "encoding", encoding, "vocabSize", vocabSize, "duration", time.Since(startedAt))
		return &tokenizer{
			codec:     &tiktokenCodec{encoding: enc},
			vocabSize: vocabSize,
			bos:       bos,
			eos:       eos,
		}, nil
	})
}
