package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
	"k8s.io/klog/v2"

	"github.com/amikos-tech/pure-executorch/et"
)

const maxUint32 = int64(^uint32(0))

type huggingFaceCodec struct {
	tokenizer *tokenizers.Tokenizer
	bos       int64
}

func (c *huggingFaceCodec) encode(text string) ([]int64, error) {
	encoding, err := c.tokenizer.Encode(text)
	if err != nil {
		return nil, err
	}
	if encoding == nil {
		return nil, fmt.Errorf("empty tokenizer result")
	}
	ids := make([]int64, len(encoding.IDs))
	for i, id := range encoding.IDs {
		ids[i] = int64(id)
	}
	return ids, nil
}

// decode drops the leading space of the first piece after BOS, which
// sentencepiece-style vocabularies carry on word-initial tokens.
func (c *huggingFaceCodec) decode(prev, token int64) (string, error) {
	if token > maxUint32 {
		return "", fmt.Errorf("token %d is out of uint32 range", token)
	}
	piece, err := c.tokenizer.Decode([]uint32{uint32(token)}, false)
	if err != nil {
		return "", err
	}
	if prev == c.bos {
		piece = strings.TrimPrefix(piece, " ")
	}
	return piece, nil
}

func (c *huggingFaceCodec) close() error {
	return c.tokenizer.Close()
}

// LoadHuggingFace loads a tokenizer.json file.
//
// The vocabulary size is read from the file unless WithVocabSize is given.
// BOS and EOS default to 1 and 2.
func LoadHuggingFace(ctx context.Context, path string, opts ...Option) *et.Future[Tokenizer] {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return et.Failed[Tokenizer](err)
	}
	if _, err := os.Stat(path); err != nil {
		return et.Failed[Tokenizer](fmt.Errorf("tokenizer path %q is not usable: %w", path, err))
	}

	return et.Go(func() (Tokenizer, error) {
		log := klog.FromContext(ctx)
		startedAt := time.Now()

		var tokenizerOpts []tokenizers.TokenizerOption
		if cfg.libraryPath != "" {
			tokenizerOpts = append(tokenizerOpts, tokenizers.WithLibraryPath(cfg.libraryPath))
		}
		hf, err := tokenizers.FromFile(path, tokenizerOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}

		vocabSize := cfg.vocabSize
		if vocabSize == 0 {
			size, err := hf.VocabSize()
			if err != nil {
				return nil, errors.Join(
					fmt.Errorf("failed to derive vocabulary size from tokenizer: %w", err),
					hf.Close(),
				)
			}
			if size == 0 {
				return nil, errors.Join(fmt.Errorf("derived vocabulary size is zero"), hf.Close())
			}
			vocabSize = int(size)
		}

		bos, eos := DefaultBosToken, DefaultEosToken
		if cfg.hasBos {
			bos = cfg.bosToken
		}
		if cfg.hasEos {
			eos = cfg.eosToken
		}

		log.V(2).Info("loaded tokenizer", "backend", "huggingface", "path", path, "vocabSize", vocabSize, "duration", time.Since(startedAt))
		return &tokenizer{
			codec:     &huggingFaceCodec{tokenizer: hf, bos: bos},
			vocabSize: vocabSize,
			bos:       bos,
			eos:       eos,
		}, nil
	})
}
