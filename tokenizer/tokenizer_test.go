package tokenizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amikos-tech/pure-executorch/et"
)

// wordCodec maps each space separated word to its index in vocab.
type wordCodec struct {
	vocab  []string
	closed int
}

func (c *wordCodec) encode(text string) ([]int64, error) {
	var ids []int64
	for _, word := range strings.Fields(text) {
		found := false
		for i, v := range c.vocab {
			if v == word {
				ids = append(ids, int64(i))
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("unknown word " + word)
		}
	}
	return ids, nil
}

func (c *wordCodec) decode(_, token int64) (string, error) {
	return c.vocab[token], nil
}

func (c *wordCodec) close() error {
	c.closed++
	return nil
}

func newWordTokenizer() (*tokenizer, *wordCodec) {
	c := &wordCodec{vocab: []string{"<unk>", "<s>", "</s>", "hello", "world"}}
	return &tokenizer{codec: c, vocabSize: len(c.vocab), bos: 1, eos: 2}, c
}

func TestEncodeAddsSpecialTokens(t *testing.T) {
	tok, _ := newWordTokenizer()

	tests := []struct {
		name string
		bos  int
		eos  int
		want []int64
	}{
		{name: "plain", want: []int64{3, 4}},
		{name: "bos", bos: 1, want: []int64{1, 3, 4}},
		{name: "bos and eos", bos: 1, eos: 1, want: []int64{1, 3, 4, 2}},
		{name: "repeated", bos: 2, eos: 2, want: []int64{1, 1, 3, 4, 2, 2}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tok.Encode("hello world", tc.bos, tc.eos)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tok, _ := newWordTokenizer()

	_, err := tok.Encode("hello", -1, 0)
	assert.True(t, errors.Is(err, et.ErrInvalidArgument))

	_, err = tok.Encode("goodbye", 1, 0)
	assert.ErrorContains(t, err, "failed to encode text")
}

func TestDecode(t *testing.T) {
	tok, _ := newWordTokenizer()

	text, err := tok.Decode(1, 3)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = tok.Decode(3, 5)
	assert.True(t, errors.Is(err, et.ErrInvalidArgument))

	_, err = tok.Decode(3, -1)
	assert.True(t, errors.Is(err, et.ErrInvalidArgument))
}

func TestAccessors(t *testing.T) {
	tok, _ := newWordTokenizer()
	assert.Equal(t, 5, tok.VocabSize())
	assert.Equal(t, int64(1), tok.BosToken())
	assert.Equal(t, int64(2), tok.EosToken())
}

func TestCloseDisposesTokenizer(t *testing.T) {
	tok, c := newWordTokenizer()

	require.NoError(t, tok.Close())
	require.NoError(t, tok.Close())
	assert.Equal(t, 1, c.closed, "backend should be closed exactly once")

	_, err := tok.Encode("hello", 0, 0)
	assert.True(t, errors.Is(err, et.ErrInvalidState))
	_, err = tok.Decode(1, 3)
	assert.True(t, errors.Is(err, et.ErrInvalidState))
}

func TestOptionsValidate(t *testing.T) {
	_, err := resolveConfig([]Option{WithVocabSize(0)})
	assert.Error(t, err)
	_, err = resolveConfig([]Option{WithBosToken(-1)})
	assert.Error(t, err)
	_, err = resolveConfig([]Option{WithEosToken(-1)})
	assert.Error(t, err)
	_, err = resolveConfig([]Option{WithLibraryPath("")})
	assert.Error(t, err)

	cfg, err := resolveConfig([]Option{nil, WithVocabSize(10), WithBosToken(0), WithEosToken(9)})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.vocabSize)
	assert.True(t, cfg.hasBos)
	assert.Equal(t, int64(0), cfg.bosToken)
	assert.Equal(t, int64(9), cfg.eosToken)
}

func TestLoadRejectsBadArgumentsSynchronously(t *testing.T) {
	f := LoadTikToken(context.Background(), "")
	select {
	case <-f.Done():
	default:
		t.Fatal("expected an already rejected future")
	}
	_, err := f.Result()
	assert.ErrorContains(t, err, "encoding name")

	_, err = LoadTikToken(context.Background(), "cl100k_base", WithVocabSize(-3)).Result()
	assert.ErrorContains(t, err, "vocab size")

	missing := filepath.Join(t.TempDir(), "tokenizer.json")
	_, err = LoadHuggingFace(context.Background(), missing).Result()
	assert.ErrorContains(t, err, "not usable")
}

func TestLoadTikToken(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping tiktoken test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tok, err := LoadTikToken(ctx, "cl100k_base").Wait(ctx)
	if err != nil {
		t.Skipf("tiktoken encoding unavailable (network required): %v", err)
	}
	defer func() {
		require.NoError(t, tok.Close())
	}()

	assert.Equal(t, 100277, tok.VocabSize())
	assert.Equal(t, int64(100257), tok.EosToken())
	assert.Equal(t, tok.EosToken(), tok.BosToken())

	ids, err := tok.Encode("Hello, world!", 1, 1)
	require.NoError(t, err)
	require.Greater(t, len(ids), 2)
	assert.Equal(t, tok.BosToken(), ids[0])
	assert.Equal(t, tok.EosToken(), ids[len(ids)-1])

	var sb strings.Builder
	prev := ids[0]
	for _, id := range ids[1 : len(ids)-1] {
		piece, err := tok.Decode(prev, id)
		require.NoError(t, err)
		sb.WriteString(piece)
		prev = id
	}
	assert.Equal(t, "Hello, world!", sb.String())
}

func TestLoadHuggingFace(t *testing.T) {
	path := os.Getenv("EXECUTORCH_TEST_TOKENIZER_JSON")
	if path == "" {
		t.Skip("set EXECUTORCH_TEST_TOKENIZER_JSON to run HuggingFace tokenizer tests")
	}

	ctx := context.Background()
	tok, err := LoadHuggingFace(ctx, path, WithBosToken(1), WithEosToken(2)).Wait(ctx)
	if err != nil {
		t.Skipf("tokenizers library unavailable: %v", err)
	}
	defer func() {
		require.NoError(t, tok.Close())
	}()

	assert.Greater(t, tok.VocabSize(), 0)

	ids, err := tok.Encode("hello", 1, 0)
	require.NoError(t, err)
	require.Greater(t, len(ids), 1)
	assert.Equal(t, int64(1), ids[0])

	piece, err := tok.Decode(ids[0], ids[1])
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(piece, " "), "first piece after BOS should not start with a space")
}
