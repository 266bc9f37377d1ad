package embedclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/cache"
)

// reorderingFake fills its output back to front, writing each vector at its
// input's index as the provider contract requires, and records every batch
// it receives.
type reorderingFake struct {
	calls [][]string
}

func (f *reorderingFake) embedBatch(_ context.Context, inputs []string) ([][]float32, error) {
	f.calls = append(f.calls, append([]string(nil), inputs...))
	out := make([][]float32, len(inputs))
	for i := len(inputs) - 1; i >= 0; i-- {
		out[i] = []float32{float32(len(inputs[i]))}
	}
	return out, nil
}

func TestEmbedBatch_ReassemblesInInputOrder(t *testing.T) {
	fake := &reorderingFake{}
	c := newWithProvider(fake, 1, 100, nil)
	inputs := []string{"a", "bb", "ccc", "dddd"}
	out, err := c.EmbedBatch(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, out, len(inputs))
	for i, in := range inputs {
		require.Equal(t, float32(len(in)), out[i][0], "index %d", i)
	}
}

func TestEmbedBatch_SplitsAtBatchSize(t *testing.T) {
	fake := &reorderingFake{}
	c := newWithProvider(fake, 1, 2, nil)
	_, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, fake.calls, 3)
	require.Len(t, fake.calls[0], 2)
	require.Len(t, fake.calls[2], 1)
}

func TestEmbedBatch_Empty(t *testing.T) {
	fake := &reorderingFake{}
	c := newWithProvider(fake, 1, 100, nil)
	out, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Empty(t, fake.calls, "empty batch must not call the provider")
}

func TestEmbed_UsesCache(t *testing.T) {
	fake := &reorderingFake{}
	ec := cache.New(10, 0)
	c := newWithProvider(fake, 1, 100, ec)
	_, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, fake.calls, 1, "second call should be served from cache")
}
