package index

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbed maps text onto a two-axis vector (cats vs dogs) so similarity
// rankings are deterministic without a model server.
func stubEmbed(_ context.Context, text string) ([]float32, error) {
	v := []float32{0.01, 0.01}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		switch strings.Trim(word, ".,!?") {
		case "cat", "cats":
			v[0]++
		case "dog", "dogs":
			v[1]++
		}
	}
	norm := float32(math.Hypot(float64(v[0]), float64(v[1])))
	return []float32{v[0] / norm, v[1] / norm}, nil
}

func TestChromemRequiresEmbedder(t *testing.T) {
	_, err := NewChromem("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding function")
}

func TestChromemRanksBySimilarity(t *testing.T) {
	c, err := NewChromem("", stubEmbed)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Upsert(ctx, "feline", "cats cats cats", map[string]string{"kind": "note"}))
	require.NoError(t, c.Upsert(ctx, "canine", "dogs dogs dogs", nil))

	ids, err := c.Search(ctx, "my cat is asleep", 10)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "feline", ids[0])

	ids, err = c.Search(ctx, "walk the dog", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"canine"}, ids)
}

func TestChromemSkipsEmptyBody(t *testing.T) {
	c, err := NewChromem("", stubEmbed)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Upsert(ctx, "empty", "", nil))

	ids, err := c.Search(ctx, "cat", 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestChromemClampsLimit(t *testing.T) {
	c, err := NewChromem("", stubEmbed)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Upsert(ctx, "only", "one cat", nil))

	// Asking for more results than documents must not error.
	ids, err := c.Search(ctx, "cat", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, ids)

	ids, err = c.Search(ctx, "cat", 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestChromemPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewChromem(dir, stubEmbed)
	require.NoError(t, err)
	require.NoError(t, first.Upsert(ctx, "feline", "a cat in a box", nil))

	reopened, err := NewChromem(dir, stubEmbed)
	require.NoError(t, err)
	ids, err := reopened.Search(ctx, "cat", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"feline"}, ids)
}
