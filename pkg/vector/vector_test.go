package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshop-tech/go-backend/pkg/e"
)

func magnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func TestNormalize_UnitLength(t *testing.T) {
	vectors := [][]float32{
		{3, 4},
		{1, 1, 1, 1},
		{0.001, -0.002, 0.003},
		{-7, 0, 2, 5, -1},
	}

	for _, v := range vectors {
		normalized := Normalize(v)
		assert.InDelta(t, 1.0, magnitude(normalized), 1e-6)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	zero := []float32{0, 0, 0}

	result := Normalize(zero)

	assert.Equal(t, zero, result)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	v := []float32{3, 4}

	_ = Normalize(v)

	assert.Equal(t, []float32{3, 4}, v)
}

func TestNormalize_Idempotent(t *testing.T) {
	v := []float32{2, -3, 6}

	once := Normalize(v)
	twice := Normalize(once)

	for i := range once {
		assert.InDelta(t, once[i], twice[i], 1e-6)
	}
}

func TestCosineSimilarity_SelfIsOne(t *testing.T) {
	v := []float32{0.5, -0.25, 0.75}

	sim, err := CosineSimilarity(v, v)

	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestCosineSimilarity_Symmetry(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-4, 5, 0.5}

	ab, err := CosineSimilarity(a, b)
	require.NoError(t, err)

	ba, err := CosineSimilarity(b, a)
	require.NoError(t, err)

	assert.InDelta(t, ab, ba, 1e-9)
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})

	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)
}

func TestCosineSimilarity_RawVectors(t *testing.T) {
	// Ненормализованные векторы одного направления должны давать 1.
	sim, err := CosineSimilarity([]float32{2, 4}, []float32{10, 20})

	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})

	assert.ErrorIs(t, err, e.ErrDimensionMismatch)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})

	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)
}
