package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.5, 3.25, 0, 1e10}

	blob := EncodeVector(original)
	decoded, err := DecodeVector(blob)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestDecodeVectorInvalidLength(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestExportPgvectorText(t *testing.T) {
	blob := EncodeVector([]float32{1, 2, 3})

	text, err := ExportPgvectorText(blob)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "["))
	require.True(t, strings.HasSuffix(text, "]"))
	require.Equal(t, ToPgvector([]float32{1, 2, 3}).String(), text)
}

func TestExportPgvectorTextInvalidLength(t *testing.T) {
	_, err := ExportPgvectorText([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	zero := []float32{0, 0, 0}
	other := []float32{1, 2, 3}

	require.Equal(t, float64(0), CosineSimilarity(zero, other))
	require.Equal(t, float64(0), CosineSimilarity(zero, zero))
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	require.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarityMismatchedLength(t *testing.T) {
	require.Equal(t, float64(0), CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestGetDimensions(t *testing.T) {
	require.Equal(t, 1536, GetDimensions("text-embedding-3-small"))
	require.Equal(t, 3072, GetDimensions("text-embedding-3-large"))
	require.Equal(t, DefaultDimensions, GetDimensions("unknown-model"))
}
