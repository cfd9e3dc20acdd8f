package embedding

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
)

// ToPgvector adapts a decoded vector to pgvector.Vector, the same type a
// Postgres-backed deployment would hand to pgx for a pgvector column
// (Non-goal: we don't stand up Postgres here, only keep the wire format
// interchangeable).
func ToPgvector(v []float32) pgvector.Vector {
	return pgvector.NewVector(v)
}

// ExportPgvectorText decodes a little-endian float32 blob as stored in a
// BLOB column and renders it as pgvector's text literal ("[v1,v2,...]"),
// the format the `memory export-embeddings` dump hands to a `COPY ... FROM` against a Postgres table with a
// pgvector column, for operators migrating off the embedded store.
func ExportPgvectorText(blob []byte) (string, error) {
	v, err := DecodeVector(blob)
	if err != nil {
		return "", err
	}

	return ToPgvector(v).String(), nil
}

// EncodeVector packs a float32 vector as a little-endian byte blob (spec
// §6 "Vectors are float32 little-endian packed"). The wire layout matches
// pgvector-go's Vector.ToString/bytes convention, so a future
// Postgres-backed deployment can read the same bytes back.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}

	return buf
}

// DecodeVector unpacks a little-endian float32 blob. Returns an error if
// the length is not a multiple of 4 (spec §9: "length == dimension x 4").
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}

	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}

	return out, nil
}

// CosineSimilarity computes (a·b)/(|a||b|). Returns 0 (not NaN) for a zero
// vector, and 1.0 for two identical vectors (spec §8 boundary behaviours).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
