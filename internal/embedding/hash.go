package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/iammorganparry/agentmem/internal/models"
)

// HashEmbedder derives vectors from SHA-256 in counter mode. It needs no
// model and no network; similar text does not produce similar vectors.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing dim-length vectors.
// A zero dim selects DefaultDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim == 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Name() string   { return "hash" }
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed hashes text||counter for each 32-byte block and maps every
// 4-byte word to [-1, 1].
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if h.dim < 1 {
		return nil, models.Configuration("embedding dimension must be positive", "dimension", h.dim)
	}

	vec := make([]float32, 0, h.dim)
	buf := make([]byte, len(text)+4)
	copy(buf, text)

	for block := uint32(0); len(vec) < h.dim; block++ {
		binary.BigEndian.PutUint32(buf[len(text):], block)
		sum := sha256.Sum256(buf)
		for i := 0; i+4 <= len(sum) && len(vec) < h.dim; i += 4 {
			word := binary.BigEndian.Uint32(sum[i : i+4])
			vec = append(vec, float32(float64(word)/float64(^uint32(0))*2-1))
		}
	}
	return vec, nil
}
