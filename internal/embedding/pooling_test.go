package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100, // padding
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	assert.Equal(t, []float32{2, 3}, got)
}

func TestMeanPool_allMasked(t *testing.T) {
	assert.Equal(t, []float32{0, 0, 0}, meanPool(make([]float32, 6), []int64{0, 0}, 3))
}

func TestMeanPool_shortHidden(t *testing.T) {
	// A mask longer than the hidden state stops at the last full row.
	got := meanPool([]float32{2, 4}, []int64{1, 1}, 2)
	assert.Equal(t, []float32{2, 4}, got)
}
