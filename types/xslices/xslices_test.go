// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceWithValue(t *testing.T) {
	assert.Equal(t, []int{3, 3, 3}, SliceWithValue(3, 3))
	assert.Empty(t, SliceWithValue(0, "x"))
}

func TestIota(t *testing.T) {
	assert.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	assert.Equal(t, []int{0, 1, 2, 3}, Iota(0, 4))
}

func TestMap(t *testing.T) {
	assert.Equal(t, []int{2, 4, 6}, Map([]int{1, 2, 3}, func(e int) int { return 2 * e }))
}

func TestInDelta(t *testing.T) {
	assert.True(t, InDelta([]float64{1, 2, math.NaN()}, []float64{1.001, 2, math.NaN()}, 0.01))
	assert.False(t, InDelta([]float64{1, 2}, []float64{1, 2.1}, 0.01))
	assert.False(t, InDelta([]float64{1}, []float64{1, 2}, 0.01))
}
