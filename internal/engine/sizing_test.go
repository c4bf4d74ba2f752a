package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantityPrecision(t *testing.T) {
	tests := []struct {
		price float64
		want  int
	}{
		{50000, 4},
		{10000, 4},
		{9999.99, 3},
		{1000, 3},
		{500, 2},
		{100, 2},
		{42, 1},
		{10, 1},
		{9.99, 0},
		{0.05, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuantityPrecision(tt.price), "price %v", tt.price)
	}
}

func TestOrderQuantity(t *testing.T) {
	// riskPerTrade=10%, balance=1000, leverage=3, price=50000
	// => (1000*0.10*3)/50000 = 0.006, notional 300 >= 5.
	qty, err := OrderQuantity(1000, 10, 3, 50000)
	require.NoError(t, err)
	assert.InDelta(t, 0.006, qty, 1e-9)
}

func TestOrderQuantityFloorsDown(t *testing.T) {
	// (100*0.50*1)/42 = 1.1904..., floored to 1dp => 1.1
	qty, err := OrderQuantity(100, 50, 1, 42)
	require.NoError(t, err)
	assert.InDelta(t, 1.1, qty, 1e-9)
}

func TestOrderQuantityRejectsDust(t *testing.T) {
	// (10*0.01*1)/50000 rounds to 0 => notional 0 < $5.
	_, err := OrderQuantity(10, 1, 1, 50000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum")
}

func TestOrderQuantityRejectsBadPrice(t *testing.T) {
	_, err := OrderQuantity(1000, 10, 3, 0)
	assert.Error(t, err)
}
