package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		UserID:          "u1",
		MaxPositions:    5,
		DefaultLeverage: 3,
		MaxLeverage:     10,
		RiskPerTrade:    2,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validSettings().Validate(20))

	s := validSettings()
	s.DefaultLeverage = 15
	assert.Error(t, s.Validate(20), "defaultLeverage above maxLeverage")

	s = validSettings()
	s.MaxLeverage = 25
	assert.Error(t, s.Validate(20), "maxLeverage above platform cap")

	s = validSettings()
	s.RiskPerTrade = 0
	assert.Error(t, s.Validate(20))

	s = validSettings()
	s.RiskPerTrade = 101
	assert.Error(t, s.Validate(20))

	s = validSettings()
	s.RiskPerTrade = 100
	assert.NoError(t, s.Validate(20))

	s = validSettings()
	s.MaxPositions = 0
	assert.Error(t, s.Validate(20))
}

func TestLeverageIsMinOfDefaultAndMax(t *testing.T) {
	s := validSettings()
	assert.Equal(t, 3, s.Leverage())

	s.DefaultLeverage = 10
	s.MaxLeverage = 5
	assert.Equal(t, 5, s.Leverage())
}

func TestAllowsSymbol(t *testing.T) {
	s := validSettings()
	assert.NoError(t, s.AllowsSymbol("BTCUSDT"), "no lists configured allows everything")

	s.BlacklistedSymbols = []string{"DOGEUSDT"}
	assert.Error(t, s.AllowsSymbol("DOGEUSDT"))
	assert.NoError(t, s.AllowsSymbol("BTCUSDT"))

	s.AllowedSymbols = []string{"BTCUSDT", "ETHUSDT"}
	assert.NoError(t, s.AllowsSymbol("ETHUSDT"))
	assert.Error(t, s.AllowsSymbol("SOLUSDT"))

	// Черный список сильнее, даже если символ в белом.
	s.AllowedSymbols = []string{"DOGEUSDT"}
	assert.Error(t, s.AllowsSymbol("DOGEUSDT"))
}
