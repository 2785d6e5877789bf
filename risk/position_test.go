package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		balance float64
		riskPct float64
		entry   float64
		stop    float64
		want    float64
	}{
		{"long", 10000, 0.01, 100, 95, 20},
		{"short", 10000, 0.01, 100, 105, 20},
		{"fractional", 5000, 0.02, 42000, 41000, 0.1},
		{"zero distance", 10000, 0.01, 100, 100, 0},
		{"zero risk", 10000, 0, 100, 95, 0},
		{"no balance", 0, 0.01, 100, 95, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := PositionSize(tt.balance, tt.riskPct, tt.entry, tt.stop)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestPositionSizeMatchesPlannedRisk(t *testing.T) {
	t.Parallel()

	size := PositionSize(25000, 0.015, 1.2000, 1.1900)
	risk := PlannedRisk(size, 1.2000, 1.1900)
	assert.InDelta(t, 0.015, RiskPct(risk, 25000), 1e-12)
}

func TestRR(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.4, RR(100, 95, 112), 1e-12)
	assert.InDelta(t, 2.5, RR(100, 104, 90), 1e-12)
	assert.Zero(t, RR(100, 100, 110))
}
