package routing

import (
	"github.com/shopspring/decimal"
)

// Totals are the summed step times of a routing. Steps without a time
// count as zero.
type Totals struct {
	SetupMinutes      float64 `json:"setup_minutes"`
	RunMinutesPerUnit float64 `json:"run_minutes_per_unit"`
}

// ComputeTotals sums setup and run-per-unit times independently.
func ComputeTotals(fields []NodeFields) Totals {
	setup, run := decimal.Zero, decimal.Zero
	for _, f := range fields {
		if f.SetupTime != nil {
			setup = setup.Add(decimal.NewFromFloat(*f.SetupTime))
		}
		if f.RunTimePerUnit != nil {
			run = run.Add(decimal.NewFromFloat(*f.RunTimePerUnit))
		}
	}
	return Totals{SetupMinutes: setup.InexactFloat64(), RunMinutesPerUnit: run.InexactFloat64()}
}

// SetupLabel renders the toolbar text, e.g. "Setup: 5m".
func (t Totals) SetupLabel() string {
	return "Setup: " + FormatMinutes(t.SetupMinutes) + "m"
}

// RunLabel renders the toolbar text, e.g. "Run: 5m/unit".
func (t Totals) RunLabel() string {
	return "Run: " + FormatMinutes(t.RunMinutesPerUnit) + "m/unit"
}

// FormatMinutes prints minutes with at most two decimals and no trailing
// zeros.
func FormatMinutes(m float64) string {
	return decimal.NewFromFloat(m).Round(2).String()
}
