package generator

import (
	"math"
	"time"
)

// PVModel approximates a photovoltaic daylight curve with a Kumaraswamy density
// stretched over the daylight window [Dawn, Dusk] (hours of the simulated day, UTC).
// Solar noon is the mode of the curve. Output is zero outside the window.
type PVModel struct {
	Dawn      float64
	Dusk      float64
	A         float64
	B         float64
	PeakScale float64
	// Jitter is the half-width of the multiplicative noise band around 1
	Jitter float64
}

// DefaultPVModel peaks at roughly 3.5 kW in the early afternoon
func DefaultPVModel() PVModel {
	return PVModel{
		Dawn:      5,
		Dusk:      21,
		A:         2.8,
		B:         3.3,
		PeakScale: 1650,
		Jitter:    0.01,
	}
}

func (m PVModel) Next(state State, at time.Time, draw float64) (float64, State) {
	value := m.Output(HourOfDay(at), draw)
	return value, State{LastValue: value, TickIndex: state.TickIndex + 1}
}

// Output returns the power at the given hour of day for a noise draw in [0, 1)
func (m PVModel) Output(hour, draw float64) float64 {
	if !m.InDaylight(hour) {
		return 0
	}
	x := (hour - m.Dawn) / (m.Dusk - m.Dawn)
	jitter := 1 - m.Jitter + 2*m.Jitter*draw
	return math.Max(0, kumaraswamyPDF(m.A, m.B, x)*m.PeakScale*jitter)
}

// InDaylight reports whether the hour lies strictly inside the daylight window
func (m PVModel) InDaylight(hour float64) bool {
	return hour > m.Dawn && hour < m.Dusk
}

// SolarNoon returns the hour at which the noiseless curve peaks
func (m PVModel) SolarNoon() float64 {
	mode := math.Pow((m.A-1)/(m.A*m.B-1), 1/m.A)
	return m.Dawn + mode*(m.Dusk-m.Dawn)
}

// HourOfDay returns the UTC time of day in fractional hours
func HourOfDay(at time.Time) float64 {
	at = at.UTC()
	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return at.Sub(midnight).Hours()
}

func kumaraswamyPDF(a, b, x float64) float64 {
	return a * b * math.Pow(x, a-1) * math.Pow(1-math.Pow(x, a), b-1)
}
