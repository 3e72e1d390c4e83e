package generator

import (
	"fmt"
	"math"
	"time"
)

const (
	// DefaultMaxConsumption is the household ceiling in watts
	DefaultMaxConsumption = 9000.0
	// DefaultStepFraction bounds a single step of the walk to 5% of the range
	DefaultStepFraction = 0.05
)

// MeterModel is a bounded random walk over [MinConsumption, MaxConsumption].
// The first value is drawn uniformly from the range.
type MeterModel struct {
	MinConsumption float64
	MaxConsumption float64
	StepFraction   float64
}

// DefaultMeterModel returns the walk used by the simulator
func DefaultMeterModel() MeterModel {
	return MeterModel{
		MinConsumption: 0,
		MaxConsumption: DefaultMaxConsumption,
		StepFraction:   DefaultStepFraction,
	}
}

// NewMeterModel validates a ceiling and returns a walk over [0, maxConsumption]
func NewMeterModel(maxConsumption float64) (MeterModel, error) {
	if math.IsNaN(maxConsumption) || math.IsInf(maxConsumption, 0) || maxConsumption < 0 {
		return MeterModel{}, fmt.Errorf("%v is not a non-negative finite number", maxConsumption)
	}
	model := DefaultMeterModel()
	model.MaxConsumption = maxConsumption
	return model, nil
}

// StepMax returns the largest change between two successive values
func (m MeterModel) StepMax() float64 {
	return m.StepFraction * (m.MaxConsumption - m.MinConsumption)
}

func (m MeterModel) Next(state State, _ time.Time, draw float64) (float64, State) {
	var value float64
	if state.TickIndex == 0 {
		value = m.MinConsumption + draw*(m.MaxConsumption-m.MinConsumption)
	} else {
		step := (2*draw - 1) * m.StepMax()
		value = state.LastValue + step
	}
	value = clamp(value, m.MinConsumption, m.MaxConsumption)
	return value, State{LastValue: value, TickIndex: state.TickIndex + 1}
}
