package aggregator

import (
	"time"

	"pv-simulator/internal/models"
)

// EnergySummary holds energy totals for a sequence of observation records
type EnergySummary struct {
	ConsumedKWh float64 // meter energy
	ProducedKWh float64 // PV energy
	NetKWh      float64 // produced minus consumed
	// SelfSufficiency is the share of consumption covered by PV output at the
	// same instant, in [0, 1]
	SelfSufficiency float64
	PeakPVWatts     float64
	PeakPVAt        time.Time
	Samples         int
}

// SummarizeEnergy integrates the records with a rectangle rule: every record
// stands for one sampling interval.
func SummarizeEnergy(records []models.PowerObservationRecord, interval time.Duration) EnergySummary {
	var summary EnergySummary
	if len(records) == 0 || interval <= 0 {
		return summary
	}

	hours := interval.Hours()
	var covered float64
	for _, r := range records {
		summary.ConsumedKWh += r.MeterPowerConsumption * hours / 1000
		summary.ProducedKWh += r.PVPowerOutput * hours / 1000
		covered += min(r.MeterPowerConsumption, r.PVPowerOutput) * hours / 1000

		if r.PVPowerOutput > summary.PeakPVWatts {
			summary.PeakPVWatts = r.PVPowerOutput
			summary.PeakPVAt = r.TimeStamp
		}
	}

	summary.NetKWh = summary.ProducedKWh - summary.ConsumedKWh
	if summary.ConsumedKWh > 0 {
		summary.SelfSufficiency = covered / summary.ConsumedKWh
	}
	summary.Samples = len(records)
	return summary
}
