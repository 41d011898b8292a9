package maintenance

import (
	"math"
	"math/rand"
	"time"

	"github.com/labmanager/labml/pkg/models"
)

// FeatureNames is the fixed column order of every feature row. The scaler and the
// forest are fit on this order and persisted with it.
var FeatureNames = []string{
	"days_since_acquisition",
	"useful_life_days",
	"acquisition_value",
	"completed_maintenance_count",
	"mean_maintenance_cost",
	"mean_downtime_hours",
	"days_since_last_maintenance",
	"physical_state_code",
	"total_loan_count",
	"category_id",
}

// Sentinels for missing values.
const (
	DefaultDaysSinceAcquisition     = 365
	DefaultUsefulLifeDays           = 1825
	DefaultDaysSinceLastMaintenance = 30
	DefaultPhysicalStateCode        = 3
)

const (
	daysPerYear  = 365
	augmentNoise = 0.05
)

// heuristic is the failure probability assumed from the physical state alone.
var heuristic = map[models.PhysicalState]float64{
	models.PhysicalStateBad:       0.95,
	models.PhysicalStateFair:      0.75,
	models.PhysicalStateGood:      0.30,
	models.PhysicalStateExcellent: 0.10,
}

// HeuristicProbability returns the failure probability for a physical state. States
// outside the table are treated like the default state code, bueno.
func HeuristicProbability(state models.PhysicalState) float64 {
	if p, ok := heuristic[state]; ok {
		return p
	}
	return heuristic[models.PhysicalStateGood]
}

// FeatureRow builds the feature vector of one equipment as of now.
func FeatureRow(h models.EquipmentHistory, now time.Time) []float64 {
	row := make([]float64, len(FeatureNames))

	row[0] = DefaultDaysSinceAcquisition
	if h.AcquisitionDate != nil {
		row[0] = daysBetween(*h.AcquisitionDate, now)
	}
	row[1] = DefaultUsefulLifeDays
	if h.UsefulLifeYears != nil {
		row[1] = *h.UsefulLifeYears * daysPerYear
	}
	row[2] = deref(h.AcquisitionValue)
	row[3] = float64(h.CompletedMaintenanceCount)
	row[4] = deref(h.MeanMaintenanceCost)
	row[5] = deref(h.MeanDowntimeHours)
	row[6] = DefaultDaysSinceLastMaintenance
	if h.LastMaintenanceAt != nil {
		row[6] = daysBetween(*h.LastMaintenanceAt, now)
	}
	row[7] = DefaultPhysicalStateCode
	if code := h.PhysicalState.Code(); code > 0 {
		row[7] = float64(code)
	}
	row[8] = float64(h.LoanCount)
	if h.CategoryID != nil {
		row[9] = float64(*h.CategoryID)
	}
	return row
}

// Label is the training target: 1 when the equipment ever needed corrective maintenance.
func Label(h models.EquipmentHistory) int {
	if h.HasCorrectiveMaintenance {
		return 1
	}
	return 0
}

// InTrainingSet reports whether the equipment has enough history to be a training row.
func InTrainingSet(h models.EquipmentHistory) bool {
	return h.CompletedMaintenanceCount > 0 ||
		h.LoanCount > 0 ||
		h.PhysicalState == models.PhysicalStateBad ||
		h.PhysicalState == models.PhysicalStateFair
}

// Augment resamples rows with replacement, applying multiplicative Gaussian noise to each
// feature and clamping at zero, until there are at least target rows. The originals come
// first in the result.
func Augment(x [][]float64, y []int, target int, rng *rand.Rand) ([][]float64, []int) {
	if len(x) == 0 || len(x) >= target {
		return x, y
	}
	outX := append(make([][]float64, 0, target), x...)
	outY := append(make([]int, 0, target), y...)
	for len(outX) < target {
		i := rng.Intn(len(x))
		row := make([]float64, len(x[i]))
		for f, v := range x[i] {
			row[f] = math.Max(0, v*(1+rng.NormFloat64()*augmentNoise))
		}
		outX = append(outX, row)
		outY = append(outY, y[i])
	}
	return outX, outY
}

func daysBetween(from, to time.Time) float64 {
	d := math.Floor(to.Sub(from).Hours() / 24)
	return math.Max(0, d)
}

func deref(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	return *v
}
