package maintenance

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/testutils"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// memoryStore is an in-memory MaintenanceDataSource and AlertSink.
type memoryStore struct {
	mu        sync.Mutex
	rows      []models.EquipmentHistory
	alerts    []*models.MaintenanceAlert
	alertErr  error
	alertCall int
}

func (s *memoryStore) ActiveEquipmentHistory(context.Context) ([]models.EquipmentHistory, error) {
	var out []models.EquipmentHistory
	for _, r := range s.rows {
		if r.Status != models.EquipmentStatusDecommissioned {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) EquipmentHistoryByID(_ context.Context, id int64) (*models.EquipmentHistory, error) {
	for _, r := range s.rows {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, models.NewNotFoundError("equipment")
}

func (s *memoryStore) CreateAlertIfAbsent(_ context.Context, alert *models.MaintenanceAlert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertCall++
	if s.alertErr != nil {
		return false, s.alertErr
	}
	for _, a := range s.alerts {
		if a.EquipmentID == alert.EquipmentID && a.Type == alert.Type &&
			(a.Status == models.AlertStatusPending || a.Status == models.AlertStatusInProgress) {
			return false, nil
		}
	}
	s.alerts = append(s.alerts, alert)
	return true, nil
}

func ptr[T any](v T) *T { return &v }

// history returns n equipment rows. Even ids are worn, heavily used and had corrective
// maintenance; odd ids are lightly used and never failed.
func history(n int) []models.EquipmentHistory {
	rng := rand.New(rand.NewSource(3))
	rows := make([]models.EquipmentHistory, n)
	for i := range rows {
		worn := i%2 == 0
		h := models.EquipmentHistory{
			ID:                        int64(i + 1),
			Code:                      "EQ-" + string(rune('A'+i%26)),
			Name:                      "equipment",
			Status:                    "disponible",
			PhysicalState:             models.PhysicalStateExcellent,
			AcquisitionDate:           ptr(testNow.AddDate(0, -6-rng.Intn(6), 0)),
			AcquisitionValue:          ptr(1000 + rng.Float64()*500),
			UsefulLifeYears:           ptr(10.0),
			CompletedMaintenanceCount: 1,
			MeanMaintenanceCost:       ptr(50 + rng.Float64()*20),
			MeanDowntimeHours:         ptr(1 + rng.Float64()),
			LastMaintenanceAt:         ptr(testNow.AddDate(0, 0, -10)),
			LoanCount:                 rng.Intn(3),
			CategoryID:                ptr(int64(1)),
		}
		if worn {
			h.PhysicalState = models.PhysicalStateGood
			h.AcquisitionDate = ptr(testNow.AddDate(-8-rng.Intn(3), 0, 0))
			h.CompletedMaintenanceCount = 4 + rng.Intn(3)
			h.MeanMaintenanceCost = ptr(400 + rng.Float64()*100)
			h.MeanDowntimeHours = ptr(24 + rng.Float64()*12)
			h.LastMaintenanceAt = ptr(testNow.AddDate(0, -8, 0))
			h.LoanCount = 20 + rng.Intn(10)
			h.HasCorrectiveMaintenance = true
		}
		rows[i] = h
	}
	return rows
}

func testConfig() config.MaintenanceConfig {
	cfg := config.Default().Maintenance
	cfg.Trees = 20
	return cfg
}

func newEngine(t *testing.T, store *memoryStore) (*Engine, artifacts.Root) {
	t.Helper()
	root := testutils.NewModelRoot(t)
	return New(testConfig(), root, store, store, WithClock(func() time.Time { return testNow })), root
}

func TestFeatureRow(t *testing.T) {
	t.Run("sentinels", func(t *testing.T) {
		row := FeatureRow(models.EquipmentHistory{}, testNow)
		require.Len(t, row, len(FeatureNames))
		assert.Equal(t, []float64{365, 1825, 0, 0, 0, 0, 30, 3, 0, 0}, row)
	})

	t.Run("values", func(t *testing.T) {
		h := models.EquipmentHistory{
			PhysicalState:             models.PhysicalStateBad,
			AcquisitionDate:           ptr(testNow.AddDate(0, 0, -100)),
			UsefulLifeYears:           ptr(2.0),
			AcquisitionValue:          ptr(1500.0),
			CompletedMaintenanceCount: 2,
			MeanMaintenanceCost:       ptr(80.0),
			MeanDowntimeHours:         ptr(5.0),
			LastMaintenanceAt:         ptr(testNow.AddDate(0, 0, -7)),
			LoanCount:                 9,
			CategoryID:                ptr(int64(4)),
		}
		assert.Equal(t, []float64{100, 730, 1500, 2, 80, 5, 7, 1, 9, 4}, FeatureRow(h, testNow))
	})
}

func TestHeuristicProbability(t *testing.T) {
	assert.Equal(t, 0.95, HeuristicProbability(models.PhysicalStateBad))
	assert.Equal(t, 0.75, HeuristicProbability(models.PhysicalStateFair))
	assert.Equal(t, 0.30, HeuristicProbability(models.PhysicalStateGood))
	assert.Equal(t, 0.10, HeuristicProbability(models.PhysicalStateExcellent))
	assert.Equal(t, 0.30, HeuristicProbability("desconocido"))
}

func TestInTrainingSet(t *testing.T) {
	assert.False(t, InTrainingSet(models.EquipmentHistory{PhysicalState: models.PhysicalStateGood}))
	assert.True(t, InTrainingSet(models.EquipmentHistory{CompletedMaintenanceCount: 1}))
	assert.True(t, InTrainingSet(models.EquipmentHistory{LoanCount: 1}))
	assert.True(t, InTrainingSet(models.EquipmentHistory{PhysicalState: models.PhysicalStateFair}))
}

func TestAugment(t *testing.T) {
	x := [][]float64{{1, 0, 10}, {2, 5, 20}, {3, 1, 30}}
	y := []int{0, 1, 0}
	ax, ay := Augment(x, y, 50, rand.New(rand.NewSource(42)))
	require.Len(t, ax, 50)
	require.Len(t, ay, 50)
	assert.Equal(t, x, ax[:3])
	for i, row := range ax {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
		}
		// zero features stay zero under multiplicative noise
		if ay[i] == 0 && row[2] < 15 {
			assert.Equal(t, 0.0, row[1])
		}
	}

	same, _ := Augment(x, y, 2, rand.New(rand.NewSource(42)))
	assert.Len(t, same, 3)
}

func TestTrain(t *testing.T) {
	store := &memoryStore{rows: history(40)}
	e, root := newEngine(t, store)

	assert.False(t, e.Status().ModelLoaded)

	m, err := e.Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, m.TrainingRows)
	assert.Zero(t, m.SyntheticRows)
	assert.Equal(t, 0.5, m.PositiveRate)
	assert.Equal(t, 5, m.CVFolds)
	assert.GreaterOrEqual(t, m.CVAccuracy, 0.8)
	assert.True(t, m.MeetsObjective)
	assert.False(t, m.SingleClass)
	assert.FileExists(t, root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceModelFile))
	assert.FileExists(t, root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceScalerFile))

	status := e.Status()
	assert.True(t, status.ModelLoaded)
	assert.Equal(t, FeatureNames, status.Features)

	worn, err := e.PredictFailure(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, worn)
	assert.Greater(t, *worn, 0.5)

	fresh, err := e.PredictFailure(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Less(t, *fresh, 0.5)

	missing, err := e.PredictFailure(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	t.Run("a second engine loads the persisted model", func(t *testing.T) {
		other := New(testConfig(), root, store, store, WithClock(func() time.Time { return testNow }))
		p, err := other.PredictFailure(context.Background(), 1)
		require.NoError(t, err)
		assert.InDelta(t, *worn, *p, 1e-12)
		assert.Zero(t, other.Status().Fallbacks)
	})

	t.Run("removed model falls back to the heuristic", func(t *testing.T) {
		require.NoError(t, os.Remove(root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceModelFile)))
		p, err := e.PredictFailure(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, HeuristicProbability(models.PhysicalStateGood), *p)
		assert.False(t, e.Status().ModelLoaded)
	})
}

func TestTrainAugmentsSmallSets(t *testing.T) {
	store := &memoryStore{rows: history(8)}
	e, _ := newEngine(t, store)

	m, err := e.Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, m.TrainingRows)
	assert.Equal(t, 50, m.TotalRows)
	assert.Equal(t, 42, m.SyntheticRows)

	p, err := e.PredictFailure(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, *p >= 0 && *p <= 1)
}

func TestTrainInsufficientData(t *testing.T) {
	rows := history(10)
	// only three rows have any history
	for i := range rows[3:] {
		rows[3+i].CompletedMaintenanceCount = 0
		rows[3+i].LoanCount = 0
	}
	e, root := newEngine(t, &memoryStore{rows: rows})

	_, err := e.Train(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
	var ide *models.InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 3, ide.Have)
	assert.NoFileExists(t, root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceModelFile))
}

func TestSingleClassUsesHeuristic(t *testing.T) {
	rows := history(30)
	for i := range rows {
		rows[i].HasCorrectiveMaintenance = false
	}
	e, _ := newEngine(t, &memoryStore{rows: rows})

	m, err := e.Train(context.Background())
	require.NoError(t, err)
	assert.True(t, m.SingleClass)

	p, err := e.PredictFailure(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.30, *p)
	assert.True(t, e.Status().SingleClass)
}

func TestTrainingIsSerialized(t *testing.T) {
	e, root := newEngine(t, &memoryStore{rows: history(20)})
	held := artifacts.NewTrainingLock(root, artifacts.MaintenanceDir)
	require.NoError(t, held.TryAcquire())

	_, err := e.Train(context.Background())
	assert.ErrorIs(t, err, models.ErrTrainingInProgress)

	held.Release()
	_, err = e.Train(context.Background())
	assert.NoError(t, err)
}

func TestAnalyzeAll(t *testing.T) {
	t.Run("bad physical state raises one critical alert", func(t *testing.T) {
		store := &memoryStore{rows: []models.EquipmentHistory{{
			ID:            7,
			Code:          "MIC-001",
			Name:          "Microscopio",
			Status:        "disponible",
			PhysicalState: models.PhysicalStateBad,
		}}}
		e, _ := newEngine(t, store)

		summary, err := e.AnalyzeAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.EquipmentAnalyzed)
		assert.Equal(t, 1, summary.AtRiskCount)
		assert.Equal(t, 1, summary.AlertsGenerated)
		require.Len(t, summary.AtRisk, 1)
		assert.Equal(t, RiskCritical, summary.AtRisk[0].Level)
		assert.Equal(t, 95.0, summary.AtRisk[0].ProbabilityPercent)
		assert.Equal(t, ReasonPhysicalState, summary.AtRisk[0].Reason)

		require.Len(t, store.alerts, 1)
		alert := store.alerts[0]
		assert.Equal(t, int64(7), alert.EquipmentID)
		assert.Equal(t, models.AlertTypePredictedFailure, alert.Type)
		assert.Equal(t, models.AlertPriorityCritical, alert.Priority)
		assert.Equal(t, models.AlertStatusPending, alert.Status)
		assert.Equal(t, testNow.Add(3*24*time.Hour), alert.Deadline)
		assert.Contains(t, alert.Description, "MIC-001")
		assert.Contains(t, alert.Description, "95.0%")

		again, err := e.AnalyzeAll(context.Background())
		require.NoError(t, err)
		assert.Zero(t, again.AlertsGenerated)
		assert.Len(t, store.alerts, 1)
	})

	t.Run("fair state is high with a week deadline", func(t *testing.T) {
		store := &memoryStore{rows: []models.EquipmentHistory{
			{ID: 1, PhysicalState: models.PhysicalStateFair},
			{ID: 2, PhysicalState: models.PhysicalStateExcellent},
			{ID: 3, PhysicalState: models.PhysicalStateGood},
			{ID: 4, PhysicalState: models.PhysicalStateBad, Status: models.EquipmentStatusDecommissioned},
		}}
		e, _ := newEngine(t, store)

		summary, err := e.AnalyzeAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, summary.EquipmentAnalyzed)
		assert.Equal(t, 1, summary.AtRiskCount)
		require.Len(t, store.alerts, 1)
		assert.Equal(t, models.AlertPriorityHigh, store.alerts[0].Priority)
		assert.Equal(t, testNow.Add(7*24*time.Hour), store.alerts[0].Deadline)
	})

	t.Run("alert failures do not abort the pass", func(t *testing.T) {
		store := &memoryStore{
			rows: []models.EquipmentHistory{
				{ID: 1, PhysicalState: models.PhysicalStateBad},
				{ID: 2, PhysicalState: models.PhysicalStateFair},
			},
			alertErr: errors.New("connection reset"),
		}
		e, _ := newEngine(t, store)

		summary, err := e.AnalyzeAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, summary.AtRiskCount)
		assert.Zero(t, summary.AlertsGenerated)
		assert.Len(t, summary.Errors, 2)
		// each insert is retried
		assert.Equal(t, 6, store.alertCall)
	})

	t.Run("at risk list is sorted and capped", func(t *testing.T) {
		var rows []models.EquipmentHistory
		for i := 0; i < 30; i++ {
			state := models.PhysicalStateFair
			if i%3 == 0 {
				state = models.PhysicalStateBad
			}
			rows = append(rows, models.EquipmentHistory{ID: int64(i + 1), PhysicalState: state})
		}
		e, _ := newEngine(t, &memoryStore{rows: rows})

		summary, err := e.AnalyzeAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 30, summary.AtRiskCount)
		require.Len(t, summary.AtRisk, 20)
		for i := 1; i < len(summary.AtRisk); i++ {
			assert.GreaterOrEqual(t, summary.AtRisk[i-1].Probability, summary.AtRisk[i].Probability)
		}
		assert.Equal(t, RiskCritical, summary.AtRisk[0].Level)
	})
}

func TestAssess(t *testing.T) {
	e, _ := newEngine(t, &memoryStore{})
	_, atRisk := e.Assess(models.EquipmentHistory{PhysicalState: models.PhysicalStateExcellent})
	assert.False(t, atRisk)

	a, atRisk := e.Assess(models.EquipmentHistory{PhysicalState: models.PhysicalStateFair})
	require.True(t, atRisk)
	assert.Equal(t, RiskHigh, a.Level)
	assert.Equal(t, 75.0, a.ProbabilityPercent)
}
