package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/maintenance"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/testutils"
)

func newTestStore(t *testing.T) (*Store, *bun.DB) {
	t.Helper()
	db := testutils.NewTestDB(t)
	require.NoError(t, CreateSchema(context.Background(), db))
	return NewStore(db), db
}

func insert(t *testing.T, db *bun.DB, rows ...any) {
	t.Helper()
	for _, r := range rows {
		_, err := db.NewInsert().Model(r).Exec(context.Background())
		require.NoError(t, err)
	}
}

func TestCreateSchemaIsIdempotent(t *testing.T) {
	_, db := newTestStore(t)
	assert.NoError(t, CreateSchema(context.Background(), db))
}

func TestEquipmentHistory(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	acquired := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	first := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	insert(t, db,
		&CategorySchema{ID: 1, Name: "Microscopía"},
		&MaintenanceTypeSchema{ID: 1, Name: "Preventivo", IsPreventive: true},
		&MaintenanceTypeSchema{ID: 2, Name: "Correctivo"},
		&EquipmentSchema{
			ID: 1, Code: "MIC-001", Name: "Microscopio", CategoryID: ptr(int64(1)),
			Status: "disponible", PhysicalState: models.PhysicalStateGood,
			AcquisitionDate: &acquired, AcquisitionValue: ptr(1200.0), UsefulLifeYears: ptr(10.0),
		},
		&EquipmentSchema{ID: 2, Code: "CEN-001", Name: "Centrífuga", Status: "disponible", PhysicalState: models.PhysicalStateExcellent},
		&EquipmentSchema{ID: 3, Code: "OLD-001", Name: "Balanza", Status: models.EquipmentStatusDecommissioned, PhysicalState: models.PhysicalStateBad},
		&MaintenanceSchema{EquipmentID: 1, MaintenanceTypeID: 1, Status: MaintenanceStatusCompleted, Cost: ptr(100.0), DowntimeHours: ptr(2.0), CompletedAt: &first},
		&MaintenanceSchema{EquipmentID: 1, MaintenanceTypeID: 2, Status: MaintenanceStatusCompleted, Cost: ptr(300.0), CompletedAt: &last},
		// not completed, ignored
		&MaintenanceSchema{EquipmentID: 2, MaintenanceTypeID: 2, Status: "programado", Cost: ptr(999.0)},
		&MaintenanceSchema{EquipmentID: 2, MaintenanceTypeID: 1, Status: MaintenanceStatusCompleted},
		&LoanSchema{EquipmentID: 1},
		&LoanSchema{EquipmentID: 1},
		&LoanSchema{EquipmentID: 2},
	)

	rows, err := store.ActiveEquipmentHistory(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	mic := rows[0]
	assert.Equal(t, int64(1), mic.ID)
	assert.Equal(t, "MIC-001", mic.Code)
	assert.Equal(t, models.PhysicalStateGood, mic.PhysicalState)
	require.NotNil(t, mic.CategoryID)
	assert.Equal(t, int64(1), *mic.CategoryID)
	require.NotNil(t, mic.AcquisitionDate)
	assert.True(t, acquired.Equal(*mic.AcquisitionDate))
	assert.Equal(t, 1200.0, *mic.AcquisitionValue)
	assert.Equal(t, 2, mic.CompletedMaintenanceCount)
	assert.Equal(t, 200.0, *mic.MeanMaintenanceCost)
	assert.Equal(t, 2.0, *mic.MeanDowntimeHours)
	require.NotNil(t, mic.LastMaintenanceAt)
	assert.True(t, last.Equal(*mic.LastMaintenanceAt))
	assert.Equal(t, 2, mic.LoanCount)
	assert.True(t, mic.HasCorrectiveMaintenance)

	cen := rows[1]
	assert.Equal(t, 1, cen.CompletedMaintenanceCount)
	assert.Nil(t, cen.MeanMaintenanceCost)
	assert.Nil(t, cen.MeanDowntimeHours)
	assert.Nil(t, cen.LastMaintenanceAt)
	assert.Nil(t, cen.CategoryID)
	assert.Equal(t, 1, cen.LoanCount)
	assert.False(t, cen.HasCorrectiveMaintenance)

	t.Run("by id", func(t *testing.T) {
		h, err := store.EquipmentHistoryByID(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, models.EquipmentStatusDecommissioned, h.Status)
		assert.Zero(t, h.CompletedMaintenanceCount)

		_, err = store.EquipmentHistoryByID(ctx, 42)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func newAlert(equipmentID int64) *models.MaintenanceAlert {
	return &models.MaintenanceAlert{
		UUID:        uuid.New(),
		EquipmentID: equipmentID,
		Type:        models.AlertTypePredictedFailure,
		Description: "test",
		Deadline:    time.Now().Add(72 * time.Hour),
		Priority:    models.AlertPriorityCritical,
		Status:      models.AlertStatusPending,
	}
}

func TestCreateAlertIfAbsent(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	insert(t, db, &EquipmentSchema{ID: 1, Code: "MIC-001", Name: "Microscopio", Status: "disponible", PhysicalState: models.PhysicalStateBad})

	first := newAlert(1)
	created, err := store.CreateAlertIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	created, err = store.CreateAlertIfAbsent(ctx, newAlert(1))
	require.NoError(t, err)
	assert.False(t, created)

	// a resolved alert no longer blocks a new one
	_, err = db.NewUpdate().
		Model((*MaintenanceAlertSchema)(nil)).
		Set("status = ?", models.AlertStatusResolved).
		Where("id = ?", first.ID).
		Exec(ctx)
	require.NoError(t, err)

	created, err = store.CreateAlertIfAbsent(ctx, newAlert(1))
	require.NoError(t, err)
	assert.True(t, created)

	alerts, err := store.ListAlerts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, models.AlertStatusPending, alerts[0].Status)
	assert.Equal(t, first.UUID, alerts[1].UUID)

	t.Run("open index rejects a second open alert", func(t *testing.T) {
		row := MaintenanceAlertSchema{
			UUID:        uuid.New(),
			EquipmentID: 1,
			Type:        models.AlertTypePredictedFailure,
			Description: "dup",
			Deadline:    time.Now(),
			Priority:    models.AlertPriorityHigh,
			Status:      models.AlertStatusInProgress,
		}
		_, err := db.NewInsert().Model(&row).Exec(ctx)
		require.Error(t, err)
		assert.True(t, isUniqueViolation(err))
	})
}

func TestAnalyzeAllDeduplicatesAlerts(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	insert(t, db, &EquipmentSchema{ID: 1, Code: "MIC-001", Name: "Microscopio", Status: "disponible", PhysicalState: models.PhysicalStateBad})

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := maintenance.New(config.Default().Maintenance, testutils.NewModelRoot(t), store, store,
		maintenance.WithClock(func() time.Time { return now }))

	summary, err := engine.AnalyzeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlertsGenerated)

	alerts, err := store.ListAlerts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertPriorityCritical, alerts[0].Priority)
	assert.Equal(t, models.AlertTypePredictedFailure, alerts[0].Type)
	assert.Equal(t, models.AlertStatusPending, alerts[0].Status)
	assert.WithinDuration(t, now.Add(72*time.Hour), alerts[0].Deadline, time.Second)

	for i := 0; i < 3; i++ {
		summary, err = engine.AnalyzeAll(ctx)
		require.NoError(t, err)
		assert.Zero(t, summary.AlertsGenerated)
	}
	alerts, err = store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestTrainingImages(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	insert(t, db,
		&CategorySchema{ID: 1, Name: "Microscopía"},
		&EquipmentSchema{ID: 1, Code: "MIC-001", Name: "Microscopio", CategoryID: ptr(int64(1)), Status: "disponible", PhysicalState: models.PhysicalStateGood},
		&EquipmentSchema{ID: 2, Code: "CEN-001", Name: "Centrífuga", Status: "disponible", PhysicalState: models.PhysicalStateGood},
		&TrainingImageSchema{EquipmentID: 2, Path: "/img/c1.png"},
		&TrainingImageSchema{EquipmentID: 1, Path: "/img/m1.png"},
		&TrainingImageSchema{EquipmentID: 1, Path: "/img/m2.png"},
	)

	dataset, err := store.RecognitionDataset(ctx)
	require.NoError(t, err)
	require.Len(t, dataset, 2)
	assert.Equal(t, "MIC-001", dataset[0].Code)
	assert.Equal(t, "Microscopía", dataset[0].Category)
	require.Len(t, dataset[0].Images, 2)
	assert.Equal(t, "/img/m1.png", dataset[0].Images[0].Path)
	assert.Equal(t, "", dataset[1].Category)

	ids := []int64{dataset[0].Images[0].ID, dataset[0].Images[1].ID}
	require.NoError(t, store.MarkTrainingImages(ctx, ids, models.TrainingImageEntrained))
	require.NoError(t, store.MarkTrainingImages(ctx, nil, models.TrainingImageError))

	var statuses []models.TrainingImageStatus
	err = db.NewSelect().Model((*TrainingImageSchema)(nil)).Column("status").Order("id ASC").Scan(ctx, &statuses)
	require.NoError(t, err)
	assert.Equal(t, []models.TrainingImageStatus{
		models.TrainingImagePending,
		models.TrainingImageEntrained,
		models.TrainingImageEntrained,
	}, statuses)
}

func TestFixtures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, GenerateFixtureData(25, dir))
	for _, name := range fixtureFiles {
		assert.FileExists(t, dir+"/"+name)
	}

	db := testutils.NewTestDB(t)
	require.NoError(t, LoadFixtures(ctx, db, dir))

	store := NewStore(db)
	rows, err := store.ActiveEquipmentHistory(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
	assert.LessOrEqual(t, len(rows), 25)
	for _, r := range rows {
		assert.NotEqual(t, models.EquipmentStatusDecommissioned, r.Status)
		assert.NotZero(t, r.PhysicalState.Code())
	}
}
