package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dbfixture"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/labmanager/labml/pkg/models"
)

type Row interface {
	CategorySchema | LaboratorySchema | EquipmentSchema | MaintenanceTypeSchema |
		MaintenanceSchema | LoanSchema
}

type FixtureModel[T Row] struct {
	Model string `yaml:"model"`
	Rows  []T    `yaml:"rows"`
}

type Fixtures[T Row] []FixtureModel[T]

var fixtureModels = []any{
	(*CategorySchema)(nil),
	(*LaboratorySchema)(nil),
	(*EquipmentSchema)(nil),
	(*MaintenanceTypeSchema)(nil),
	(*MaintenanceSchema)(nil),
	(*LoanSchema)(nil),
}

// fixtureFiles lists the generated files in load order.
var fixtureFiles = []string{
	"category_fixtures.yaml",
	"laboratory_fixtures.yaml",
	"equipment_fixtures.yaml",
	"maintenance_type_fixtures.yaml",
	"maintenance_fixtures.yaml",
	"loan_fixtures.yaml",
}

var physicalStates = []models.PhysicalState{
	models.PhysicalStateBad,
	models.PhysicalStateFair,
	models.PhysicalStateGood,
	models.PhysicalStateGood,
	models.PhysicalStateExcellent,
}

func generateTimeLastNDays(nDays int) time.Time {
	now := time.Now().UTC()
	return gofakeit.DateRange(now.Add(time.Duration(-nDays)*24*time.Hour), now)
}

func ptr[T any](v T) *T { return &v }

// GenerateFixtureData writes YAML fixtures for fixtureCount pieces of equipment with
// random maintenance and loan histories. Worn equipment is more likely to have needed
// corrective maintenance, so a model trained on the fixtures has some signal.
func GenerateFixtureData(fixtureCount int, outputDir string) error {
	gofakeit.SetGlobalFaker(gofakeit.NewUnlocked(0))

	categories := []CategorySchema{
		{ID: 1, Name: "Microscopía"},
		{ID: 2, Name: "Separación"},
		{ID: 3, Name: "Medición"},
	}
	laboratories := []LaboratorySchema{
		{ID: 1, Name: "Laboratorio de Química"},
		{ID: 2, Name: "Laboratorio de Física"},
		{ID: 3, Name: "Laboratorio de Biología"},
	}
	types := []MaintenanceTypeSchema{
		{ID: 1, Name: "Preventivo", IsPreventive: true},
		{ID: 2, Name: "Correctivo"},
	}

	equipment := make([]EquipmentSchema, fixtureCount)
	var (
		maintenance []MaintenanceSchema
		loans       []LoanSchema
	)
	for i := range equipment {
		id := int64(i + 1)
		state := physicalStates[gofakeit.Number(0, len(physicalStates)-1)]
		status := "disponible"
		if gofakeit.Number(1, 20) == 1 {
			status = models.EquipmentStatusDecommissioned
		}
		equipment[i] = EquipmentSchema{
			ID:               id,
			Code:             fmt.Sprintf("EQ-%04d", id),
			Name:             cases.Title(language.Spanish).String(gofakeit.Noun()),
			CategoryID:       ptr(categories[i%len(categories)].ID),
			LaboratoryID:     ptr(laboratories[i%len(laboratories)].ID),
			Status:           status,
			PhysicalState:    state,
			AcquisitionDate:  ptr(generateTimeLastNDays(gofakeit.Number(30, 3650))),
			AcquisitionValue: ptr(gofakeit.Price(200, 20000)),
			UsefulLifeYears:  ptr(float64(gofakeit.Number(3, 15))),
		}

		worn := state.Code() <= 2
		maintenanceCount, loanCount := gofakeit.Number(0, 6), gofakeit.Number(0, 15)
		for j := 0; j < maintenanceCount; j++ {
			typeID := types[0].ID
			if (worn && gofakeit.Float64() < 0.7) || (!worn && gofakeit.Float64() < 0.15) {
				typeID = types[1].ID
			}
			maintenance = append(maintenance, MaintenanceSchema{
				ID:                int64(len(maintenance) + 1),
				EquipmentID:       id,
				MaintenanceTypeID: typeID,
				Status:            MaintenanceStatusCompleted,
				Cost:              ptr(gofakeit.Price(20, 2000)),
				DowntimeHours:     ptr(float64(gofakeit.Number(1, 72))),
				CompletedAt:       ptr(generateTimeLastNDays(365)),
			})
		}
		for j := 0; j < loanCount; j++ {
			loans = append(loans, LoanSchema{
				ID:          int64(len(loans) + 1),
				EquipmentID: id,
				Status:      "devuelto",
				CreatedAt:   generateTimeLastNDays(180),
			})
		}
	}

	if outputDir == "" {
		outputDir = "./"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("unable to create %s: %w", outputDir, err)
	}

	return firstError(
		writeFixtureToYAML(Fixtures[CategorySchema]{{Model: "CategorySchema", Rows: categories}}, outputDir, fixtureFiles[0]),
		writeFixtureToYAML(Fixtures[LaboratorySchema]{{Model: "LaboratorySchema", Rows: laboratories}}, outputDir, fixtureFiles[1]),
		writeFixtureToYAML(Fixtures[EquipmentSchema]{{Model: "EquipmentSchema", Rows: equipment}}, outputDir, fixtureFiles[2]),
		writeFixtureToYAML(Fixtures[MaintenanceTypeSchema]{{Model: "MaintenanceTypeSchema", Rows: types}}, outputDir, fixtureFiles[3]),
		writeFixtureToYAML(Fixtures[MaintenanceSchema]{{Model: "MaintenanceSchema", Rows: maintenance}}, outputDir, fixtureFiles[4]),
		writeFixtureToYAML(Fixtures[LoanSchema]{{Model: "LoanSchema", Rows: loans}}, outputDir, fixtureFiles[5]),
	)
}

func writeFixtureToYAML[T Row](fixtures Fixtures[T], outputDir, filename string) error {
	data, err := yaml.Marshal(&fixtures)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, filename), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	log.Infof("fixtures generated successfully in %s", filename)
	return nil
}

// LoadFixtures creates any missing tables and loads the YAML fixtures found in fixturePath.
func LoadFixtures(ctx context.Context, db *bun.DB, fixturePath string) error {
	db.RegisterModel(fixtureModels...)
	if err := CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	fixture := dbfixture.New(db)
	fsys := os.DirFS(fixturePath)
	for _, name := range fixtureFiles {
		if _, err := os.Stat(filepath.Join(fixturePath, name)); err != nil {
			continue
		}
		if err := fixture.Load(ctx, fsys, name); err != nil {
			return fmt.Errorf("failed to load fixture %s: %w", name, err)
		}
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
