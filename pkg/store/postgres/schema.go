package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/models"
)

// MaintenanceStatusCompleted is the status of a maintenance record that was carried out.
const MaintenanceStatusCompleted = "completado"

type CategorySchema struct {
	bun.BaseModel `bun:"table:category,alias:cat" yaml:"-"`

	ID   int64  `bun:",pk,autoincrement" yaml:"id,omitempty"`
	Name string `bun:",unique,notnull"   yaml:"name"`
}

type LaboratorySchema struct {
	bun.BaseModel `bun:"table:laboratory,alias:lab" yaml:"-"`

	ID   int64  `bun:",pk,autoincrement" yaml:"id,omitempty"`
	Name string `bun:",unique,notnull"   yaml:"name"`
}

type EquipmentSchema struct {
	bun.BaseModel `bun:"table:equipment,alias:e" yaml:"-"`

	ID               int64                `bun:",pk,autoincrement"                                yaml:"id,omitempty"`
	Code             string               `bun:",unique,notnull"                                  yaml:"code"`
	Name             string               `bun:",notnull"                                         yaml:"name"`
	CategoryID       *int64               `bun:","                                                yaml:"category_id,omitempty"`
	LaboratoryID     *int64               `bun:","                                                yaml:"laboratory_id,omitempty"`
	Status           string               `bun:",notnull,default:'disponible'"                    yaml:"status"`
	PhysicalState    models.PhysicalState `bun:",notnull,default:'bueno'"                         yaml:"physical_state"`
	AcquisitionDate  *time.Time           `bun:","                                                yaml:"acquisition_date,omitempty"`
	AcquisitionValue *float64             `bun:","                                                yaml:"acquisition_value,omitempty"`
	UsefulLifeYears  *float64             `bun:","                                                yaml:"useful_life_years,omitempty"`
	CreatedAt        time.Time            `bun:",nullzero,notnull,default:current_timestamp"      yaml:"created_at,omitempty"`
	Category         *CategorySchema      `bun:"rel:belongs-to,join:category_id=id"               yaml:"-"`
	Laboratory       *LaboratorySchema    `bun:"rel:belongs-to,join:laboratory_id=id"             yaml:"-"`
}

type MaintenanceTypeSchema struct {
	bun.BaseModel `bun:"table:maintenance_type,alias:mt" yaml:"-"`

	ID           int64  `bun:",pk,autoincrement"        yaml:"id,omitempty"`
	Name         string `bun:",unique,notnull"          yaml:"name"`
	IsPreventive bool   `bun:",notnull,default:false"   yaml:"is_preventive"`
}

type MaintenanceSchema struct {
	bun.BaseModel `bun:"table:maintenance,alias:m" yaml:"-"`

	ID                int64                  `bun:",pk,autoincrement"                                    yaml:"id,omitempty"`
	EquipmentID       int64                  `bun:",notnull"                                             yaml:"equipment_id"`
	MaintenanceTypeID int64                  `bun:",notnull"                                             yaml:"maintenance_type_id"`
	Status            string                 `bun:",notnull"                                             yaml:"status"`
	Cost              *float64               `bun:","                                                    yaml:"cost,omitempty"`
	DowntimeHours     *float64               `bun:","                                                    yaml:"downtime_hours,omitempty"`
	CompletedAt       *time.Time             `bun:","                                                    yaml:"completed_at,omitempty"`
	CreatedAt         time.Time              `bun:",nullzero,notnull,default:current_timestamp"          yaml:"created_at,omitempty"`
	Equipment         *EquipmentSchema       `bun:"rel:belongs-to,join:equipment_id=id,on_delete:cascade" yaml:"-"`
	MaintenanceType   *MaintenanceTypeSchema `bun:"rel:belongs-to,join:maintenance_type_id=id"           yaml:"-"`
}

type LoanSchema struct {
	bun.BaseModel `bun:"table:loan,alias:l" yaml:"-"`

	ID          int64            `bun:",pk,autoincrement"                                    yaml:"id,omitempty"`
	EquipmentID int64            `bun:",notnull"                                             yaml:"equipment_id"`
	Status      string           `bun:",notnull,default:'activo'"                            yaml:"status"`
	CreatedAt   time.Time        `bun:",nullzero,notnull,default:current_timestamp"          yaml:"created_at,omitempty"`
	Equipment   *EquipmentSchema `bun:"rel:belongs-to,join:equipment_id=id,on_delete:cascade" yaml:"-"`
}

type MaintenanceAlertSchema struct {
	bun.BaseModel `bun:"table:maintenance_alert,alias:ma" yaml:"-"`

	ID          int64                `bun:",pk,autoincrement"                                    yaml:"id,omitempty"`
	UUID        uuid.UUID            `bun:",unique,notnull,type:uuid"                            yaml:"uuid"`
	EquipmentID int64                `bun:",notnull"                                             yaml:"equipment_id"`
	Type        models.AlertType     `bun:",notnull"                                             yaml:"type"`
	Description string               `bun:",notnull"                                             yaml:"description"`
	Deadline    time.Time            `bun:",notnull"                                             yaml:"deadline"`
	Priority    models.AlertPriority `bun:",notnull"                                             yaml:"priority"`
	Status      models.AlertStatus   `bun:",notnull"                                             yaml:"status"`
	CreatedAt   time.Time            `bun:",nullzero,notnull,default:current_timestamp"          yaml:"created_at,omitempty"`
	Equipment   *EquipmentSchema     `bun:"rel:belongs-to,join:equipment_id=id,on_delete:cascade" yaml:"-"`
}

type TrainingImageSchema struct {
	bun.BaseModel `bun:"table:training_image,alias:ti" yaml:"-"`

	ID          int64                      `bun:",pk,autoincrement"                                    yaml:"id,omitempty"`
	EquipmentID int64                      `bun:",notnull"                                             yaml:"equipment_id"`
	Path        string                     `bun:",notnull"                                             yaml:"path"`
	Status      models.TrainingImageStatus `bun:",notnull,default:'pending'"                           yaml:"status"`
	CreatedAt   time.Time                  `bun:",nullzero,notnull,default:current_timestamp"          yaml:"created_at,omitempty"`
	UpdatedAt   time.Time                  `bun:",nullzero,notnull,default:current_timestamp"          yaml:"updated_at,omitempty"`
	Equipment   *EquipmentSchema           `bun:"rel:belongs-to,join:equipment_id=id,on_delete:cascade" yaml:"-"`
}

var _ bun.BeforeAppendModelHook = (*TrainingImageSchema)(nil)

func (s *TrainingImageSchema) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

var _ bun.AfterCreateTableHook = (*MaintenanceAlertSchema)(nil)

// AfterCreateTable enforces at most one open predicted-failure alert per equipment.
func (*MaintenanceAlertSchema) AfterCreateTable(ctx context.Context, query *bun.CreateTableQuery) error {
	_, err := query.DB().ExecContext(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS maintenance_alert_open_idx ON maintenance_alert (equipment_id, type)
		WHERE status IN ('%s', '%s')`,
		models.AlertStatusPending, models.AlertStatusInProgress,
	))
	return err
}

var _ bun.AfterCreateTableHook = (*MaintenanceSchema)(nil)

func (*MaintenanceSchema) AfterCreateTable(ctx context.Context, query *bun.CreateTableQuery) error {
	_, err := query.DB().NewCreateIndex().
		Model((*MaintenanceSchema)(nil)).
		Index("maintenance_equipment_id_idx").
		Column("equipment_id").
		IfNotExists().
		Exec(ctx)
	return err
}

var _ bun.AfterCreateTableHook = (*TrainingImageSchema)(nil)

func (*TrainingImageSchema) AfterCreateTable(ctx context.Context, query *bun.CreateTableQuery) error {
	_, err := query.DB().NewCreateIndex().
		Model((*TrainingImageSchema)(nil)).
		Index("training_image_equipment_id_idx").
		Column("equipment_id").
		IfNotExists().
		Exec(ctx)
	return err
}

// tableList is ordered so that referenced tables are created first.
var tableList = []any{
	&CategorySchema{},
	&LaboratorySchema{},
	&EquipmentSchema{},
	&MaintenanceTypeSchema{},
	&MaintenanceSchema{},
	&LoanSchema{},
	&MaintenanceAlertSchema{},
	&TrainingImageSchema{},
}

// CreateSchema creates the tables the ML core reads and writes. Existing tables are left
// untouched.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, schema := range tableList {
		_, err := db.NewCreateTable().
			Model(schema).
			IfNotExists().
			WithForeignKeys().
			Exec(ctx)
		if err != nil {
			// bun still trying to create indexes despite IfNotExists flag
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("error creating table for schema %T: %w", schema, err)
		}
	}
	return nil
}

// NewPostgresConn opens a pooled connection to the application database.
func NewPostgresConn(cfg *config.Config) (*bun.DB, error) {
	if cfg.Store.Postgres.DSN == "" {
		return nil, models.NewInvalidInputError("store.postgres.dsn is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	maxOpenConns := 4 * runtime.GOMAXPROCS(0)
	sqldb := sql.OpenDB(
		pgdriver.NewConnector(
			pgdriver.WithDSN(cfg.Store.Postgres.DSN),
			pgdriver.WithReadTimeout(time.Minute),
		),
	)
	sqldb.SetMaxOpenConns(maxOpenConns)
	sqldb.SetMaxIdleConns(maxOpenConns)

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		return nil, models.NewDatabaseError("connect", err)
	}
	return db, nil
}
