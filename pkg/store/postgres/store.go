// Package postgres is the bun-backed data access layer for the rows the ML core reads
// and writes: equipment history, maintenance alerts and training photos.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/uptrace/bun"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/models"
)

var log = internal.GetLogger()

var _ models.Store = (*Store)(nil)

// Store implements models.Store. Every call takes a pooled connection; nothing is held
// across calls.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ActiveEquipmentHistory aggregates the history of every equipment that is not
// decommissioned, ordered by id.
func (s *Store) ActiveEquipmentHistory(ctx context.Context) ([]models.EquipmentHistory, error) {
	var equipment []EquipmentSchema
	err := s.db.NewSelect().
		Model(&equipment).
		Where("status != ?", models.EquipmentStatusDecommissioned).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, models.NewDatabaseError("select equipment", err)
	}
	return s.aggregate(ctx, equipment)
}

// EquipmentHistoryByID aggregates the history of one equipment.
func (s *Store) EquipmentHistoryByID(ctx context.Context, equipmentID int64) (*models.EquipmentHistory, error) {
	var equipment EquipmentSchema
	err := s.db.NewSelect().
		Model(&equipment).
		Where("id = ?", equipmentID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("equipment")
		}
		return nil, models.NewDatabaseError("select equipment", err)
	}
	history, err := s.aggregate(ctx, []EquipmentSchema{equipment})
	if err != nil {
		return nil, err
	}
	return &history[0], nil
}

type maintenanceRow struct {
	EquipmentID   int64      `bun:"equipment_id"`
	Cost          *float64   `bun:"cost"`
	DowntimeHours *float64   `bun:"downtime_hours"`
	CompletedAt   *time.Time `bun:"completed_at"`
	IsPreventive  bool       `bun:"is_preventive"`
}

type loanCount struct {
	EquipmentID int64 `bun:"equipment_id"`
	Count       int   `bun:"count"`
}

// aggregate joins completed maintenance and loan counts onto the equipment rows.
func (s *Store) aggregate(ctx context.Context, equipment []EquipmentSchema) ([]models.EquipmentHistory, error) {
	if len(equipment) == 0 {
		return []models.EquipmentHistory{}, nil
	}
	ids := make([]int64, len(equipment))
	for i, e := range equipment {
		ids[i] = e.ID
	}

	var maint []maintenanceRow
	err := s.db.NewSelect().
		TableExpr("maintenance AS m").
		Join("JOIN maintenance_type AS mt ON mt.id = m.maintenance_type_id").
		ColumnExpr("m.equipment_id, m.cost, m.downtime_hours, m.completed_at, mt.is_preventive").
		Where("m.status = ?", MaintenanceStatusCompleted).
		Where("m.equipment_id IN (?)", bun.In(ids)).
		Scan(ctx, &maint)
	if err != nil {
		return nil, models.NewDatabaseError("select maintenance", err)
	}

	var loans []loanCount
	err = s.db.NewSelect().
		Model((*LoanSchema)(nil)).
		ColumnExpr("equipment_id, COUNT(*) AS count").
		Where("equipment_id IN (?)", bun.In(ids)).
		Group("equipment_id").
		Scan(ctx, &loans)
	if err != nil {
		return nil, models.NewDatabaseError("count loans", err)
	}

	type acc struct {
		count, costN, downN int
		cost, down          float64
		last                *time.Time
		corrective          bool
	}
	stats := make(map[int64]*acc, len(equipment))
	for _, m := range maint {
		a := stats[m.EquipmentID]
		if a == nil {
			a = &acc{}
			stats[m.EquipmentID] = a
		}
		a.count++
		if m.Cost != nil {
			a.cost += *m.Cost
			a.costN++
		}
		if m.DowntimeHours != nil {
			a.down += *m.DowntimeHours
			a.downN++
		}
		if m.CompletedAt != nil && (a.last == nil || m.CompletedAt.After(*a.last)) {
			t := *m.CompletedAt
			a.last = &t
		}
		if !m.IsPreventive {
			a.corrective = true
		}
	}
	loansByID := make(map[int64]int, len(loans))
	for _, l := range loans {
		loansByID[l.EquipmentID] = l.Count
	}

	out := make([]models.EquipmentHistory, len(equipment))
	for i, e := range equipment {
		var h models.EquipmentHistory
		if err := copier.Copy(&h, &e); err != nil {
			return nil, err
		}
		h.LoanCount = loansByID[e.ID]
		if a := stats[e.ID]; a != nil {
			h.CompletedMaintenanceCount = a.count
			h.LastMaintenanceAt = a.last
			h.HasCorrectiveMaintenance = a.corrective
			if a.costN > 0 {
				mean := a.cost / float64(a.costN)
				h.MeanMaintenanceCost = &mean
			}
			if a.downN > 0 {
				mean := a.down / float64(a.downN)
				h.MeanDowntimeHours = &mean
			}
		}
		out[i] = h
	}
	return out, nil
}

// CreateAlertIfAbsent inserts the alert unless an open alert of the same type exists for
// the equipment. The check and insert share a transaction; a concurrent insert that wins
// the race trips the partial unique index and is reported as not created.
func (s *Store) CreateAlertIfAbsent(ctx context.Context, alert *models.MaintenanceAlert) (bool, error) {
	created := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*MaintenanceAlertSchema)(nil)).
			Where("equipment_id = ?", alert.EquipmentID).
			Where("type = ?", alert.Type).
			Where("status IN (?)", bun.In(models.OpenAlertStatuses)).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		var row MaintenanceAlertSchema
		if err := copier.Copy(&row, alert); err != nil {
			return err
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return err
		}
		alert.ID = row.ID
		created = true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			log.Debugf("open alert for equipment %d created concurrently", alert.EquipmentID)
			return false, nil
		}
		return false, models.NewDatabaseError("insert maintenance alert", err)
	}
	return created, nil
}

// ListAlerts returns the alerts of one equipment, newest first. A zero equipmentID lists
// all alerts.
func (s *Store) ListAlerts(ctx context.Context, equipmentID int64) ([]models.MaintenanceAlert, error) {
	var rows []MaintenanceAlertSchema
	q := s.db.NewSelect().Model(&rows).Order("id DESC")
	if equipmentID != 0 {
		q = q.Where("equipment_id = ?", equipmentID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, models.NewDatabaseError("select maintenance alerts", err)
	}
	alerts := make([]models.MaintenanceAlert, 0, len(rows))
	if err := copier.Copy(&alerts, &rows); err != nil {
		return nil, err
	}
	return alerts, nil
}

// RecognitionDataset groups every training photo by equipment, ordered by equipment id
// and then image id.
func (s *Store) RecognitionDataset(ctx context.Context) ([]models.EquipmentImages, error) {
	var images []TrainingImageSchema
	err := s.db.NewSelect().
		Model(&images).
		Relation("Equipment").
		Relation("Equipment.Category").
		Order("ti.equipment_id ASC", "ti.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, models.NewDatabaseError("select training images", err)
	}

	byEquipment := map[int64]*models.EquipmentImages{}
	for _, img := range images {
		group := byEquipment[img.EquipmentID]
		if group == nil {
			group = &models.EquipmentImages{EquipmentID: img.EquipmentID}
			if img.Equipment != nil {
				group.Code = img.Equipment.Code
				group.Name = img.Equipment.Name
				if img.Equipment.Category != nil {
					group.Category = img.Equipment.Category.Name
				}
			}
			byEquipment[img.EquipmentID] = group
		}
		group.Images = append(group.Images, models.TrainingImage{ID: img.ID, Path: img.Path})
	}

	out := make([]models.EquipmentImages, 0, len(byEquipment))
	for _, g := range byEquipment {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EquipmentID < out[j].EquipmentID })
	return out, nil
}

// MarkTrainingImages sets the status of the given photos.
func (s *Store) MarkTrainingImages(ctx context.Context, imageIDs []int64, status models.TrainingImageStatus) error {
	if len(imageIDs) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().
		Model((*TrainingImageSchema)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id IN (?)", bun.In(imageIDs)).
		Exec(ctx)
	if err != nil {
		return models.NewDatabaseError("update training images", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
