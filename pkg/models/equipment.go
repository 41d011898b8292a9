package models

import (
	"time"

	"github.com/google/uuid"
)

// PhysicalState is the condition recorded for a piece of equipment.
type PhysicalState string

const (
	PhysicalStateBad       PhysicalState = "malo"
	PhysicalStateFair      PhysicalState = "regular"
	PhysicalStateGood      PhysicalState = "bueno"
	PhysicalStateExcellent PhysicalState = "excelente"
)

// Code maps the state onto the ordinal used as a model feature: malo=1 .. excelente=4.
// Unknown states return 0.
func (s PhysicalState) Code() int {
	switch s {
	case PhysicalStateBad:
		return 1
	case PhysicalStateFair:
		return 2
	case PhysicalStateGood:
		return 3
	case PhysicalStateExcellent:
		return 4
	default:
		return 0
	}
}

// EquipmentStatusDecommissioned marks equipment excluded from analysis.
const EquipmentStatusDecommissioned = "dado_de_baja"

// EquipmentHistory is the per-equipment aggregate the maintenance engine consumes.
// Pointer fields are nil when the source column is NULL or there is no history.
type EquipmentHistory struct {
	ID                        int64         `json:"id"`
	Code                      string        `json:"code"`
	Name                      string        `json:"name"`
	CategoryID                *int64        `json:"category_id,omitempty"`
	Status                    string        `json:"status"`
	PhysicalState             PhysicalState `json:"physical_state"`
	AcquisitionDate           *time.Time    `json:"acquisition_date,omitempty"`
	AcquisitionValue          *float64      `json:"acquisition_value,omitempty"`
	UsefulLifeYears           *float64      `json:"useful_life_years,omitempty"`
	CompletedMaintenanceCount int           `json:"completed_maintenance_count"`
	MeanMaintenanceCost       *float64      `json:"mean_maintenance_cost,omitempty"`
	MeanDowntimeHours         *float64      `json:"mean_downtime_hours,omitempty"`
	LastMaintenanceAt         *time.Time    `json:"last_maintenance_at,omitempty"`
	LoanCount                 int           `json:"loan_count"`
	// HasCorrectiveMaintenance is the training target: any completed non-preventive record.
	HasCorrectiveMaintenance bool `json:"has_corrective_maintenance"`
}

type AlertType string

const AlertTypePredictedFailure AlertType = "predicted_failure"

type AlertPriority string

const (
	AlertPriorityCritical AlertPriority = "critical"
	AlertPriorityHigh     AlertPriority = "high"
)

type AlertStatus string

const (
	AlertStatusPending    AlertStatus = "pending"
	AlertStatusInProgress AlertStatus = "in_progress"
	AlertStatusResolved   AlertStatus = "resolved"
)

// OpenAlertStatuses are the statuses that count towards alert deduplication.
var OpenAlertStatuses = []AlertStatus{AlertStatusPending, AlertStatusInProgress}

// MaintenanceAlert is the row emitted by the maintenance engine.
type MaintenanceAlert struct {
	UUID        uuid.UUID     `json:"uuid"`
	ID          int64         `json:"id,omitempty"`
	EquipmentID int64         `json:"equipment_id"`
	Type        AlertType     `json:"type"`
	Description string        `json:"description"`
	Deadline    time.Time     `json:"deadline"`
	Priority    AlertPriority `json:"priority"`
	Status      AlertStatus   `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}
