package models

import "context"

// MaintenanceDataSource supplies the tabular equipment history. Implementations
// return NotFoundError from EquipmentHistoryByID for unknown ids.
type MaintenanceDataSource interface {
	ActiveEquipmentHistory(ctx context.Context) ([]EquipmentHistory, error)
	EquipmentHistoryByID(ctx context.Context, equipmentID int64) (*EquipmentHistory, error)
}

// AlertSink accepts alerts. CreateAlertIfAbsent inserts the alert unless an open alert of
// the same type already exists for the equipment, and reports whether a row was written.
type AlertSink interface {
	CreateAlertIfAbsent(ctx context.Context, alert *MaintenanceAlert) (bool, error)
}

// AlertLister reads back raised alerts, newest first. A zero equipmentID lists all.
type AlertLister interface {
	ListAlerts(ctx context.Context, equipmentID int64) ([]MaintenanceAlert, error)
}

// TrainingImageStore exposes the recognizer's labeled photos.
type TrainingImageStore interface {
	RecognitionDataset(ctx context.Context) ([]EquipmentImages, error)
	MarkTrainingImages(ctx context.Context, imageIDs []int64, status TrainingImageStatus) error
}

// Store is the full data-access surface used by the application.
type Store interface {
	MaintenanceDataSource
	AlertSink
	AlertLister
	TrainingImageStore
	Close() error
}
