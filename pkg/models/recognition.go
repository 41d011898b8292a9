package models

// TrainingImageStatus tracks a photo through the recognizer training lifecycle.
type TrainingImageStatus string

const (
	TrainingImagePending   TrainingImageStatus = "pending"
	TrainingImageEntrained TrainingImageStatus = "entrained"
	TrainingImageError     TrainingImageStatus = "error"
)

// TrainingImage is one labeled photo of a piece of equipment.
type TrainingImage struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// EquipmentImages groups the training photos of one equipment entity.
type EquipmentImages struct {
	EquipmentID int64           `json:"equipment_id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Images      []TrainingImage `json:"images"`
}
