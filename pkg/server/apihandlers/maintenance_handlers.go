package apihandlers

import (
	"net/http"

	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/server/handlertools"
)

type PredictionResponse struct {
	EquipmentID int64   `json:"equipment_id"`
	Probability float64 `json:"probability"`
}

// TrainMaintenanceHandler godoc
//
//	@Summary		Train the failure predictor
//	@Tags			maintenance
//	@Produce		json
//	@Param			async	query		bool	false	"Run on the task router"
//	@Success		200		{object}	maintenance.TrainMetrics
//	@Success		202		{object}	TaskAccepted
//	@Failure		409		{object}	APIError	"Training in progress"
//	@Failure		422		{object}	APIError	"Insufficient data"
//	@Security		Bearer
//	@Router			/api/v1/maintenance/train [post]
func TrainMaintenanceHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handled := publishIfAsync(w, r, appState, models.MaintenanceTrainTopic, nil); handled {
			return
		}

		metrics, err := appState.Maintenance.Train(r.Context())
		if err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := handlertools.EncodeJSON(w, metrics); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// PredictFailureHandler godoc
//
//	@Summary		Failure probability of one equipment
//	@Tags			maintenance
//	@Produce		json
//	@Param			equipmentId	path		int	true	"Equipment ID"
//	@Success		200			{object}	PredictionResponse
//	@Failure		404			{object}	APIError	"Not Found"
//	@Security		Bearer
//	@Router			/api/v1/maintenance/predict/{equipmentId} [get]
func PredictFailureHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := handlertools.IDFromURL(r, "equipmentId")
		if err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}

		p, err := appState.Maintenance.PredictFailure(r.Context(), id)
		if err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
		if p == nil {
			handlertools.RenderError(w, models.NewNotFoundError("equipment"), http.StatusNotFound)
			return
		}

		if err := handlertools.EncodeJSON(w, PredictionResponse{EquipmentID: id, Probability: *p}); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// AnalyzeHandler godoc
//
//	@Summary		Score all active equipment and raise alerts
//	@Tags			maintenance
//	@Produce		json
//	@Param			async	query		bool	false	"Run on the task router"
//	@Success		200		{object}	maintenance.AnalysisSummary
//	@Success		202		{object}	TaskAccepted
//	@Security		Bearer
//	@Router			/api/v1/maintenance/analyze [post]
func AnalyzeHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handled := publishIfAsync(w, r, appState, models.MaintenanceAnalyzeTopic, nil); handled {
			return
		}

		summary, err := appState.Maintenance.AnalyzeAll(r.Context())
		if err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := handlertools.EncodeJSON(w, summary); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// ListAlertsHandler godoc
//
//	@Summary		List maintenance alerts, newest first
//	@Tags			maintenance
//	@Produce		json
//	@Param			equipment_id	query		int	false	"Filter by equipment"
//	@Success		200				{array}		models.MaintenanceAlert
//	@Security		Bearer
//	@Router			/api/v1/maintenance/alerts [get]
func ListAlertsHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		equipmentID, err := handlertools.IntFromQuery[int64](r, "equipment_id")
		if err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}

		alerts, err := appState.Store.ListAlerts(r.Context(), equipmentID)
		if err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := handlertools.EncodeJSON(w, alerts); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// GetMaintenanceStatusHandler godoc
//
//	@Summary		Failure predictor status
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	maintenance.Status
//	@Security		Bearer
//	@Router			/api/v1/maintenance/status [get]
func GetMaintenanceStatusHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := handlertools.EncodeJSON(w, appState.Maintenance.Status()); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}
