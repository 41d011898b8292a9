package apihandlers

import (
	"net/http"

	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/intent"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/server/handlertools"
)

type ClassifyRequest struct {
	Text string `json:"text" validate:"max=4000"`
}

type RetrainRequest struct {
	Examples map[intent.Intent][]string `json:"examples" validate:"required,min=1,dive,min=1,dive,required"`
}

type RetrainResponse struct {
	Success bool          `json:"success"`
	Status  intent.Status `json:"status"`
}

// ClassifyIntentHandler godoc
//
//	@Summary		Classify an utterance
//	@Description	returns the intent, confidence, canned response, entities and action
//	@Tags			intent
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ClassifyRequest	true	"Utterance"
//	@Success		200		{object}	intent.Result
//	@Failure		400		{object}	APIError	"Bad Request"
//	@Security		Bearer
//	@Router			/api/v1/intent/classify [post]
func ClassifyIntentHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ClassifyRequest
		if err := handlertools.DecodeJSON(r, &req); err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			handlertools.RenderError(w, models.NewInvalidInputError(err.Error()), http.StatusBadRequest)
			return
		}

		result := appState.Intent.Handle(req.Text)

		if err := handlertools.EncodeJSON(w, result); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// GetIntentStatusHandler godoc
//
//	@Summary		Intent classifier status
//	@Tags			intent
//	@Produce		json
//	@Success		200	{object}	intent.Status
//	@Security		Bearer
//	@Router			/api/v1/intent/status [get]
func GetIntentStatusHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := handlertools.EncodeJSON(w, appState.Intent.Status()); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// RetrainIntentHandler godoc
//
//	@Summary		Retrain the intent classifier
//	@Description	adds examples to the built-in set and retrains; the current model is kept on failure
//	@Tags			intent
//	@Accept			json
//	@Produce		json
//	@Param			request	body		RetrainRequest	true	"Additional examples per intent"
//	@Success		200		{object}	RetrainResponse
//	@Failure		400		{object}	APIError	"Bad Request"
//	@Failure		500		{object}	RetrainResponse
//	@Security		Bearer
//	@Router			/api/v1/intent/retrain [post]
func RetrainIntentHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RetrainRequest
		if err := handlertools.DecodeJSON(r, &req); err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			handlertools.RenderError(w, models.NewInvalidInputError(err.Error()), http.StatusBadRequest)
			return
		}

		ok := appState.Intent.Retrain(req.Examples)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
		}
		if err := handlertools.EncodeJSON(w, RetrainResponse{Success: ok, Status: appState.Intent.Status()}); err != nil {
			log.Errorf("failed to encode retrain response: %v", err)
		}
	}
}
