package apihandlers

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/imaging"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/recognition"
	"github.com/labmanager/labml/pkg/server/handlertools"
)

// MaxTopN bounds the number of candidates a client can ask for.
const MaxTopN = 20

// IdentifyHandler godoc
//
//	@Summary		Identify equipment in a photo
//	@Description	accepts the photo as the raw body or as the multipart field "image"
//	@Tags			recognition
//	@Accept			image/jpeg,image/png,multipart/form-data
//	@Produce		json
//	@Param			top_n	query		int	false	"Number of candidates (default 3)"
//	@Success		200		{object}	recognition.Identification
//	@Failure		400		{object}	APIError	"Bad Request"
//	@Failure		503		{object}	APIError	"No trained model"
//	@Security		Bearer
//	@Router			/api/v1/recognition/identify [post]
func IdentifyHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topN, err := handlertools.IntFromQuery[int](r, "top_n")
		if err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}
		if topN == 0 {
			topN = recognition.DefaultTopN
		}
		if topN < 1 || topN > MaxTopN {
			handlertools.RenderError(w, models.NewInvalidInputError("top_n must be between 1 and 20"), http.StatusBadRequest)
			return
		}

		data, err := handlertools.ImageFromRequest(w, r)
		if err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}

		result, err := appState.Recognizer.Identify(r.Context(), recognition.FromBytes(data), topN)
		if err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := handlertools.EncodeJSON(w, result); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// ValidateImageHandler godoc
//
//	@Summary		Check whether a photo is fit for training
//	@Tags			recognition
//	@Accept			image/jpeg,image/png,multipart/form-data
//	@Produce		json
//	@Success		200	{object}	imaging.QualityReport
//	@Failure		400	{object}	APIError	"Bad Request"
//	@Security		Bearer
//	@Router			/api/v1/recognition/validate [post]
func ValidateImageHandler(_ *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := handlertools.ImageFromRequest(w, r)
		if err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}

		if err := handlertools.EncodeJSON(w, imaging.ValidateImageBytes(data)); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// TrainRecognitionHandler godoc
//
//	@Summary		Train the recognizer on the stored training photos
//	@Tags			recognition
//	@Accept			json
//	@Produce		json
//	@Param			async	query		bool						false	"Run on the task router"
//	@Param			options	body		recognition.TrainOptions	false	"Per-run overrides"
//	@Success		200		{object}	recognition.TrainMetrics
//	@Success		202		{object}	TaskAccepted
//	@Failure		409		{object}	APIError	"Training in progress"
//	@Failure		422		{object}	APIError	"Insufficient data"
//	@Security		Bearer
//	@Router			/api/v1/recognition/train [post]
func TrainRecognitionHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts recognition.TrainOptions
		if err := handlertools.DecodeJSON(r, &opts); err != nil {
			handlertools.RenderError(w, err, http.StatusBadRequest)
			return
		}
		if err := validate.Struct(opts); err != nil {
			handlertools.RenderError(w, models.NewInvalidInputError(err.Error()), http.StatusBadRequest)
			return
		}

		if handled := publishIfAsync(w, r, appState, models.RecognitionTrainTopic, opts); handled {
			return
		}

		metrics, err := appState.Recognizer.TrainFromStore(r.Context(), opts)
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

// GetRecognitionStatusHandler godoc
//
//	@Summary		Recognizer status
//	@Tags			recognition
//	@Produce		json
//	@Success		200	{object}	recognition.Status
//	@Security		Bearer
//	@Router			/api/v1/recognition/status [get]
func GetRecognitionStatusHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := handlertools.EncodeJSON(w, appState.Recognizer.Status()); err != nil {
			handlertools.RenderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// publishIfAsync publishes the task and answers 202 when the request asks for ?async=true.
// It reports whether the response has been written.
func publishIfAsync(
	w http.ResponseWriter,
	r *http.Request,
	appState *app.AppState,
	topic models.TaskTopic,
	payload any,
) bool {
	async, err := handlertools.BoolFromQuery(r, "async")
	if err != nil {
		handlertools.RenderError(w, err, http.StatusBadRequest)
		return true
	}
	if !async {
		return false
	}
	if appState.TaskPublisher == nil {
		handlertools.RenderError(w, models.NewUnavailableError("tasks", "task router is not running"), http.StatusServiceUnavailable)
		return true
	}

	requestID := middleware.GetReqID(r.Context())
	if err := appState.TaskPublisher.Publish(topic, map[string]string{"request_id": requestID}, payload); err != nil {
		handlertools.RenderError(w, err, http.StatusInternalServerError)
		return true
	}

	w.WriteHeader(http.StatusAccepted)
	if err := handlertools.EncodeJSON(w, TaskAccepted{Task: string(topic), Status: "queued", RequestID: requestID}); err != nil {
		log.Errorf("failed to encode task response: %v", err)
	}
	return true
}
