package apihandlers

import (
	"net/http"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/labmanager/labml/pkg/app"
)

// GetMetricsHandler godoc
//
//	@Summary		Inference and training counters of all components
//	@Tags			metrics
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		Bearer
//	@Router			/api/v1/metrics [get]
func GetMetricsHandler(appState *app.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		gometrics.WriteJSONOnce(appState.Metrics, w)
	}
}
