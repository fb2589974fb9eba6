package tenant

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/requestinfo"
	"github.com/caresuite/hospital/internal/view"
)

// errorBody is the JSON shape of every resolution failure.
type errorBody struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// WriteError converts err into the JSON or HTML error response.  Errors
// that are not *Error are reported as SystemUnavailable, so driver
// messages never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	te := AsError(err)
	status := te.Status()

	if requestinfo.WantsJSON(r) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		if encErr := json.NewEncoder(w).Encode(errorBody{
			Message:     te.Message,
			RedirectURL: te.RedirectURL,
		}); encErr != nil {
			zap.L().Debug("error response write failed", zap.Error(encErr))
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	view.RenderError(w, status, view.ErrorPage{
		Title:           te.Kind.Title(),
		Message:         te.Message,
		RegistrationURL: te.RedirectURL,
		CurrentDomain:   te.Domain,
	})
}
