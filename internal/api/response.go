package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// fallbackErrorBody is the models.Error envelope sent when a response cannot be encoded.
const fallbackErrorBody = `{"status":"error","message":"Internal server error"}`

// writeSuccess sends result wrapped in a models.Success envelope.
func writeSuccess(w http.ResponseWriter, statusCode int, result interface{}) {
	writeEnvelope(w, statusCode, models.Success(result))
}

// writeError sends message wrapped in a models.Error envelope.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeEnvelope(w, statusCode, models.Error(message))
}

// writeEnvelope encodes resp before touching headers, so an encoding failure
// still yields a well-formed 500.
func writeEnvelope(w http.ResponseWriter, statusCode int, resp models.APIResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Server.writeEnvelope: failed to encode response", "error", err, "status", resp.Status)
		body = []byte(fallbackErrorBody)
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeEnvelope: failed to write response", "error", err)
	}
}
