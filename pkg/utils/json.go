package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// MustMarshalJSON is for values whose shape is fixed at compile time, such as
// realtime notices and DLQ envelopes. It panics on failure.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}

// WriteJSONResponse writes data with statusCode. The header is already sent
// when encoding fails, so the failure is only logged.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Warn("failed to encode response body", zap.Int("status", statusCode), zap.Error(err))
	}
}
