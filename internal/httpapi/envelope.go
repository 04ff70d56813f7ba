package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"toastd/pkg/apperr"
	logx "toastd/pkg/logx"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

// writeError maps err to its status and public message. Errors without a
// code are reported as internal; their text never reaches the caller.
func writeError(w http.ResponseWriter, r *http.Request, log logx.Logger, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Internal(err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if meta.DetailsAllowed && typed.Message() != "" {
		msg = typed.Message()
	}

	fields := []logx.Field{
		logx.String("code", string(typed.Code())),
		logx.Int("status", meta.HTTPStatus),
		logx.Err(err),
	}
	if meta.HTTPStatus >= http.StatusInternalServerError {
		requestLogger(r, log).Error("request failed", fields...)
	} else {
		requestLogger(r, log).Debug("request rejected", fields...)
	}

	writeJSON(w, meta.HTTPStatus, errorEnvelope{Error: apiError{Code: string(typed.Code()), Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
