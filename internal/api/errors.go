package api

import (
	"encoding/json"
	"net/http"

	xerrors "indexao/internal/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeManager:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeValidation:
		return http.StatusUnprocessableEntity
	case xerrors.CodeLoad, xerrors.CodeAdapterFailure:
		return http.StatusBadGateway
	case xerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		code = e.Code()
		status = statusFor(code)
		message = e.Message()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "error", err)
	} else {
		s.log.Warn("request rejected", "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
