package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
)

// successEnvelope wraps every 2xx JSON body.
type successEnvelope struct {
	Status  string `json:"status"`
	Token   string `json:"token,omitempty"`
	Results *int   `json:"results,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// errorEnvelope wraps every 4xx/5xx JSON body.
type errorEnvelope struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
	Detail  string              `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, successEnvelope{Status: "success", Data: data})
}

// writeList adds the result count the list endpoints report.
func writeList(w http.ResponseWriter, code, n int, data any) {
	writeJSON(w, code, successEnvelope{Status: "success", Results: &n, Data: data})
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, successEnvelope{Status: "success", Message: msg})
}

func writeFail(w http.ResponseWriter, code int, msg string, fields []apperr.FieldError) {
	status := "fail"
	if code >= http.StatusInternalServerError {
		status = "error"
	}
	writeJSON(w, code, errorEnvelope{Status: status, Message: msg, Errors: fields})
}

// fail maps err onto the status taxonomy. Unclassified errors are logged and
// reduced to a generic message unless the API runs in development mode.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code int
		msg  = err.Error()
	)
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidInput):
		code = http.StatusBadRequest
		if fields := apperr.FieldErrors(err); len(fields) > 0 {
			writeFail(w, code, "validation failed", fields)
			return
		}
	default:
		a.logger.Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		env := errorEnvelope{Status: "error", Message: "internal server error"}
		if a.dev {
			env.Detail = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, env)
		return
	}
	writeFail(w, code, msg, nil)
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.Invalid("request body is required")
		case errors.As(err, &maxErr):
			return apperr.Invalid("request body exceeds %d bytes", maxErr.Limit)
		default:
			return apperr.Invalid("invalid JSON body: %v", err)
		}
	}
	if dec.More() {
		return apperr.Invalid("request body must contain a single JSON object")
	}
	return nil
}

// pathID parses a numeric route variable.
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryID parses an optional numeric query parameter.
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid("%s must be an integer", name)
	}
	return n, nil
}

func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}
