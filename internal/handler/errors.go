package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Kind    apperr.Kind       `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:          http.StatusBadRequest,
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindForbidden:           http.StatusForbidden,
	apperr.KindConflict:            http.StatusConflict,
	apperr.KindIllegalTransition:   http.StatusUnprocessableEntity,
	apperr.KindCapacityExceeded:    http.StatusConflict,
	apperr.KindUpstreamUnavailable: http.StatusServiceUnavailable,
	apperr.KindInternal:            http.StatusInternalServerError,
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	if s, ok := kindStatus[apperr.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeErrorStatus(w, status, err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{
		Kind:    apperr.KindInternal,
		Code:    "internal",
		Message: "internal error",
	}
	if e, ok := apperr.As(err); ok {
		resp = errorResponse{Kind: e.Kind, Code: e.Code, Message: e.Message, Fields: e.Fields}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errMalformedBody = apperr.New(apperr.KindValidation, "request.malformed", "malformed request body")

type validatable interface {
	validate() error
}

// decodeJSON decodes a request body and applies its schema constraints.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errMalformedBody.Wrap(err)
	}
	if vv, ok := v.(validatable); ok {
		return vv.validate()
	}
	return nil
}
