// Package web holds the HTTP plumbing shared by the domain handlers:
// the result envelope, error mapping, request decoding and authentication.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"campuslib/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

var (
	errBadJSON = apperr.Validation("invalid_body", "request body is not valid JSON")
	errBadID   = apperr.Validation("invalid_id", "invalid identifier")
)

// JSON writes a successful envelope.
func JSON(w http.ResponseWriter, status int, message string, data interface{}) {
	write(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Error writes a failed envelope for err. Errors outside the taxonomy are
// logged and reported with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(apperr.KindOf(err))
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	_, msg := apperr.Result(err)
	write(w, status, Envelope{Success: false, Message: msg})
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindRule:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadJSON.WithDetail("%v", err)
	}
	return nil
}

// DecodeOptional is Decode for endpoints whose body may be empty.
func DecodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return Decode(r, v)
}

// IDParam parses the named chi URL parameter as a UUID.
func IDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errBadID.WithDetail("%s", name)
	}
	return id, nil
}
