package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"marketstore/internal/economy"
	"marketstore/internal/model"
	"marketstore/internal/service"
	"marketstore/pkg/apierror"
	"marketstore/pkg/logger"
	"marketstore/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fail maps domain errors to API errors; anything unexpected is logged and
// reported as an internal error.
func fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var apiErr *apierror.Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, service.ErrDoesNotExist):
		apiErr = apierror.NotFound(err.Error())
	case errors.Is(err, service.ErrTooExpensive), errors.Is(err, economy.ErrInsufficientFunds):
		apiErr = apierror.PaymentRequired(err.Error())
	case errors.Is(err, model.ErrInvalidListing):
		apiErr = apierror.BadRequest(err.Error())
	default:
		logger.FromContext(r.Context(), log).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		apiErr = apierror.InternalError("")
	}
	response.Error(w, apiErr)
}

// uuidParam parses the URL parameter name as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apierror.ValidationError("invalid "+name, apierror.FieldError{Field: name, Message: "must be a UUID"})
	}
	return id, nil
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierror.BadRequest("invalid JSON: " + err.Error())
	}
	return nil
}
