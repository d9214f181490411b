/*
errors.go - Request validation and domain error rendering

STATUS MAPPING:
  400  invalid input, insufficient stock or value, over-return
  404  unknown item, event or request
  409  duplicates, guarded deletes, completed events, outstanding stock
  428  confirmation required; details list the confirmations to approve
  500  anything else, logged and reported without internals
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/event-stock/inventory"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names, not Go ones
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Let numeric tags (gte, gt) apply to decimal.Decimal
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// decodeAndValidate decodes the JSON body into dst and runs its validator
// tags. An empty body decodes to the zero value. It writes a 400 and
// returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   fmt.Sprintf("invalid %s", verrs[0].Field()),
			Field:   verrs[0].Field(),
			Details: fields,
		})
		return false
	}
	return true
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case inventory.IsConfirmationRequired(err):
		return http.StatusPreconditionRequired
	case inventory.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrConflict),
		errors.Is(err, inventory.ErrProtected),
		errors.Is(err, inventory.ErrEventCompleted),
		errors.Is(err, inventory.ErrOutstandingAllocation):
		return http.StatusConflict
	case inventory.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errorDetails exposes the structured part of a domain error.
func errorDetails(err error) any {
	var (
		confirm     *inventory.ConfirmationRequiredError
		stock       *inventory.InsufficientStockError
		value       *inventory.InsufficientValueError
		exceeds     *inventory.ExceedsAllocationError
		protected   *inventory.ProtectedError
		outstanding *inventory.OutstandingAllocationError
	)
	switch {
	case errors.As(err, &confirm):
		return map[string]any{"confirmations": toConfirmationDTOs(confirm.Confirmations)}
	case errors.As(err, &stock):
		return map[string]any{"item_id": stock.ItemID, "available": stock.Available, "requested": stock.Requested}
	case errors.As(err, &value):
		return map[string]any{"item_id": value.ItemID, "available": money(value.Available), "requested": money(value.Requested)}
	case errors.As(err, &exceeds):
		return map[string]any{"item_id": exceeds.ItemID, "event_id": exceeds.EventID, "available": exceeds.Available, "requested": exceeds.Requested}
	case errors.As(err, &protected):
		return map[string]any{"reason": protected.Reason, "blockers": protected.Blockers}
	case errors.As(err, &outstanding):
		return map[string]any{"items": outstanding.Items}
	}
	return nil
}

// writeDomainError renders err with its mapped status. Internal errors are
// logged and replaced by a generic message.
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, status, ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Field:   inventory.FieldOf(err),
		Details: errorDetails(err),
	})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
