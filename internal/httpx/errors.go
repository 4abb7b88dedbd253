package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-preorders/internal/catalog"
	"github.com/ariefcatur/go-preorders/internal/preorders"
	"github.com/ariefcatur/go-preorders/internal/sales"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{preorders.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
	{preorders.ErrDeliveryDateInPast, http.StatusBadRequest, "VALIDATION_ERROR"},
	{preorders.ErrDailyLimitReached, http.StatusBadRequest, "VALIDATION_ERROR"},
	{preorders.ErrDuplicateProduct, http.StatusBadRequest, "VALIDATION_ERROR"},

	{preorders.ErrPreorderNotFound, http.StatusNotFound, "NOT_FOUND"},
	{preorders.ErrNoPreorders, http.StatusNotFound, "NOT_FOUND"},
	{preorders.ErrNoPendingPreorder, http.StatusNotFound, "NOT_FOUND"},
	{catalog.ErrCustomerNotFound, http.StatusNotFound, "NOT_FOUND"},
	{catalog.ErrProductNotFound, http.StatusNotFound, "NOT_FOUND"},
	{catalog.ErrStockNotFound, http.StatusNotFound, "NOT_FOUND"},
	{sales.ErrSaleNotFound, http.StatusNotFound, "NOT_FOUND"},

	{preorders.ErrVersionConflict, http.StatusConflict, "CONFLICT"},
	{preorders.ErrNotPending, http.StatusConflict, "CONFLICT"},
	{preorders.ErrInvalidTransition, http.StatusConflict, "CONFLICT"},
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Message:   message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeServiceError maps a service error to its HTTP status. Unknown errors
// are logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, r, e.status, e.code, err.Error())
			return
		}
	}
	log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json: "+err.Error())
		return false
	}
	return true
}
