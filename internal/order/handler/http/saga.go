package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// SagaStarter is the orchestrator surface exposed over HTTP.
type SagaStarter interface {
	StartCreateSaga(ctx context.Context, orderID string) (string, error)
	StartCancelSaga(ctx context.Context, orderID string) (string, error)
}

// SagaHandler handles HTTP requests for the saga entry points.
type SagaHandler struct {
	orch   SagaStarter
	logger *slog.Logger
}

// NewSagaHandler creates a new saga HTTP handler.
func NewSagaHandler(orch SagaStarter, logger *slog.Logger) *SagaHandler {
	return &SagaHandler{
		orch:   orch,
		logger: logger,
	}
}

// Routes mounts the saga entry points on a chi router.
func (h *SagaHandler) Routes(r chi.Router) {
	r.Post("/api/orders/{orderID}/saga", h.StartCreateSaga)
	r.Post("/api/orders/{orderID}/cancel-saga", h.StartCancelSaga)
}

type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sagaStartedResponse struct {
	SagaID  string `json:"saga_id"`
	OrderID string `json:"order_id"`
}

// StartCreateSaga handles POST /api/orders/{orderID}/saga
func (h *SagaHandler) StartCreateSaga(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "order id is required"},
		})
		return
	}

	sagaID, err := h.orch.StartCreateSaga(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, response{
		Data: sagaStartedResponse{SagaID: sagaID, OrderID: orderID},
	})
}

// StartCancelSaga handles POST /api/orders/{orderID}/cancel-saga
func (h *SagaHandler) StartCancelSaga(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "order id is required"},
		})
		return
	}

	sagaID, err := h.orch.StartCancelSaga(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, response{
		Data: sagaStartedResponse{SagaID: sagaID, OrderID: orderID},
	})
}

func (h *SagaHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, response{
			Error: &errorResponse{Code: appErr.Code, Message: appErr.Message},
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		writeJSON(w, status, response{
			Error: &errorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"},
		})
		return
	}

	writeJSON(w, status, response{
		Error: &errorResponse{Code: "REQUEST_REJECTED", Message: err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
