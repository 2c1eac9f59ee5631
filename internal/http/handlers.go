package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/booking"
	"github.com/robertarktes/travel-bookings-and-payments/internal/config"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/idempotency"
	"github.com/robertarktes/travel-bookings-and-payments/internal/payment"
)

type Handlers struct {
	cfg      *config.Config
	commands *booking.Service
	queries  *booking.Queries
	payments *payment.Engine
	idemp    *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, commands *booking.Service, queries *booking.Queries, payments *payment.Engine, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{
		cfg:      cfg,
		commands: commands,
		queries:  queries,
		payments: payments,
		idemp:    idemp,
	}
}

// requesterID is the opaque identity supplied by the authentication layer.
func requesterID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrReservationConflict):
		http.Error(w, "could not reserve: resource is currently unavailable", http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrRefundValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) {
			http.Error(w, "payment failed: "+gwErr.Code, http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		Type           domain.BookingType `json:"type"`
		TotalAmount    float64            `json:"totalAmount"`
		Currency       string             `json:"currency"`
		ProductDetails json.RawMessage    `json:"productDetails"`
		SagaID         string             `json:"sagaId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.commands.CreateBooking(r.Context(), booking.CreateBookingCommand{
		UserID:         requesterID(r),
		Type:           req.Type,
		TotalAmount:    req.TotalAmount,
		Currency:       req.Currency,
		ProductDetails: req.ProductDetails,
		SagaID:         req.SagaID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"bookingId": b.ID,
		"reference": b.Reference,
		"sagaId":    b.SagaID,
		"status":    b.Status,
		"expiresAt": b.ReservationExpiresAt,
	})
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *Handlers) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	b, err := h.commands.ConfirmBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}
	b, err := h.commands.CancelBooking(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Provider string            `json:"provider"`
		Token    string            `json:"token"`
		Extra    map[string]string `json:"extra"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pay, err := h.commands.ProcessPayment(r.Context(), id, payment.Method{
		Provider: req.Provider,
		Token:    req.Token,
		Extra:    req.Extra,
	})
	if err != nil && pay == nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	switch pay.Status {
	case domain.PaymentCompleted:
	case domain.PaymentPending, domain.PaymentProcessing:
		status = http.StatusAccepted
	default:
		status = http.StatusPaymentRequired
	}
	data := writeJSON(w, status, map[string]interface{}{
		"paymentId": pay.ID,
		"reference": pay.Reference,
		"status":    pay.Status,
		"provider":  pay.Provider,
	})
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: data})
}

func (h *Handlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginalTransactionID uuid.UUID `json:"originalTransactionId"`
		Amount                *float64  `json:"amount"`
		Reason                string    `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txn, err := h.payments.ProcessRefund(r.Context(), req.OriginalTransactionID, req.Amount, req.Reason)
	if err != nil && txn == nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	switch txn.Status {
	case domain.PaymentCompleted:
	case domain.PaymentPending, domain.PaymentProcessing:
		status = http.StatusAccepted
	default:
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, map[string]interface{}{
		"transactionId": txn.ID,
		"amount":        txn.Amount,
		"status":        txn.Status,
	})
}

func (h *Handlers) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	result, err := h.payments.Reconcile(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func bookingResponse(b *domain.Booking) map[string]interface{} {
	resp := map[string]interface{}{
		"bookingId": b.ID,
		"reference": b.Reference,
		"sagaId":    b.SagaID,
		"type":      b.Type,
		"status":    b.Status,
		"sagaState": b.SagaState,
		"amount":    b.TotalAmount,
		"currency":  b.Currency,
	}
	if b.ConfirmationNumber != nil {
		resp["confirmationNumber"] = *b.ConfirmationNumber
	}
	if b.CancellationReason != nil {
		resp["cancellationReason"] = *b.CancellationReason
	}
	return resp
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	b, err := h.queries.GetByID(r.Context(), id, requesterID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) GetBookingByReference(w http.ResponseWriter, r *http.Request) {
	b, err := h.queries.GetByReference(r.Context(), chi.URLParam(r, "reference"), requesterID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) GetBookingBySagaID(w http.ResponseWriter, r *http.Request) {
	b, err := h.queries.GetBySagaID(r.Context(), chi.URLParam(r, "sagaID"), requesterID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) GetUserBookings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if requester := requesterID(r); requester != "" && requester != userID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	docs, err := h.queries.GetUserBookings(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": docs})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
