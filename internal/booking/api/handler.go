// Package api exposes the booking core over HTTP. Authentication lives at the
// gateway; handlers trust the user id it injects in the X-User-ID header.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ticketly/internal/booking"
	"ticketly/internal/inventory"
	"ticketly/internal/ledger"
	"ticketly/internal/logger"
	"ticketly/internal/models"
	"ticketly/internal/notification"
	"ticketly/internal/settlement"
	"ticketly/internal/sse"
	"ticketly/internal/trending"
	"ticketly/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
)

const userIDHeader = "X-User-ID"

type Handler struct {
	Inventory     *inventory.Service
	Ledger        *ledger.Service
	Settlement    *settlement.Service
	Trending      *trending.Service
	Notifications *notification.Service
	Streams       *sse.Hub // nil disables the live notification stream
	Respond       *utils.Responder
	Logger        *logger.Logger
}

func NewHandler(inv *inventory.Service, led *ledger.Service, set *settlement.Service,
	tr *trending.Service, notif *notification.Service, streams *sse.Hub,
	clock clockwork.Clock, log *logger.Logger) *Handler {
	return &Handler{
		Inventory:     inv,
		Ledger:        led,
		Settlement:    set,
		Trending:      tr,
		Notifications: notif,
		Streams:       streams,
		Respond:       utils.NewResponder(clock),
		Logger:        log,
	}
}

// Routes mounts every booking endpoint on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Post("/tickets", h.ReserveTicket)
		r.Get("/availability", h.GetAvailability)
		r.Post("/settle", h.SettleTickets)
		r.Post("/views", h.RecordView)
		r.Get("/trending", h.GetTrendingLog)
		r.Post("/notifications", h.NotifyEventUpdate)
	})

	r.Route("/tickets/{ticketID}", func(r chi.Router) {
		r.Get("/", h.GetTicket)
		r.Post("/checkin", h.CheckinTicket)
		r.Delete("/", h.DeleteTicket)
	})

	r.Route("/payments/{paymentID}", func(r chi.Router) {
		r.Get("/", h.GetPayment)
		r.Patch("/status", h.UpdatePaymentStatus)
	})

	r.Get("/trending/leaderboard", h.GetLeaderboard)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotifications)
		r.Get("/stream", h.StreamNotifications)
		r.Post("/{notificationID}/refanout", h.RefanoutNotification)
		r.Post("/{notificationID}/read", h.MarkNotificationRead)
	})

	return r
}

func (h *Handler) ReserveTicket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("reservation rejected", "missing "+userIDHeader+" header"))
		return
	}

	ticket, err := h.Inventory.Reserve(r.Context(), eventID, userID)
	if err != nil {
		h.writeError(w, "reservation failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.Respond.Success("ticket reserved", ticket))
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	remaining, err := h.Inventory.Remaining(r.Context(), eventID)
	if err != nil {
		h.writeError(w, "availability lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("availability", map[string]interface{}{
		"event_id":  eventID,
		"remaining": remaining,
	}))
}

func (h *Handler) SettleTickets(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("settlement rejected", "missing "+userIDHeader+" header"))
		return
	}

	var req models.SettleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("settlement rejected", "invalid request body: "+err.Error()))
			return
		}
	}

	payment, err := h.Settlement.Settle(r.Context(), userID, eventID, req.DiscountCode)
	if err != nil {
		h.writeError(w, "settlement failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.Respond.Success("tickets settled", payment))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.writeError(w, "ticket lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("ticket", ticket))
}

func (h *Handler) CheckinTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	if err := h.Ledger.CheckIn(r.Context(), ticketID); err != nil {
		h.writeError(w, "check-in failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("ticket checked in", map[string]string{"ticket_id": ticketID}))
}

func (h *Handler) DeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Delete(r.Context(), chi.URLParam(r, "ticketID")); err != nil {
		h.writeError(w, "ticket deletion failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Settlement.GetPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, "payment lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("payment", payment))
}

func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	var req models.PaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("payment update rejected", "invalid request body: "+err.Error()))
		return
	}

	payment, err := h.Settlement.FlipPaymentStatus(r.Context(), paymentID, req.Settled)
	if err != nil {
		h.writeError(w, "payment update failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("payment updated", payment))
}

func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if err := h.Trending.RecordView(r.Context(), eventID); err != nil {
		h.writeError(w, "view tracking failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("view recorded", map[string]string{"event_id": eventID}))
}

func (h *Handler) GetTrendingLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.Trending.Log(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeError(w, "trending lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("trending log", log))
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("leaderboard rejected", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	board, err := h.Trending.Leaderboard(r.Context(), limit)
	if err != nil {
		h.writeError(w, "leaderboard failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("leaderboard", board))
}

func (h *Handler) NotifyEventUpdate(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req models.EventUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("notification rejected", "invalid request body: "+err.Error()))
		return
	}
	if req.Title == "" || req.Message == "" {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("notification rejected", "title and message are required"))
		return
	}

	notif, err := h.Notifications.FanOutEventUpdate(r.Context(), eventID, req.Title, req.Message)
	if err != nil {
		h.writeError(w, "notification fanout failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.Respond.Success("notification fanned out", notif))
}

func (h *Handler) RefanoutNotification(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "notificationID")
	if err := h.Notifications.Refanout(r.Context(), notificationID); err != nil {
		h.writeError(w, "notification refanout failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("notification re-fanned", map[string]string{"notification_id": notificationID}))
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("listing rejected", "missing "+userIDHeader+" header"))
		return
	}

	notifs, err := h.Notifications.ListForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, "notification listing failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("notifications", notifs))
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("mark read rejected", "missing "+userIDHeader+" header"))
		return
	}

	notificationID := chi.URLParam(r, "notificationID")
	if err := h.Notifications.MarkRead(r.Context(), notificationID, userID); err != nil {
		h.writeError(w, "mark read failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Respond.Success("notification marked read", map[string]string{"notification_id": notificationID}))
}

// StreamNotifications holds the connection open and pushes the user's
// notifications as server-sent events until the client disconnects.
func (h *Handler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, h.Respond.Error("stream rejected", "missing "+userIDHeader+" header"))
		return
	}
	if h.Streams == nil {
		h.writeJSON(w, http.StatusNotFound, h.Respond.Error("stream rejected", "live notifications are not enabled"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeJSON(w, http.StatusInternalServerError, h.Respond.Error("stream rejected", "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for msg := range h.Streams.Subscribe(r.Context(), userID) {
		payload, err := json.Marshal(msg)
		if err != nil {
			h.Logger.Error("API", fmt.Sprintf("encode stream message: %v", err))
			continue
		}
		fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
		flusher.Flush()
	}
}

// writeError translates domain errors into HTTP statuses and logs everything
// unexpected.
func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, booking.ErrEventNotFound),
		errors.Is(err, booking.ErrTicketNotFound),
		errors.Is(err, booking.ErrUserNotFound),
		errors.Is(err, booking.ErrPaymentNotFound),
		errors.Is(err, booking.ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, booking.ErrCapacityExceeded),
		errors.Is(err, booking.ErrAlreadyCheckedIn),
		errors.Is(err, booking.ErrInventoryRace):
		status = http.StatusConflict
	case errors.Is(err, booking.ErrNoUnpaidTickets),
		errors.Is(err, booking.ErrNotPaid),
		errors.Is(err, booking.ErrEventInactive):
		status = http.StatusUnprocessableEntity
	default:
		if _, ok := booking.AsDiscountError(err); ok {
			status = http.StatusUnprocessableEntity
		}
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", message, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", message, err))
	}
	h.writeJSON(w, status, h.Respond.Error(message, err.Error()))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("encode response: %v", err))
	}
}
