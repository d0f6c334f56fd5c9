package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/ultransit/collector/go/internal/events"
	"github.com/ultransit/collector/go/internal/models"
	"github.com/ultransit/collector/go/internal/outbox"
	"github.com/ultransit/collector/go/internal/subscriptions"
)

// SubscriptionsApp defines what the handlers need from the subscriptions app
type SubscriptionsApp interface {
	CreateSubscription(ctx context.Context, req subscriptions.CreateSubscriptionRequest) (*models.Subscription, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, clientID, eventType string) ([]models.Subscription, error)
	UpdateSubscriptionActive(ctx context.Context, id uuid.UUID, isActive bool) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id uuid.UUID) (bool, error)
}

// OutboxReader lists event log entries for the management API
type OutboxReader interface {
	List(ctx context.Context, filter outbox.ListFilter) ([]models.EventRecord, error)
}

// VehicleReader serves vehicle position queries
type VehicleReader interface {
	LatestPositions(ctx context.Context) ([]models.VehiclePosition, error)
	ListByRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error)
	History(ctx context.Context, vehicleID string, since, until *time.Time, limit int) ([]models.VehiclePosition, error)
}

// EventSink queues a broadcast without blocking the request
type EventSink interface {
	Enqueue(eventType string, data map[string]any) error
}

// CollectionRunner kicks one data collection cycle on demand
type CollectionRunner interface {
	TriggerRun(ctx context.Context)
}

// Handler implements the management REST API
type Handler struct {
	subs      SubscriptionsApp
	outbox    OutboxReader
	vehicles  VehicleReader
	sink      EventSink
	collector CollectionRunner
}

// NewHandler creates the management API handler. collector may be nil when no
// upstream feed is configured.
func NewHandler(subs SubscriptionsApp, outboxReader OutboxReader, vehicles VehicleReader, sink EventSink, collector CollectionRunner) *Handler {
	return &Handler{
		subs:      subs,
		outbox:    outboxReader,
		vehicles:  vehicles,
		sink:      sink,
		collector: collector,
	}
}

// RegisterRoutes registers all management routes under the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/events/subscriptions", h.CreateSubscription).Methods(http.MethodPost)
	router.HandleFunc("/events/subscriptions", h.ListSubscriptions).Methods(http.MethodGet)
	router.HandleFunc("/events/subscriptions/{id}", h.GetSubscription).Methods(http.MethodGet)
	router.HandleFunc("/events/subscriptions/{id}", h.UpdateSubscription).Methods(http.MethodPut)
	router.HandleFunc("/events/subscriptions/{id}", h.DeleteSubscription).Methods(http.MethodDelete)
	router.HandleFunc("/events/event-types", h.ListEventTypes).Methods(http.MethodGet)
	router.HandleFunc("/events/log", h.ListEvents).Methods(http.MethodGet)
	router.HandleFunc("/events/history/{event_type}", h.EventHistory).Methods(http.MethodGet)
	router.HandleFunc("/events/trigger/{event_type}", h.TriggerEvent).Methods(http.MethodPost)
	router.HandleFunc("/vehicle-positions/latest", h.LatestVehiclePositions).Methods(http.MethodGet)
	router.HandleFunc("/vehicle-positions/route/{route_id}", h.VehiclePositionsByRoute).Methods(http.MethodGet)
	router.HandleFunc("/vehicle-positions/vehicle/{vehicle_id}", h.VehicleHistory).Methods(http.MethodGet)
}

// CreateSubscription handles POST /events/subscriptions
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sub, err := h.subs.CreateSubscription(r.Context(), req)
	if err != nil {
		var verr *subscriptions.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.internalError(w, err, "failed to create subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /events/subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	eventType := r.URL.Query().Get("event_type")

	subs, err := h.subs.ListSubscriptions(r.Context(), clientID, eventType)
	if err != nil {
		h.internalError(w, err, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []models.Subscription{}
	}

	writeJSON(w, http.StatusOK, subs)
}

// GetSubscription handles GET /events/subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.subs.GetSubscription(r.Context(), id)
	if err != nil {
		h.subscriptionError(w, err, id)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// UpdateSubscription handles PUT /events/subscriptions/{id}?is_active=bool
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	isActive, err := strconv.ParseBool(r.URL.Query().Get("is_active"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "is_active query parameter is required")
		return
	}

	sub, err := h.subs.UpdateSubscriptionActive(r.Context(), id, isActive)
	if err != nil {
		h.subscriptionError(w, err, id)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /events/subscriptions/{id}
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	removed, err := h.subs.DeleteSubscription(r.Context(), id)
	if err != nil {
		h.internalError(w, err, "failed to delete subscription")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "subscription "+id.String()+" not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "subscription " + id.String() + " deleted",
	})
}

// ListEventTypes handles GET /events/event-types
func (h *Handler) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"event_types": events.Catalog()})
}

// ListEvents handles GET /events/log
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := outbox.ListFilter{
		EventType: r.URL.Query().Get("event_type"),
	}

	if raw := r.URL.Query().Get("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid processed filter")
			return
		}
		filter.Processed = &processed
	}

	var ok bool
	if filter.Limit, ok = h.limitParam(w, r); !ok {
		return
	}

	records, err := h.outbox.List(r.Context(), filter)
	if err != nil {
		h.internalError(w, err, "failed to list events")
		return
	}
	if records == nil {
		records = []models.EventRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// EventHistory handles GET /events/history/{event_type}
func (h *Handler) EventHistory(w http.ResponseWriter, r *http.Request) {
	filter := outbox.ListFilter{
		EventType: mux.Vars(r)["event_type"],
	}

	var ok bool
	if filter.Since, ok = h.timeParam(w, r, "start_time"); !ok {
		return
	}
	if filter.Until, ok = h.timeParam(w, r, "end_time"); !ok {
		return
	}
	if filter.Limit, ok = h.limitParam(w, r); !ok {
		return
	}

	records, err := h.outbox.List(r.Context(), filter)
	if err != nil {
		h.internalError(w, err, "failed to list event history")
		return
	}
	if records == nil {
		records = []models.EventRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// TriggerEvent handles POST /events/trigger/{event_type}, an ops/test utility
// that injects an event with an arbitrary payload.
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	eventType := mux.Vars(r)["event_type"]
	if !events.IsKnown(eventType) {
		writeError(w, http.StatusBadRequest, "unknown event type: "+eventType)
		return
	}

	data := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if len(data) == 0 {
		data = map[string]any{
			"message":   "Manually triggered event",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
	}

	if err := events.ValidatePayload(eventType, data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// data_collection_start also kicks a collection cycle; the collector
	// tracks the cycle and collapses overlapping kicks
	if eventType == string(events.EventTypeDataCollectionStart) && h.collector != nil {
		h.collector.TriggerRun(context.WithoutCancel(r.Context()))
	}

	if err := h.sink.Enqueue(eventType, data); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "event " + eventType + " triggered",
		"data":    data,
	})
}

// LatestVehiclePositions handles GET /vehicle-positions/latest
func (h *Handler) LatestVehiclePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.vehicles.LatestPositions(r.Context())
	if err != nil {
		h.internalError(w, err, "failed to list vehicle positions")
		return
	}
	if positions == nil {
		positions = []models.VehiclePosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// VehiclePositionsByRoute handles GET /vehicle-positions/route/{route_id}
func (h *Handler) VehiclePositionsByRoute(w http.ResponseWriter, r *http.Request) {
	positions, err := h.vehicles.ListByRoute(r.Context(), mux.Vars(r)["route_id"])
	if err != nil {
		h.internalError(w, err, "failed to list vehicle positions")
		return
	}
	if positions == nil {
		positions = []models.VehiclePosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// VehicleHistory handles GET /vehicle-positions/vehicle/{vehicle_id}
func (h *Handler) VehicleHistory(w http.ResponseWriter, r *http.Request) {
	var (
		since, until *time.Time
		limit        int
		ok           bool
	)
	if since, ok = h.timeParam(w, r, "start_time"); !ok {
		return
	}
	if until, ok = h.timeParam(w, r, "end_time"); !ok {
		return
	}
	if limit, ok = h.limitParam(w, r); !ok {
		return
	}

	positions, err := h.vehicles.History(r.Context(), mux.Vars(r)["vehicle_id"], since, until, limit)
	if err != nil {
		h.internalError(w, err, "failed to list vehicle history")
		return
	}
	if positions == nil {
		positions = []models.VehiclePosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *Handler) subscriptionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) subscriptionError(w http.ResponseWriter, err error, id uuid.UUID) {
	if errors.Is(err, subscriptions.ErrSubscriptionNotFound) {
		writeError(w, http.StatusNotFound, "subscription "+id.String()+" not found")
		return
	}
	h.internalError(w, err, "subscription operation failed")
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func (h *Handler) timeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+": expected RFC3339 timestamp")
		return nil, false
	}
	return &t, true
}

func (h *Handler) limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return 0, false
	}
	return limit, true
}
