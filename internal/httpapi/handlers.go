package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shiptrack/internal/hub"
	"shiptrack/internal/ingestion"
	"shiptrack/internal/repository"
	"shiptrack/internal/shipment"
	"shiptrack/pkg/apperror"
)

var errRateLimited = apperror.New(apperror.CodeOverload, "rate limit exceeded")

// API bundles the collaborators the HTTP surface dispatches into.
// It holds no state of its own beyond them.
type API struct {
	repo repository.Repository
	pool *shipment.Pool
	gw   *ingestion.Gateway
	hub  *hub.Hub
}

// New builds an API over the already-constructed tracking engine
// collaborators.
func New(repo repository.Repository, pool *shipment.Pool, gw *ingestion.Gateway, h *hub.Hub) *API {
	return &API{repo: repo, pool: pool, gw: gw, hub: h}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// errorResponse is the wire shape of a rejected request, mirroring
// apperror.Error's fields.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	resp := errorResponse{Code: "INTERNAL_ERROR", Message: err.Error()}
	if appErr, ok := err.(*apperror.Error); ok {
		resp.Code = string(appErr.Code)
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	}
	writeJSON(w, status, resp)
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		return uuid.UUID{}, apperror.NewWithField(apperror.CodeInvalidInput, "path parameter is not a valid id", key).WithCause(err)
	}
	return id, nil
}

// IngestPosition handles POST /v1/positions.
func (a *API) IngestPosition(w http.ResponseWriter, r *http.Request) {
	var payload ingestion.PositionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperror.New(apperror.CodeInvalidInput, "malformed position payload").WithCause(err))
		return
	}
	if err := a.gw.Ingest(r.Context(), payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

// GetShipment handles GET /v1/shipments/{reference}.
func (a *API) GetShipment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	sh, err := a.repo.GetShipmentByReference(r.Context(), reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// ProposeReroute handles POST /v1/shipments/{id}/reroutes.
func (a *API) ProposeReroute(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	actor, err := a.pool.Ensure(r.Context(), shipmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	rr, err := actor.ProposeReroute(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rr == nil {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusCreated, rr)
}

// AcceptReroute handles POST /v1/reroutes/{id}/accept.
func (a *API) AcceptReroute(w http.ResponseWriter, r *http.Request) {
	rerouteID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rr, err := a.repo.GetReroute(r.Context(), rerouteID)
	if err != nil {
		writeError(w, err)
		return
	}
	actor, err := a.pool.Ensure(r.Context(), rr.ShipmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := actor.AcceptReroute(r.Context(), rerouteID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// RejectReroute handles POST /v1/reroutes/{id}/reject.
func (a *API) RejectReroute(w http.ResponseWriter, r *http.Request) {
	rerouteID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rr, err := a.repo.GetReroute(r.Context(), rerouteID)
	if err != nil {
		writeError(w, err)
		return
	}
	actor, err := a.pool.Ensure(r.Context(), rr.ShipmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := actor.RejectReroute(r.Context(), rerouteID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// StreamShipment handles GET /v1/shipments/{id}/stream, an SSE feed of
// the subscription hub's fan-out for one shipment (spec.md §4.11's
// implicit subscribe on connect).
func (a *API) StreamShipment(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperror.New(apperror.CodeUnimplemented, "streaming is not supported by this transport"))
		return
	}

	sess := a.hub.Subscribe(shipmentID)
	defer a.hub.Unsubscribe(shipmentID, sess.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case msg := <-sess.C():
			if msg.Lagged > 0 {
				fmt.Fprintf(w, "event: lagged\ndata: {\"lagged\":%d}\n\n", msg.Lagged)
				flusher.Flush()
				continue
			}
			body, err := json.Marshal(msg.Event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event.Kind, body)
			flusher.Flush()
		}
	}
}
