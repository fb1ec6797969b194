// Package roomapi exposes room creation, inspection and deletion over HTTP.
package roomapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/rooms"
)

const (
	maxBodyBytes = 16 * 1024
	// maxTTLMinutes is 30 days.
	maxTTLMinutes = 30 * 24 * 60
)

// Store is the part of rooms.Store the API needs.
type Store interface {
	Create(participantA, participantB string, ttl time.Duration) (rooms.CreateResult, error)
	Describe(id string) (rooms.Info, error)
	Delete(id string) error
}

type Handler struct {
	store Store
	log   *slog.Logger
}

func New(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, log: logger}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.create)
	mux.HandleFunc("GET /api/rooms/{roomID}", h.describe)
	mux.HandleFunc("DELETE /api/rooms/{roomID}", h.delete)
	mux.HandleFunc("GET /rooms/{roomID}", redirectToRoomPage)
}

type createRequest struct {
	Caller     string `json:"caller"`
	Callee     string `json:"callee"`
	TTLMinutes int    `json:"ttlMinutes"`
}

type createResponse struct {
	RoomID    string     `json:"roomId"`
	CallerURL string     `json:"callerUrl"`
	CalleeURL string     `json:"calleeUrl"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type roomResponse struct {
	RoomID       string     `json:"roomId"`
	Participants []string   `json:"participants"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Connected    int        `json:"connected"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	if req.TTLMinutes < 0 || req.TTLMinutes > maxTTLMinutes {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_input",
			fmt.Sprintf("ttlMinutes must be between 0 and %d", maxTTLMinutes))
		return
	}

	res, err := h.store.Create(req.Caller, req.Callee, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		if errors.Is(err, rooms.ErrInvalidInput) {
			httpserver.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		h.log.Error("failed to create room", "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal", "failed to create room")
		return
	}

	resp := createResponse{
		RoomID:    res.RoomID,
		CallerURL: res.CallerURL,
		CalleeURL: res.CalleeURL,
	}
	if !res.ExpiresAt.IsZero() {
		t := res.ExpiresAt.UTC()
		resp.ExpiresAt = &t
	}
	w.Header().Set("Location", "/api/rooms/"+url.PathEscape(res.RoomID))
	httpserver.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) describe(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.Describe(r.PathValue("roomID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := roomResponse{
		RoomID:       info.RoomID,
		Participants: info.Participants,
		Connected:    info.Connected,
	}
	if resp.Participants == nil {
		resp.Participants = []string{}
	}
	if !info.ExpiresAt.IsZero() {
		t := info.ExpiresAt.UTC()
		resp.ExpiresAt = &t
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("roomID")
	if err := h.store.Delete(id); err != nil {
		writeStoreError(w, err)
		return
	}
	h.log.Info("room deleted via api", "room_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, rooms.ErrNotFound) {
		httpserver.WriteError(w, http.StatusNotFound, "not_found", "room not found or expired")
		return
	}
	httpserver.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
}

// redirectToRoomPage sends legacy /rooms/{id} links to the page served at
// /room/{id}, keeping the query string (and so the token).
func redirectToRoomPage(w http.ResponseWriter, r *http.Request) {
	target := "/room/" + url.PathEscape(r.PathValue("roomID"))
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}
