// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/costboard/gateway/internal/auth"
	"github.com/costboard/gateway/internal/config"
	"github.com/costboard/gateway/internal/gateway"
	"github.com/costboard/gateway/internal/logging"
	"github.com/costboard/gateway/internal/metrics"
	"github.com/costboard/gateway/internal/validation"
	ws "github.com/costboard/gateway/internal/websocket"
)

// Handler bundles the HTTP surface: WebSocket handshakes, presence queries,
// the internal deliver endpoint and health reporting.
type Handler struct {
	gw       *gateway.Gateway
	cfg      *config.Config
	upgrader gorilla.Upgrader
	started  time.Time
	log      zerolog.Logger
}

// NewHandler wires the handler to a gateway instance.
func NewHandler(gw *gateway.Gateway, cfg *config.Config) *Handler {
	h := &Handler{
		gw:      gw,
		cfg:     cfg,
		started: time.Now(),
		log:     logging.WithComponent("api"),
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin enforces the configured CORS origins on WebSocket upgrades.
// Requests without an Origin header (non-browser clients) are allowed; the
// bearer token is the actual authentication.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// Same-origin upgrades are always fine.
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return false
}

// WebSocketChat upgrades a chat-channel connection. Authentication already
// happened in middleware; a missing identity here is a wiring bug.
func (h *Handler) WebSocketChat(w http.ResponseWriter, r *http.Request) {
	h.serveWebSocket(w, r, gateway.EndpointChat)
}

// WebSocketNotifications upgrades a notifications-channel connection.
func (h *Handler) WebSocketNotifications(w http.ResponseWriter, r *http.Request) {
	h.serveWebSocket(w, r, gateway.EndpointNotifications)
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request, endpoint string) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		// The auth middleware guarantees an identity on this route; its
		// absence means the handler was mounted without it.
		NewResponseWriter(w, r).InternalError("no identity on websocket request")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		metrics.WSErrors.WithLabelValues("upgrade").Inc()
		h.log.Warn().Err(err).Str("endpoint", endpoint).Msg("websocket upgrade failed")
		return
	}

	ws.NewClient(h.gw, conn, identity, endpoint, ws.Config{
		SendBuffer:  h.cfg.Gateway.SendBuffer,
		ReadLimit:   h.cfg.Gateway.ReadLimit,
		TypingRate:  h.cfg.Gateway.TypingRate,
		TypingBurst: h.cfg.Gateway.TypingBurst,
	}).Start()
}

// healthData is the health endpoint body.
type healthData struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Gateway gateway.Stats `json:"gateway"`
}

// Health reports overall gateway health with live stats.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(healthData{
		Status:  "ok",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Gateway: h.gw.Stats(),
	})
}

// HealthLive is the liveness probe: the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe. The gateway holds no external
// dependencies, so readiness equals liveness plus dispatch queue headroom:
// a saturated queue means Deliver calls are being rejected and the
// orchestrator should stop routing traffic here until it drains.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	stats := h.gw.Stats()
	if stats.QueueDepth >= stats.QueueCapacity {
		NewResponseWriter(w, r).ServiceUnavailable("dispatch queue is saturated")
		return
	}
	NewResponseWriter(w, r).Success(map[string]any{
		"status":     "ready",
		"queueDepth": stats.QueueDepth,
	})
}

// roomPresenceData is the body of per-room presence queries.
type roomPresenceData struct {
	Room        string   `json:"room"`
	OnlineUsers []string `json:"onlineUsers"`
}

// PresenceRoom returns the current member list of a room.
// GET /api/v1/presence/rooms/{kind}/{id}
func (h *Handler) PresenceRoom(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	kind, err := gateway.ParseRoomKind(chi.URLParam(r, "kind"))
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	key := gateway.RoomKey{Kind: kind, ID: chi.URLParam(r, "id")}
	if err := key.Validate(); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	members := h.gw.MembersOf(key)
	if members == nil {
		members = []string{}
	}
	rw.Success(roomPresenceData{Room: key.String(), OnlineUsers: members})
}

// PresenceUsers returns every user with at least one open connection.
// GET /api/v1/presence/users
func (h *Handler) PresenceUsers(w http.ResponseWriter, r *http.Request) {
	users := h.gw.OnlineUsers()
	if users == nil {
		users = []string{}
	}
	NewResponseWriter(w, r).Success(map[string]any{
		"onlineUsers": users,
		"count":       len(users),
	})
}

// PresenceUser reports a single user's online state.
// GET /api/v1/presence/users/{id}
func (h *Handler) PresenceUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	NewResponseWriter(w, r).Success(map[string]any{
		"userId":      userID,
		"online":      h.gw.IsOnline(userID),
		"connections": len(h.gw.ConnectionsOf(userID)),
	})
}

// deliverRequest is the body of the internal deliver endpoint. The business
// layer persists the record first, then posts it here for best-effort push.
type deliverRequest struct {
	Target struct {
		Room *struct {
			Kind string `json:"kind"`
			ID   string `json:"id"`
		} `json:"room,omitempty"`
		User string `json:"user,omitempty"`
	} `json:"target"`
	Event   string          `json:"event" validate:"required,oneof=new_message message_update notification notification_update"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// deliverRoles may call the internal deliver endpoint.
var deliverRoles = map[string]bool{
	"ADMIN":   true,
	"SERVICE": true,
}

// Deliver accepts a persisted domain event for fan-out.
// POST /api/v1/deliver
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		rw.Unauthorized("authentication required")
		return
	}
	if !deliverRoles[identity.Role] {
		rw.Forbidden("deliver is restricted to service credentials")
		return
	}

	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed request body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ErrorWithDetails(http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	var target gateway.Target
	if req.Target.Room != nil {
		kind, err := gateway.ParseRoomKind(req.Target.Room.Kind)
		if err != nil {
			rw.BadRequest(err.Error())
			return
		}
		target = gateway.RoomTarget(gateway.RoomKey{Kind: kind, ID: req.Target.Room.ID})
	} else {
		target = gateway.UserTarget(req.Target.User)
	}

	payload, err := decodePayload(req.Event, req.Payload)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if verr := validation.ValidateStruct(payload); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ErrorWithDetails(http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	if err := h.gw.Deliver(target, payload.(gateway.Payload)); err != nil {
		if errors.Is(err, gateway.ErrQueueFull) {
			rw.Error(http.StatusServiceUnavailable, ErrCodeQueueFull, "dispatch queue is full, retry later")
			return
		}
		rw.BadRequest(err.Error())
		return
	}

	rw.Accepted(map[string]string{"status": "accepted"})
}

// decodePayload maps the event tag to its concrete payload variant.
func decodePayload(event string, raw json.RawMessage) (any, error) {
	var (
		payload any
		err     error
	)
	switch event {
	case "new_message":
		var p gateway.ChatMessage
		err = json.Unmarshal(raw, &p)
		payload = &p
	case "message_update":
		var p gateway.MessageUpdate
		err = json.Unmarshal(raw, &p)
		payload = &p
	case "notification":
		var p gateway.Notification
		err = json.Unmarshal(raw, &p)
		payload = &p
	case "notification_update":
		var p gateway.NotificationUpdate
		err = json.Unmarshal(raw, &p)
		payload = &p
	default:
		return nil, errors.New("unknown event type " + event)
	}
	if err != nil {
		return nil, errors.New("malformed payload for event " + event)
	}
	return payload, nil
}
