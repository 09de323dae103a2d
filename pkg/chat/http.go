package chat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/smalltalk/pkg/persistence/chatstore"
)

// APIHandler exposes the room lifecycle over JSON plus the websocket attach
// point. Matching filters default to "not-specified" when the client omits
// them, same defaults as the search form.
type APIHandler struct {
	coord  *Coordinator
	store  chatstore.Store
	logger zerolog.Logger
}

func NewAPIHandler(coord *Coordinator, store chatstore.Store) *APIHandler {
	return &APIHandler{
		coord:  coord,
		store:  store,
		logger: log.With().Str("component", "chat-api").Logger(),
	}
}

// Register mounts all routes on the mux.
func (h *APIHandler) Register(mux *http.ServeMux, upgrader websocket.Upgrader) {
	mux.HandleFunc("POST /api/rooms/search", h.handleSearch)
	mux.HandleFunc("GET /api/rooms/{roomID}/messages", h.handleMessages)
	mux.HandleFunc("GET /api/rooms/{roomID}/status", h.handleStatus)
	mux.HandleFunc("POST /api/rooms/end", h.handleEnd)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("GET /ws/chat/{roomID}", NewWSHandler(h.coord, upgrader))
}

type searchRequest struct {
	Topic      string `json:"topic"`
	Attribute  string `json:"attribute"`
	LookingFor string `json:"looking_for"`
}

type searchResponse struct {
	Status string `json:"status"`
	RoomID string `json:"room_id"`
}

func (h *APIHandler) handleSearch(w http.ResponseWriter, req *http.Request) {
	var body searchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	topic := strings.TrimSpace(body.Topic)
	if topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}
	seekerAttr := normalizeAttr(body.Attribute)
	desiredAttr := normalizeAttr(body.LookingFor)

	ctx := req.Context()
	registry := h.coord.Registry()
	room, err := registry.FindWaitingRoom(ctx, topic, seekerAttr, desiredAttr)
	if err != nil {
		h.internalError(w, err, "room search failed")
		return
	}
	status := "matched"
	if room == nil {
		status = "created"
		room, err = registry.CreateRoom(ctx, topic, seekerAttr, desiredAttr)
		if err != nil {
			h.internalError(w, err, "room create failed")
			return
		}
	}
	h.logger.Info().Str("room_id", room.ID).Str("topic", topic).Str("status", status).Msg("room search")
	h.writeJSON(w, http.StatusOK, searchResponse{Status: status, RoomID: room.ID})
}

type messageDTO struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type messagesResponse struct {
	RoomID           string       `json:"room_id"`
	SecondUserJoined bool         `json:"second_user_joined"`
	Messages         []messageDTO `json:"messages"`
}

func (h *APIHandler) handleMessages(w http.ResponseWriter, req *http.Request) {
	roomID := req.PathValue("roomID")
	ctx := req.Context()

	room, err := h.coord.Registry().GetRoom(ctx, roomID)
	if err != nil {
		h.internalError(w, err, "room lookup failed")
		return
	}
	if room == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	msgs, err := h.store.ListMessages(ctx, roomID)
	if err != nil {
		h.internalError(w, err, "transcript read failed")
		return
	}
	out := messagesResponse{
		RoomID:           roomID,
		SecondUserJoined: room.SecondUserJoined,
		Messages:         make([]messageDTO, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, messageDTO{
			SessionID: m.SessionID,
			Content:   m.Content,
			Timestamp: m.Timestamp.UnixMilli(),
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) handleStatus(w http.ResponseWriter, req *http.Request) {
	roomID := req.PathValue("roomID")
	room, err := h.coord.Registry().GetRoom(req.Context(), roomID)
	if err != nil {
		h.internalError(w, err, "room lookup failed")
		return
	}
	if room == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"second_user_joined": room.SecondUserJoined})
}

type endRequest struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
}

func (h *APIHandler) handleEnd(w http.ResponseWriter, req *http.Request) {
	var body endRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.RoomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = SystemSessionID
	}
	if err := h.coord.EndChat(req.Context(), body.RoomID, sessionID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		h.internalError(w, err, "end chat failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (h *APIHandler) handleStats(w http.ResponseWriter, req *http.Request) {
	open, err := h.coord.Registry().OpenRoomCount(req.Context())
	if err != nil {
		h.internalError(w, err, "stats read failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"open_rooms": open})
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug().Err(err).Msg("response encode failed")
	}
}

func (h *APIHandler) internalError(w http.ResponseWriter, err error, msg string) {
	h.logger.Error().Err(err).Msg(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func normalizeAttr(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return AttrUnspecified
	}
	return v
}
