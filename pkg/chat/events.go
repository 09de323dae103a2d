package chat

import "encoding/json"

// Inbound client payload. Action selects the handling path; an empty action
// means ordinary chat content.
type ClientPayload struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
	RoomID  string `json:"room_id"`
}

const (
	ActionEndChat = "end_chat"
	ActionTyping  = "typing"
)

// Outbound event envelope, mirrored by the browser client.
type Event struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
}

const (
	EventReconnect        = "reconnect"
	EventSecondUserJoined = "second_user_joined"
	EventTyping           = "typing"
	EventEndChat          = "end_chat"
	EventChatMessage      = "chat_message"
	// EventRedirect tells a rejected client to leave the room page. Sent on
	// the rejection paths only, before the close frame.
	EventRedirect = "redirect"
)

// SystemSessionID marks coordinator-originated events such as the end_chat
// sent when a grace period expires.
const SystemSessionID = "system"

func (e Event) marshal() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		// Event has only string fields; Marshal cannot fail on it.
		return nil
	}
	return b
}
