package chat

// Close codes shared between the coordinator and its transports.
// CloseRejected is the reserved application-level rejection code: a
// disconnect with this code must not run the ordinary teardown path, since
// the rejecting side never admitted the connection into the room.
const (
	CloseNormal   = 1000
	CloseRejected = 4000
)

// Conn is the transport handle the coordinator drives. The websocket
// adapter in ws.go is the production implementation; tests substitute
// in-memory fakes.
type Conn interface {
	// ID is unique per transport connection (not per session).
	ID() string
	Send(data []byte) error
	Close(code int, reason string) error
	RemoteAddr() string
}
