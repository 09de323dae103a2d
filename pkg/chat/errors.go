package chat

import "github.com/pkg/errors"

// Rejection and failure taxonomy for the coordinator. Connect-time errors
// map onto the transport reject paths; ErrStoreUnavailable wraps shared
// store I/O failures and is never treated as "room empty".
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrStoreUnavailable = errors.New("shared state store unavailable")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// storeErr folds a store I/O failure into ErrStoreUnavailable so callers can
// test with errors.Is while keeping the underlying cause in the message.
func storeErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrStoreUnavailable, "%s: %v", msg, err)
}
