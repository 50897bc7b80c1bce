package hub

import "errors"

var (
	errReceiverRequired = errors.New("receiver_id is required")
	errSelfMessage      = errors.New("cannot send a message to yourself")
	errEmptyMessage     = errors.New("message cannot be empty")
	errMessageTooLong   = errors.New("message exceeds maximum length")
)
