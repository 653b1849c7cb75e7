package chatclient

import (
	"errors"
	"fmt"
)

var (
	// ErrResolutionTimeout means no conversationExists/Created reply
	// arrived inside the wait window. The client recovers locally: the
	// user may compose the first message, which triggers creation.
	ErrResolutionTimeout = errors.New("chatclient: conversation resolution timed out")

	// ErrAttachmentTooLarge is the local pre-send rejection of an
	// oversized file. It never reaches the pipeline or the network.
	ErrAttachmentTooLarge = errors.New("chatclient: attachment exceeds 10 MB limit")

	// ErrEmptyPayload rejects a send carrying neither text nor a file.
	ErrEmptyPayload = errors.New("chatclient: message payload is empty")

	// ErrNotConnected is returned when an emit is attempted with no
	// live connection.
	ErrNotConnected = errors.New("chatclient: transport not connected")
)

// SendFailure wraps a transport emit error. By the time the caller
// sees it, the provisional message and its pending key have already
// been rolled back.
type SendFailure struct {
	Err error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("chatclient: send failed: %v", e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }
