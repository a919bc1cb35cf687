package sessions

import (
	"context"
	"errors"
)

// ErrUnknownEventID is returned by Subscribe when lastEventID is not in the
// session's log.
var ErrUnknownEventID = errors.New("last event id not found")

// ErrUnknownSession is returned by Publish and Subscribe for a session that
// was never opened or has been cleaned up.
var ErrUnknownSession = errors.New("session stream not open")

// MessageHandlerFunc receives one published message. Returning an error ends
// the subscription with that error.
type MessageHandlerFunc func(ctx context.Context, eventID string, data []byte) error

// StreamHost is an ordered per-session message log.
type StreamHost interface {
	// Open creates the session's log. Publish and Subscribe on a session that
	// is not open fail with ErrUnknownSession.
	Open(ctx context.Context, sessionID string) error
	// Publish appends data to the session's log and returns its event ID.
	Publish(ctx context.Context, sessionID string, data []byte) (eventID string, err error)
	// Subscribe delivers messages after lastEventID (or only future messages
	// when lastEventID is empty) until ctx ends, the handler fails, or the
	// session is cleaned up. Cleanup ends it with a nil error.
	Subscribe(ctx context.Context, sessionID, lastEventID string, handler MessageHandlerFunc) error
	// Cleanup discards the session's log and stops its subscribers.
	Cleanup(ctx context.Context, sessionID string) error
}
