package memoryhost

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/NEARWEEK/MCP/sessions"
)

// DefaultMaxMessages bounds each session's replay log.
const DefaultMaxMessages = 1024

// Option configures a Host.
type Option func(*Host)

// WithMaxMessages sets how many messages each session retains for resume.
func WithMaxMessages(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.maxMessages = n
		}
	}
}

// Host is an in-memory implementation of sessions.StreamHost.
type Host struct {
	mu          sync.Mutex
	sessions    map[string]*sessionLog
	counter     atomic.Int64
	maxMessages int
}

type sessionLog struct {
	mu       sync.Mutex
	messages []message
	// changed is closed and replaced on every publish.
	changed chan struct{}
	closed  chan struct{}
}

type message struct {
	seq  int64
	data []byte
}

func New(opts ...Option) *Host {
	h := &Host{sessions: make(map[string]*sessionLog), maxMessages: DefaultMaxMessages}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sl, ok := h.lookup(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: %s", sessions.ErrUnknownSession, sessionID)
	}
	seq := h.counter.Add(1)

	sl.mu.Lock()
	sl.messages = append(sl.messages, message{seq: seq, data: append([]byte(nil), data...)})
	if over := len(sl.messages) - h.maxMessages; over > 0 {
		sl.messages = append(sl.messages[:0:0], sl.messages[over:]...)
	}
	close(sl.changed)
	sl.changed = make(chan struct{})
	sl.mu.Unlock()

	return strconv.FormatInt(seq, 10), nil
}

func (h *Host) Subscribe(ctx context.Context, sessionID, lastEventID string, handler sessions.MessageHandlerFunc) error {
	sl, ok := h.lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", sessions.ErrUnknownSession, sessionID)
	}

	sl.mu.Lock()
	var cursor int64
	if lastEventID == "" {
		if n := len(sl.messages); n > 0 {
			cursor = sl.messages[n-1].seq
		} else {
			cursor = h.counter.Load()
		}
	} else {
		seq, err := strconv.ParseInt(lastEventID, 10, 64)
		if err != nil || !sl.containsLocked(seq) {
			sl.mu.Unlock()
			return fmt.Errorf("%w: %s", sessions.ErrUnknownEventID, lastEventID)
		}
		cursor = seq
	}
	sl.mu.Unlock()

	for {
		sl.mu.Lock()
		var pending []message
		for _, m := range sl.messages {
			if m.seq > cursor {
				pending = append(pending, m)
			}
		}
		changed, closed := sl.changed, sl.closed
		sl.mu.Unlock()

		for _, m := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := handler(ctx, strconv.FormatInt(m.seq, 10), m.data); err != nil {
				return err
			}
			cursor = m.seq
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return nil
		case <-changed:
		}
	}
}

func (h *Host) Cleanup(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	sl, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	if ok {
		close(sl.closed)
	}
	return nil
}

// Open is idempotent for a live session.
func (h *Host) Open(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = &sessionLog{changed: make(chan struct{}), closed: make(chan struct{})}
	}
	return nil
}

func (h *Host) lookup(sessionID string) (*sessionLog, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sl, ok := h.sessions[sessionID]
	return sl, ok
}

// Len reports how many session logs are held.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (sl *sessionLog) containsLocked(seq int64) bool {
	for _, m := range sl.messages {
		if m.seq == seq {
			return true
		}
	}
	return false
}

var _ sessions.StreamHost = (*Host)(nil)
