// Package sessions defines the public vocabulary shared by the session
// transport and its stream hosts: the session lifecycle states and the
// StreamHost contract that carries server-to-client messages for a session.
//
// A StreamHost is an ordered, per-session message log with resume by event
// ID. The in-memory host (memoryhost) serves a single process; the Redis
// host (redishost) lets a standalone SSE stream be resumed on any replica
// that shares the same Redis.
//
// Implementations are validated by the shared suite in sessionhosttest.
package sessions
