// Package redishost implements sessions.StreamHost with Redis Streams so an
// SSE stream opened on one replica can be resumed on another.
//
// Design Notes
//   - Each session is one stream key: XADD to publish, blocking XREAD to subscribe
//   - Event IDs are Redis stream IDs, so Last-Event-ID resume maps to XREAD start
//   - Streams are trimmed with approximate MAXLEN and expire after StreamTTL idle
//   - Cleanup deletes the stream and writes a tombstone that ends subscribers
//
// Example:
//
//	host, err := redishost.New(redishost.Config{RedisAddr: "localhost:6379"})
//	defer host.Close()
package redishost
