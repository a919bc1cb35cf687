// Package memoryhost provides an in-memory sessions.StreamHost suitable for
// tests, development and single-replica servers. State is discarded on
// process exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Ordering          : monotonic decimal event IDs
//	Replay window     : last DefaultMaxMessages per session
//
// Example:
//
//	host := memoryhost.New(memoryhost.WithMaxMessages(256))
package memoryhost
