// Package redis carries poll updates between server instances.
//
// A Relay publishes each committed vote outcome to a per-poll Redis channel and
// pattern-subscribes to all of them, handing every received update to the local
// broadcast dispatcher. Publishing is guarded by a circuit breaker and degrades
// to local fan-out when Redis is unavailable.
package redis
