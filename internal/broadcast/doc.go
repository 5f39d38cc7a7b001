// Package broadcast implements real-time fan-out of poll results over WebSockets.
//
// A Registry indexes live subscribers by poll. The Dispatcher pushes one
// encoded update to a snapshot of a poll's subscribers concurrently, pruning
// any subscriber whose send fails or times out. The ConnectionHandler owns
// each connection's lifecycle: it registers the subscriber, runs the read
// pump and keep-alive pings, and unregisters exactly once on disconnect.
// A Sequencer sits in front of the Dispatcher and serialises delivery per
// poll, so one poll's slow subscribers never hold up another poll.
package broadcast
