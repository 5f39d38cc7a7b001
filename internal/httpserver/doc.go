// Package httpserver exposes the poll API, the live results WebSocket and the
// operational endpoints over Echo.
package httpserver
