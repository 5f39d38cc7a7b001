// Package app provides the application service layer.
//
// Orchestrates use cases: registration and login, poll creation and listing,
// result loading, and voting followed by exactly one published update.
// Sits between HTTP handlers and domain components; depends on interfaces, not
// concrete implementations.
package app
