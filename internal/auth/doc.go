// Package auth issues and verifies bearer tokens and manages password accounts.
package auth
