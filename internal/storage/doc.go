// Package storage keeps an optional audit trail of chat sessions: who joined,
// when they left, and why. Message text is never stored.
package storage
