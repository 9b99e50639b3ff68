// Package idgen generates the short random identifiers stamped on every
// write envelope (clientId) and sync-queue mutation (id).
package idgen

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// clientIDAlphabet is the 36 lowercase alphanumerics, look-alikes such as
// 0/o and 1/l included.
const clientIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const (
	clientIDLength   = 16
	mutationIDLength = 12
)

// NewClientID returns a per-instance identifier stamped on every write
// envelope, used to drop notifications caused by our own writes on
// receipt.
func NewClientID() string {
	id, err := gonanoid.Generate(clientIDAlphabet, clientIDLength)
	if err != nil {
		// gonanoid.Generate only errors on a malformed alphabet or a
		// non-positive length, both of which are compile-time constants
		// here, so this path is unreachable in practice.
		panic("idgen: " + err.Error())
	}
	return id
}

// NewMutationID returns a monotonically-unique-enough id for a queued
// mutation. Uniqueness, not ordering, is all SyncQueue requires since
// queue order is FIFO by append.
func NewMutationID() string {
	id, err := gonanoid.Generate(clientIDAlphabet, mutationIDLength)
	if err != nil {
		panic("idgen: " + err.Error())
	}
	return id
}
