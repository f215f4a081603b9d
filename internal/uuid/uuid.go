// Package uuid issues random identifiers for purchase attempts and ledger
// records.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID in its canonical string form.
func New() string {
	return uuid.NewString()
}

// Short returns the first eight hex digits of a new id, for log correlation.
func Short() string {
	return New()[:8]
}
