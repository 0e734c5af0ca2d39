package id

import "github.com/google/uuid"

// New returns a random UUIDv4 string for benchmark runs.
func New() string {
	return uuid.NewString()
}
