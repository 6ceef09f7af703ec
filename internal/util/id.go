package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idEntropyBytes = 16

// NewID returns a random hex identifier, namespaced with prefix ("usr",
// "log") when one is given.
func NewID(prefix string) string {
	raw := make([]byte, idEntropyBytes)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix != "" {
		id = prefix + "_" + id
	}
	return id
}
