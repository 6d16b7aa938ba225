package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a prefixed random identifier such as "img_9f2c01ab33d08e11".
func NewID(prefix string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return prefix + "_" + hex.EncodeToString(buf)
}
