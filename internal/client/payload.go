package client

import (
	"encoding/binary"
	"math/rand"

	"github.com/idanyas/speedcheck/internal/data"
)

// GeneratePayload returns sizeMB megabytes of pseudo-random bytes.
func GeneratePayload(sizeMB int) []byte {
	if sizeMB <= 0 {
		return nil
	}
	buf := make([]byte, sizeMB*data.BytesPerMB)
	for i := 0; i+8 <= len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], rand.Uint64())
	}
	return buf
}
