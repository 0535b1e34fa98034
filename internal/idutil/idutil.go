package idutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var seq atomic.Uint64

// ExchangeID generates a stable short ID for an intercepted exchange.
// Format: exch_XXXXXXXX (13 chars total)
func ExchangeID(url string) string {
	return hashID("exch", fmt.Sprintf("%s:%d:%d", url, time.Now().UnixNano(), seq.Add(1)))
}

// CallID generates an ID for a bus round trip.
// Format: call_XXXXXXXX
func CallID(action string) string {
	return hashID("call", fmt.Sprintf("%s:%d:%d", action, time.Now().UnixNano(), seq.Add(1)))
}

// hashID creates a short hash-based ID with the given prefix.
// Format: {prefix}_{first 8 hex chars of SHA256}
func hashID(prefix, data string) string {
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(hash[:])[:8])
}

// IsValidID checks if an ID matches the expected prefix format.
func IsValidID(id, prefix string) bool {
	if len(id) < len(prefix)+1 {
		return false
	}
	return id[:len(prefix)] == prefix && id[len(prefix)] == '_'
}
